// Package inbound is the runtime-registrable HTTP surface for external
// webhook sources. Endpoints are late-bound under one wildcard mount, so new
// integrations can be installed while the server is running.
package inbound

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	httperr "github.com/hookline-lab/project-hookline/internal/core/errors"
	"github.com/hookline-lab/project-hookline/internal/outbox"
)

const (
	defaultSignatureHeader = "X-Hub-Signature-256"
	defaultChallengeParam  = "challenge"
)

// EventDispatcher is the single way normalized events leave this package.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt *v1.Event) error
}

// Normalizer converts a raw, already-verified payload into the canonical
// event envelope.
type Normalizer func(body []byte) (*v1.Event, error)

// VerifyConfig describes how an endpoint authenticates inbound requests.
// An empty Secret disables verification (for sources signed at the network
// layer instead).
type VerifyConfig struct {
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	ChallengeParam  string `yaml:"challenge_param"`
}

type endpoint struct {
	path          string
	normalizerKey string
	verify        VerifyConfig
}

// Framework owns the dynamic route table. Registration and request handling
// run concurrently, so the table sits behind an RWMutex; the hot path only
// takes read locks.
type Framework struct {
	dispatcher   EventDispatcher
	maxBodyBytes int64

	mu          sync.RWMutex
	normalizers map[string]Normalizer
	endpoints   map[string]endpoint
}

// New creates an inbound framework feeding the given dispatcher.
func New(dispatcher EventDispatcher, maxBodySizeMB int) *Framework {
	if dispatcher == nil {
		panic("inbound: dispatcher must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Framework{
		dispatcher:   dispatcher,
		maxBodyBytes: int64(maxBodySizeMB) * 1024 * 1024,
		normalizers:  make(map[string]Normalizer),
		endpoints:    make(map[string]endpoint),
	}
}

// RegisterNormalizer installs a named payload normalizer. Adapters register
// their normalizers at startup, before endpoints reference them.
func (f *Framework) RegisterNormalizer(key string, fn Normalizer) error {
	if key == "" {
		return fmt.Errorf("normalizer key must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("normalizer %q: function must not be nil", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.normalizers[key]; exists {
		return fmt.Errorf("normalizer %q already registered", key)
	}
	f.normalizers[key] = fn
	return nil
}

// Register installs an endpoint at path: a GET verification-challenge route
// and a POST ingestion route. Path collisions and unknown normalizer keys
// are rejected at registration time, not discovered on first delivery.
func (f *Framework) Register(path, normalizerKey string, verify VerifyConfig) error {
	cleaned := cleanPath(path)
	if cleaned == "" {
		return fmt.Errorf("endpoint path must not be empty")
	}

	if verify.SignatureHeader == "" {
		verify.SignatureHeader = defaultSignatureHeader
	}
	if verify.ChallengeParam == "" {
		verify.ChallengeParam = defaultChallengeParam
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.endpoints[cleaned]; exists {
		return fmt.Errorf("endpoint path %q already registered", cleaned)
	}
	if _, ok := f.normalizers[normalizerKey]; !ok {
		return fmt.Errorf("endpoint path %q references unknown normalizer %q", cleaned, normalizerKey)
	}

	f.endpoints[cleaned] = endpoint{
		path:          cleaned,
		normalizerKey: normalizerKey,
		verify:        verify,
	}

	slog.Info("[Inbound] Endpoint registered",
		"path", cleaned,
		"normalizer", normalizerKey,
		"verified", verify.Secret != "")
	return nil
}

// RegisterRoutes mounts the wildcard route pair. Called once at startup;
// endpoint registration after this point needs no further router changes.
func (f *Framework) RegisterRoutes(r gin.IRouter) {
	r.GET("/hooks/*endpoint", f.ChallengeHandler)
	r.POST("/hooks/*endpoint", f.IngestHandler)
}

func (f *Framework) lookup(c *gin.Context) (endpoint, bool) {
	path := cleanPath(c.Param("endpoint"))

	f.mu.RLock()
	defer f.mu.RUnlock()

	ep, ok := f.endpoints[path]
	return ep, ok
}

// ChallengeHandler answers provider handshakes by echoing the configured
// challenge query parameter.
func (f *Framework) ChallengeHandler(c *gin.Context) {
	ep, ok := f.lookup(c)
	if !ok {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownEndpoint,
			Message:   "no endpoint registered at this path",
		})
		return
	}

	c.String(http.StatusOK, c.Query(ep.verify.ChallengeParam))
}

// IngestHandler authenticates, normalizes and dispatches one inbound payload.
//
// The raw body is read exactly once; signature verification runs against the
// raw bytes before any parsing, and parsing reuses those same bytes rather
// than re-reading the stream.
func (f *Framework) IngestHandler(c *gin.Context) {
	ep, ok := f.lookup(c)
	if !ok {
		c.JSON(http.StatusNotFound, httperr.ErrorResponse{
			ErrorType: httperr.HttpUnknownEndpoint,
			Message:   "no endpoint registered at this path",
		})
		return
	}

	body, ok := f.readBody(c)
	if !ok {
		return
	}

	if ep.verify.Secret != "" {
		presented := c.GetHeader(ep.verify.SignatureHeader)
		if presented == "" || !outbox.VerifySignature(ep.verify.Secret, body, presented) {
			slog.Warn("[Inbound] Signature verification failed",
				"path", ep.path,
				"signature_present", presented != "")
			c.JSON(http.StatusUnauthorized, httperr.ErrorResponse{
				ErrorType: httperr.HttpUnauthorizedError,
				Message:   "signature verification failed",
			})
			return
		}
	}

	if err := f.normalizeAndDispatch(c.Request.Context(), ep, body); err != nil {
		slog.Error("[Inbound] Failed to process inbound payload",
			"path", ep.path,
			"normalizer", ep.normalizerKey,
			"error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpNormalizationFailed,
			Message:   "failed to process payload",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// readBody reads the request body once, bounded by the configured maximum.
func (f *Framework) readBody(c *gin.Context) ([]byte, bool) {
	limitedBody := io.LimitReader(c.Request.Body, f.maxBodyBytes+1) // +1 to detect oversized requests

	body, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Inbound] Failed to read request body", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "failed to read request body",
		})
		return nil, false
	}

	if int64(len(body)) > f.maxBodyBytes {
		slog.Warn("[Inbound] Request body exceeds maximum size",
			"size", len(body), "max", f.maxBodyBytes)
		c.JSON(http.StatusRequestEntityTooLarge, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "request body exceeds maximum allowed size",
		})
		return nil, false
	}

	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}

// normalizeAndDispatch contains normalizer panics so a misbehaving
// integration cannot crash the endpoint process.
func (f *Framework) normalizeAndDispatch(ctx context.Context, ep endpoint, body []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("normalizer panicked: %v\n%s", rec, debug.Stack())
		}
	}()

	f.mu.RLock()
	normalize := f.normalizers[ep.normalizerKey]
	f.mu.RUnlock()

	evt, err := normalize(body)
	if err != nil {
		return fmt.Errorf("normalizing payload: %w", err)
	}

	if err := f.dispatcher.Dispatch(ctx, evt); err != nil {
		return fmt.Errorf("dispatching normalized event: %w", err)
	}
	return nil
}

// cleanPath strips surrounding slashes so "/github", "github" and "github/"
// all address the same endpoint.
func cleanPath(path string) string {
	return strings.Trim(path, "/")
}
