// Package outbox delivers durable webhook rows to their external HTTP
// targets: claim, sign, send, retry with backoff, dead-letter on exhaustion.
package outbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/hookline-lab/project-hookline/internal/core/storage"
	"golang.org/x/sync/errgroup"
)

// errorBodyLimit bounds how much of a failure response body is kept as
// last_error detail.
const errorBodyLimit = 512

// WorkerOptions configures the delivery loop.
type WorkerOptions struct {
	// PollInterval is the pause between claim cycles when the queue is idle.
	PollInterval time.Duration
	// BatchSize is the maximum rows claimed per cycle.
	BatchSize int
	// MaxAttempts is the transient-failure ceiling before dead-lettering.
	MaxAttempts int
	// HTTPTimeout bounds each outbound POST. A timeout retries like a 5xx.
	HTTPTimeout time.Duration
	// LockTimeout is how long a claim lock holds before another worker may
	// reclaim the row (crash recovery).
	LockTimeout time.Duration
	// MaxConcurrent bounds in-flight deliveries within one batch.
	MaxConcurrent int
	// ErrorPause is the sleep after a storage failure in the loop.
	ErrorPause time.Duration
}

func (o WorkerOptions) normalized() WorkerOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 10 * time.Second
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Minute
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 8
	}
	if o.ErrorPause <= 0 {
		o.ErrorPause = 5 * time.Second
	}
	return o
}

// Worker is the long-lived delivery loop. One per process; rows are claimed
// with a conditional locked_at update, so running more workers against the
// same store stays safe.
type Worker struct {
	store  storage.OutboxStore
	client *http.Client
	opts   WorkerOptions
	now    func() time.Time
}

// NewWorker creates a delivery worker over the outbox store.
func NewWorker(store storage.OutboxStore, opts WorkerOptions) *Worker {
	opts = opts.normalized()
	return &Worker{
		store:  store,
		client: &http.Client{Timeout: opts.HTTPTimeout},
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the delivery loop until the context is cancelled. A storage
// failure is logged and followed by a bounded pause; the loop itself never
// terminates on error, because nothing restarts it within the process.
func (w *Worker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	slog.Info("[Worker] Starting delivery worker",
		"poll_interval", w.opts.PollInterval,
		"batch_size", w.opts.BatchSize,
		"max_attempts", w.opts.MaxAttempts,
		"http_timeout", w.opts.HTTPTimeout)

	// Initial drain catches up with rows left over from a previous run.
	w.drainBacklog(ctx)

	for {
		select {
		case <-ticker.C:
			w.drainBacklog(ctx)
		case <-ctx.Done():
			slog.Info("[Worker] Stopping (context cancelled)")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			slog.Info("[Worker] Running final drain before shutdown...")
			w.drainBacklog(shutdownCtx)
			slog.Info("[Worker] Final drain complete")

			return nil
		}
	}
}

// drainBacklog processes due rows batch by batch until fewer than a full
// batch comes back. Storage errors pause the drain instead of killing it.
func (w *Worker) drainBacklog(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.processBatch(ctx)
		if err != nil {
			slog.Error("[Worker] Batch failed, pausing before retry",
				"error", err,
				"pause", w.opts.ErrorPause)
			select {
			case <-time.After(w.opts.ErrorPause):
			case <-ctx.Done():
			}
			return
		}

		if processed < w.opts.BatchSize {
			return
		}
	}
}

// processBatch claims one batch of due rows and delivers them concurrently,
// bounded by MaxConcurrent. Returns the number of rows claimed.
func (w *Worker) processBatch(ctx context.Context) (int, error) {
	claimed, err := w.store.ClaimDueDeliveries(ctx, w.now(), w.opts.BatchSize, w.opts.LockTimeout)
	if err != nil {
		return 0, fmt.Errorf("claiming deliveries: %w", err)
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.MaxConcurrent)

	for _, d := range claimed {
		g.Go(func() error {
			w.deliver(gctx, d)
			return nil
		})
	}
	// deliver never returns an error; delivery failures are recorded per row.
	_ = g.Wait()

	return len(claimed), nil
}

// outcome classifies one delivery attempt.
type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeRejected          // 4xx, permanent
	outcomeTransient         // 5xx, timeout, connection failure
)

// deliver makes one attempt against the row's target and records the state
// transition. Recording failures are logged; the row's lock will expire and
// the attempt repeats, which at-least-once delivery permits.
func (w *Worker) deliver(ctx context.Context, d *v1.Delivery) {
	result, detail := w.attempt(ctx, d)

	var err error
	switch result {
	case outcomeDelivered:
		// attempt_count keeps the number of failed attempts that preceded
		// the success.
		err = w.store.MarkDelivered(ctx, d.ID, d.AttemptCount, w.now())
		slog.Info("[Worker] Delivered",
			"delivery_id", d.ID,
			"contract_id", d.ContractID,
			"attempts_before_success", d.AttemptCount)

	case outcomeRejected:
		err = w.store.MarkRejected(ctx, d.ID, d.AttemptCount+1, detail)
		slog.Warn("[Worker] Delivery rejected by target",
			"delivery_id", d.ID,
			"contract_id", d.ContractID,
			"detail", detail)

	case outcomeTransient:
		newCount := d.AttemptCount + 1
		if newCount >= w.opts.MaxAttempts {
			err = w.store.MarkDeadLetter(ctx, d.ID, newCount, detail)
			slog.Error("[Worker] Delivery dead-lettered",
				"delivery_id", d.ID,
				"contract_id", d.ContractID,
				"attempts", newCount,
				"last_error", detail)
		} else {
			next := w.now().Add(backoff(d.AttemptCount))
			err = w.store.MarkRetry(ctx, d.ID, newCount, next, detail)
			slog.Warn("[Worker] Delivery failed, retry scheduled",
				"delivery_id", d.ID,
				"contract_id", d.ContractID,
				"attempts", newCount,
				"next_attempt_at", next,
				"detail", detail)
		}
	}

	if err != nil {
		slog.Error("[Worker] Failed to record delivery transition",
			"delivery_id", d.ID,
			"error", err)
	}
}

// attempt POSTs the serialized event to the target, signing the exact body
// bytes when a secret is configured.
func (w *Worker) attempt(ctx context.Context, d *v1.Delivery) (outcome, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.TargetURL, bytes.NewReader(d.EventJSON))
	if err != nil {
		// Malformed URL: no retry will ever fix it.
		return outcomeRejected, fmt.Sprintf("building request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if d.TargetSecret != "" {
		req.Header.Set(SignatureHeader, Sign(d.TargetSecret, d.EventJSON))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return outcomeTransient, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeDelivered, ""
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return outcomeRejected, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, excerpt)
	default:
		return outcomeTransient, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, excerpt)
	}
}

// backoff computes the delay before the next attempt: exponential from 1s
// with a 60s ceiling.
func backoff(attemptCount int) time.Duration {
	if attemptCount >= 6 { // 2^6 = 64s > ceiling
		return 60 * time.Second
	}
	return time.Duration(1<<attemptCount) * time.Second
}
