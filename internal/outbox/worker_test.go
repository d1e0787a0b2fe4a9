package outbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	v1 "github.com/hookline-lab/project-hookline/internal/api/v1"
	"github.com/stretchr/testify/require"
)

// recordedTransition captures one Mark* call on the fake store.
type recordedTransition struct {
	kind          string // delivered, rejected, retry, dead_letter
	id            string
	attemptCount  int
	nextAttemptAt time.Time
	lastError     string
}

// fakeOutbox hands out a fixed claim batch and records transitions.
type fakeOutbox struct {
	mu          sync.Mutex
	claims      []*v1.Delivery
	transitions []recordedTransition
	claimErr    error
}

func (o *fakeOutbox) ClaimDueDeliveries(_ context.Context, _ time.Time, _ int, _ time.Duration) ([]*v1.Delivery, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.claimErr != nil {
		return nil, o.claimErr
	}
	out := o.claims
	o.claims = nil
	return out, nil
}

func (o *fakeOutbox) EnqueueDelivery(_ context.Context, d *v1.Delivery) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.claims = append(o.claims, d)
	return nil
}

func (o *fakeOutbox) MarkDelivered(_ context.Context, id string, attemptCount int, _ time.Time) error {
	o.record(recordedTransition{kind: "delivered", id: id, attemptCount: attemptCount})
	return nil
}

func (o *fakeOutbox) MarkRejected(_ context.Context, id string, attemptCount int, lastError string) error {
	o.record(recordedTransition{kind: "rejected", id: id, attemptCount: attemptCount, lastError: lastError})
	return nil
}

func (o *fakeOutbox) MarkRetry(_ context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string) error {
	o.record(recordedTransition{kind: "retry", id: id, attemptCount: attemptCount, nextAttemptAt: nextAttemptAt, lastError: lastError})
	return nil
}

func (o *fakeOutbox) MarkDeadLetter(_ context.Context, id string, attemptCount int, lastError string) error {
	o.record(recordedTransition{kind: "dead_letter", id: id, attemptCount: attemptCount, lastError: lastError})
	return nil
}

func (o *fakeOutbox) GetDelivery(context.Context, string) (*v1.Delivery, error) {
	return nil, nil
}

func (o *fakeOutbox) record(tr recordedTransition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, tr)
}

func (o *fakeOutbox) recorded() []recordedTransition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]recordedTransition(nil), o.transitions...)
}

func pendingRow(id, url, secret string, attemptCount int) *v1.Delivery {
	now := time.Now().UTC()
	return &v1.Delivery{
		ID:            id,
		ContractID:    "c-1",
		EventJSON:     json.RawMessage(`{"source":"shop","type":"order.created","timestamp":"2026-03-01T09:00:00Z"}`),
		TargetURL:     url,
		TargetSecret:  secret,
		Status:        v1.StatusPending,
		AttemptCount:  attemptCount,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
}

func runBatch(t *testing.T, store *fakeOutbox, opts WorkerOptions) {
	t.Helper()
	w := NewWorker(store, opts)
	_, err := w.processBatch(context.Background())
	require.NoError(t, err)
}

func TestWorker_TransientFailureThenSuccess(t *testing.T) {
	var mu sync.Mutex
	var requests []*http.Request
	var bodies [][]byte
	attempt := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		mu.Lock()
		requests = append(requests, r)
		bodies = append(bodies, body)
		attempt++
		current := attempt
		mu.Unlock()

		if current == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeOutbox{claims: []*v1.Delivery{pendingRow("d-1", srv.URL, "s3cr3t", 0)}}

	// First cycle: 500 → retry with attempt_count 1 and ~1s backoff.
	runBatch(t, store, WorkerOptions{})

	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "retry", got[0].kind)
	require.Equal(t, 1, got[0].attemptCount)
	require.Contains(t, got[0].lastError, "HTTP 500")
	delay := time.Until(got[0].nextAttemptAt)
	require.InDelta(t, time.Second, delay, float64(500*time.Millisecond))

	// Second cycle (the store hands the row back with the bumped count):
	// 200 → delivered, attempt_count stays at the one prior failure.
	store.claims = []*v1.Delivery{pendingRow("d-1", srv.URL, "s3cr3t", 1)}
	runBatch(t, store, WorkerOptions{})

	got = store.recorded()
	require.Len(t, got, 2)
	require.Equal(t, "delivered", got[1].kind)
	require.Equal(t, 1, got[1].attemptCount)

	// Both attempts carried a recomputable signature over the exact body.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 2)
	for i, r := range requests {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		sig := r.Header.Get(SignatureHeader)
		require.NotEmpty(t, sig)
		require.True(t, VerifySignature("s3cr3t", bodies[i], sig))
	}
}

func TestWorker_ClientErrorRejectsImmediately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such hook", http.StatusNotFound)
	}))
	defer srv.Close()

	store := &fakeOutbox{claims: []*v1.Delivery{pendingRow("d-1", srv.URL, "", 0)}}
	runBatch(t, store, WorkerOptions{})

	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "rejected", got[0].kind)
	require.Equal(t, 1, got[0].attemptCount, "the failed attempt is counted")
	require.Contains(t, got[0].lastError, "HTTP 404")
	require.Contains(t, got[0].lastError, "no such hook")
}

func TestWorker_DeadLetterAtAttemptCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "still broken", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// Nine failures already recorded; the tenth exhausts MaxAttempts.
	store := &fakeOutbox{claims: []*v1.Delivery{pendingRow("d-1", srv.URL, "", 9)}}
	runBatch(t, store, WorkerOptions{MaxAttempts: 10})

	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "dead_letter", got[0].kind)
	require.Equal(t, 10, got[0].attemptCount)
	require.Contains(t, got[0].lastError, "HTTP 503")
	require.Contains(t, got[0].lastError, "still broken")
}

func TestWorker_NoSecretNoSignatureHeader(t *testing.T) {
	var header string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	store := &fakeOutbox{claims: []*v1.Delivery{pendingRow("d-1", srv.URL, "", 0)}}
	runBatch(t, store, WorkerOptions{})

	require.Empty(t, header)
	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "delivered", got[0].kind)
	require.Zero(t, got[0].attemptCount, "first-attempt success has no prior failures")
}

func TestWorker_ConnectionFailureIsTransient(t *testing.T) {
	// A server that is already closed refuses connections.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	store := &fakeOutbox{claims: []*v1.Delivery{pendingRow("d-1", url, "", 0)}}
	runBatch(t, store, WorkerOptions{})

	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "retry", got[0].kind)
	require.Contains(t, got[0].lastError, "request failed")
}

func TestWorker_MalformedURLIsRejected(t *testing.T) {
	store := &fakeOutbox{claims: []*v1.Delivery{pendingRow("d-1", "://not-a-url", "", 0)}}
	runBatch(t, store, WorkerOptions{})

	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "rejected", got[0].kind)
}

func TestWorker_BatchDeliversEveryRow(t *testing.T) {
	var mu sync.Mutex
	seen := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		seen++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeOutbox{claims: []*v1.Delivery{
		pendingRow("d-1", srv.URL, "", 0),
		pendingRow("d-2", srv.URL, "", 0),
		pendingRow("d-3", srv.URL, "", 0),
	}}
	runBatch(t, store, WorkerOptions{MaxConcurrent: 2})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 3, seen)
	require.Len(t, store.recorded(), 3)
}

func TestWorker_StartDrainsBacklogOnShutdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := &fakeOutbox{}
	w := NewWorker(store, WorkerOptions{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Start(ctx)
	}()

	// Let the startup drain see an empty queue, then enqueue a row that only
	// the shutdown drain can pick up (the next poll is an hour out).
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, store.EnqueueDelivery(ctx, pendingRow("d-1", srv.URL, "", 0)))

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	got := store.recorded()
	require.Len(t, got, 1)
	require.Equal(t, "delivered", got[0].kind)
	require.Equal(t, "d-1", got[0].id)
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}

	for _, tc := range tests {
		require.Equal(t, tc.want, backoff(tc.attempts), "attempts=%d", tc.attempts)
	}
}
