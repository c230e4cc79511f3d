package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/geocoder89/barterhub/internal/domain/job"
	"github.com/geocoder89/barterhub/internal/jobs"
	"github.com/geocoder89/barterhub/internal/notifications"
	"github.com/geocoder89/barterhub/internal/repo/memory"
	"github.com/geocoder89/barterhub/internal/storage"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.TradeEvent
	err    error
}

func (s *stubNotifier) NotifyTrade(_ context.Context, ev notifications.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func newTestWorker(t *testing.T, notifier notifications.Notifier) (*Worker, *memory.JobsRepo, *storage.DiskStore) {
	t.Helper()

	images, err := storage.NewDiskStore(t.TempDir(), "/uploads")
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	repo := memory.NewStore().Jobs()

	w := New(Config{WorkerID: "test-worker"}, Deps{
		Repo:     repo,
		Images:   images,
		Notifier: notifier,
	})
	return w, repo, images
}

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempts int
		min      time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{20, 5 * time.Minute},
		{200, 5 * time.Minute},
	}

	for _, tt := range tests {
		got := DefaultBackoff.Delay(tt.attempts)
		if got < tt.min || got >= tt.min+DefaultBackoff.Jitter {
			t.Fatalf("attempts %d: expected %v plus jitter, got %v", tt.attempts, tt.min, got)
		}
	}

	noJitter := Backoff{Base: time.Second, Max: time.Minute}
	if got := noJitter.Delay(3); got != 8*time.Second {
		t.Fatalf("expected exact 8s without jitter, got %v", got)
	}
}

func TestProcessOne_EmptyQueue(t *testing.T) {
	w, _, _ := newTestWorker(t, &stubNotifier{})

	found, err := w.ProcessOne(context.Background())
	if err != nil || found {
		t.Fatalf("expected no job, got found=%v err=%v", found, err)
	}
}

func TestProcessOne_ImageCleanup(t *testing.T) {
	w, repo, images := newTestWorker(t, &stubNotifier{})
	ctx := context.Background()

	ref, err := images.Save(ctx, "jacket.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}

	req, err := jobs.NewImageCleanup(jobs.ImageCleanupPayload{ItemID: "item-1", ImageURL: ref, TradeID: "trade-1"})
	if err != nil {
		t.Fatalf("NewImageCleanup: %v", err)
	}
	j, _ := repo.Enqueue(ctx, req)

	found, err := w.ProcessOne(ctx)
	if err != nil || !found {
		t.Fatalf("expected a processed job, got found=%v err=%v", found, err)
	}

	if _, err := os.Stat(filepath.Join(images.Dir(), "jacket.jpg")); !os.IsNotExist(err) {
		t.Fatalf("image should be deleted, stat err=%v", err)
	}

	got, _ := repo.GetByID(ctx, j.ID)
	if got.Status != job.StatusDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
	if w.Metrics().Snapshot().Done != 1 {
		t.Fatalf("expected done counter to move")
	}
}

func TestProcessOne_NotificationRetriesThenFails(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("provider down")}
	w, repo, _ := newTestWorker(t, notifier)
	ctx := context.Background()

	req, err := jobs.NewTradeNotification(jobs.TradeNotificationPayload{
		TradeID:     "trade-1",
		Event:       jobs.EventTradeAccepted,
		ProposerID:  "ann",
		RecipientID: "bob",
		OccurredAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("NewTradeNotification: %v", err)
	}
	req.MaxAttempts = 2
	j, _ := repo.Enqueue(ctx, req)

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got, _ := repo.GetByID(ctx, j.ID)
	if got.Status != job.StatusPending || got.Attempts != 1 {
		t.Fatalf("expected a rescheduled job, got status=%s attempts=%d", got.Status, got.Attempts)
	}
	if !got.RunAt.After(time.Now()) {
		t.Fatalf("expected run_at in the future, got %v", got.RunAt)
	}
	if got.LastError == nil || *got.LastError != "provider down" {
		t.Fatalf("expected last error to be kept, got %v", got.LastError)
	}

	// the backoff keeps it from being claimed right away
	if found, _ := w.ProcessOne(ctx); found {
		t.Fatalf("job should not be claimable before run_at")
	}

	// simulate the backoff elapsing
	if err := repo.Reschedule(ctx, j.ID, time.Now().Add(-time.Second), "provider down"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	got, _ = repo.GetByID(ctx, j.ID)
	if got.Attempts != 2 {
		t.Fatalf("expected attempts 2, got %d", got.Attempts)
	}

	// attempts are exhausted so nothing is claimable and the row stays pending
	if found, _ := w.ProcessOne(ctx); found {
		t.Fatalf("exhausted job must not be claimed")
	}
}

func TestProcessOne_LastAttemptMarksFailed(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("provider down")}
	w, repo, _ := newTestWorker(t, notifier)
	ctx := context.Background()

	req, _ := jobs.NewTradeNotification(jobs.TradeNotificationPayload{
		TradeID:     "trade-1",
		Event:       jobs.EventTradeRejected,
		ProposerID:  "ann",
		RecipientID: "bob",
		OccurredAt:  time.Now().UTC(),
	})
	req.MaxAttempts = 1
	j, _ := repo.Enqueue(ctx, req)

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got, _ := repo.GetByID(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if w.Metrics().Snapshot().DeadLettered != 1 {
		t.Fatalf("expected dead letter counter to move")
	}
}

func TestProcessOne_BadPayloadFailsImmediately(t *testing.T) {
	w, repo, _ := newTestWorker(t, &stubNotifier{})
	ctx := context.Background()

	j, _ := repo.Enqueue(ctx, job.CreateRequest{
		Type:        string(jobs.JobImageCleanup),
		Payload:     json.RawMessage(`{"itemId":""}`),
		MaxAttempts: 10,
	})

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	got, _ := repo.GetByID(ctx, j.ID)
	if got.Status != job.StatusFailed {
		t.Fatalf("invalid payload should not be retried, got %s", got.Status)
	}
}

func TestProcessOne_NotificationDelivered(t *testing.T) {
	notifier := &stubNotifier{}
	w, repo, _ := newTestWorker(t, notifier)
	ctx := context.Background()

	req, _ := jobs.NewTradeNotification(jobs.TradeNotificationPayload{
		TradeID:     "trade-1",
		Event:       jobs.EventTradeProposed,
		ProposerID:  "ann",
		RecipientID: "bob",
		OccurredAt:  time.Now().UTC(),
	})
	_, _ = repo.Enqueue(ctx, req)

	if _, err := w.ProcessOne(ctx); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(notifier.events) != 1 || notifier.events[0].UserID != "bob" {
		t.Fatalf("recipient should be notified, got %+v", notifier.events)
	}
}

func TestRun_DrainsQueueAndStops(t *testing.T) {
	notifier := &stubNotifier{}
	_, repo, images := newTestWorker(t, notifier)
	w := New(Config{WorkerID: "run", PollInterval: 10 * time.Millisecond, Concurrency: 2}, Deps{
		Repo:     repo,
		Images:   images,
		Notifier: notifier,
	})

	ctx, cancel := context.WithCancel(context.Background())
	for _, ev := range []string{jobs.EventTradeProposed, jobs.EventTradeAccepted} {
		req, _ := jobs.NewTradeNotification(jobs.TradeNotificationPayload{
			TradeID: "trade-1", Event: ev, ProposerID: "ann", RecipientID: "bob", OccurredAt: time.Now().UTC(),
		})
		_, _ = repo.Enqueue(ctx, req)
	}

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(repo.Pending()) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.Pending()) != 0 {
		t.Fatalf("expected queue drained, %d pending", len(repo.Pending()))
	}
}

func TestHealthHandler_Readiness(t *testing.T) {
	w, _, _ := newTestWorker(t, &stubNotifier{})
	h := w.HealthHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before Run, got %d", rec.Code)
	}

	w.setReady(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once ready, got %d", rec.Code)
	}
}
