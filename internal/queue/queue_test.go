package queue

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeScheduler struct {
	pending  map[string]time.Time
	payloads map[string][]byte
	err      error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{
		pending:  make(map[string]time.Time),
		payloads: make(map[string][]byte),
	}
}

func (f *fakeScheduler) Schedule(ctx context.Context, key string, runAt time.Time, payload []byte) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, ok := f.pending[key]; ok {
		return false, nil
	}
	f.pending[key] = runAt
	f.payloads[key] = payload
	return true, nil
}

func (f *fakeScheduler) HasPending(ctx context.Context, key string) (bool, error) {
	_, ok := f.pending[key]
	return ok, f.err
}

func TestEnqueue_SchedulesWithSettleDelay(t *testing.T) {
	sched := newFakeScheduler()
	q := New(sched, zap.NewNop())

	before := time.Now()
	if err := q.Enqueue(context.Background(), 42, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	runAt, ok := sched.pending["notify:42:0"]
	if !ok {
		t.Fatal("expected job for notify:42:0")
	}
	if runAt.Before(before.Add(settleDelay-time.Second)) {
		t.Errorf("expected settle delay of about %v, got %v", settleDelay, runAt.Sub(before))
	}

	job, err := ParseJob(sched.payloads["notify:42:0"])
	if err != nil {
		t.Fatalf("payload should round-trip: %v", err)
	}
	if job.ProductID != 42 || job.VariationID != 0 {
		t.Errorf("unexpected job %+v", job)
	}
}

func TestEnqueue_DedupesPendingKey(t *testing.T) {
	sched := newFakeScheduler()
	q := New(sched, zap.NewNop())
	ctx := context.Background()

	if err := q.Enqueue(ctx, 42, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, 42, 0); err != nil {
		t.Fatalf("duplicate enqueue must be a silent no-op, got %v", err)
	}
	if len(sched.pending) != 1 {
		t.Errorf("expected 1 pending job, got %d", len(sched.pending))
	}

	if err := q.Enqueue(ctx, 42, 7); err != nil {
		t.Fatal(err)
	}
	if len(sched.pending) != 2 {
		t.Errorf("variation should be an independent key, got %d jobs", len(sched.pending))
	}
}

func TestEnqueueFollowUp_UsesDefaultSpacing(t *testing.T) {
	sched := newFakeScheduler()
	q := New(sched, zap.NewNop())

	before := time.Now()
	if err := q.EnqueueFollowUp(context.Background(), 42, 0, 0); err != nil {
		t.Fatal(err)
	}

	runAt := sched.pending["notify:42:0"]
	if runAt.Before(before.Add(defaultFollowUpDelay - time.Second)) {
		t.Errorf("expected default follow-up spacing, got %v", runAt.Sub(before))
	}
}

func TestEnqueueFollowUp_HonorsThrottleDelay(t *testing.T) {
	sched := newFakeScheduler()
	q := New(sched, zap.NewNop())

	before := time.Now()
	if err := q.EnqueueFollowUp(context.Background(), 42, 0, 5*time.Minute); err != nil {
		t.Fatal(err)
	}

	runAt := sched.pending["notify:42:0"]
	got := runAt.Sub(before)
	if got < 5*time.Minute-time.Second || got > 5*time.Minute+time.Second {
		t.Errorf("expected ~5m delay, got %v", got)
	}
}

func TestParseJob_RejectsGarbage(t *testing.T) {
	if _, err := ParseJob([]byte("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := ParseJob([]byte(`{"variation_id":3}`)); err == nil {
		t.Error("expected error for missing product id")
	}
}
