package worker

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/platformhq/webhook-delivery/internal/domain"
	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
)

// fakeDeliveryStore applies attempt updates in memory, mirroring the
// transactional semantics of the Postgres store.
type fakeDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[string]*domain.Delivery
	updates    []store.AttemptUpdate
	successes  int
	failures   int
}

func newFakeDeliveryStore(deliveries ...*domain.Delivery) *fakeDeliveryStore {
	f := &fakeDeliveryStore{deliveries: make(map[string]*domain.Delivery)}
	for _, d := range deliveries {
		f.deliveries[d.ID] = d
	}
	return f
}

func (f *fakeDeliveryStore) GetDelivery(_ context.Context, id string) (*domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deliveries[id]
	if !ok {
		return nil, nil
	}
	copied := *d
	return &copied, nil
}

func (f *fakeDeliveryStore) ApplyAttempt(_ context.Context, u store.AttemptUpdate) (*domain.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.deliveries[u.DeliveryID]
	if !ok {
		return nil, nil
	}

	f.updates = append(f.updates, u)

	d.AttemptCount++
	d.ResponseStatus = u.ResponseStatus
	d.ResponseHeaders = u.ResponseHeaders
	d.ResponseBody = u.ResponseBody
	ms := u.DurationMs
	d.DurationMs = &ms
	d.ErrorMessage = u.ErrorMessage
	d.Delivered = u.Delivered

	if u.Delivered {
		now := u.Now
		d.DeliveredAt = &now
		d.NextRetryAt = nil
		f.successes++
	} else {
		d.NextRetryAt = u.NextRetryAt
		f.failures++
	}

	copied := *d
	return &copied, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testDelivery(id string) *domain.Delivery {
	return &domain.Delivery{
		ID:          id,
		EndpointID:  "ep-1",
		EventType:   "ticket.created",
		EventID:     "evt-1",
		RequestURL:  "http://example.com/hook",
		RequestBody: `{"event_type":"ticket.created","event_id":"evt-1","data":{}}`,
		TriggeredAt: time.Now(),
	}
}

func testJob(deliveryID string) engine.DeliveryJob {
	return engine.DeliveryJob{
		DeliveryID:   deliveryID,
		EndpointID:   "ep-1",
		URL:          "http://example.com/hook",
		Secret:       "whsec_test",
		EventType:    "ticket.created",
		EventID:      "evt-1",
		Attempt:      1,
		MaxAttempts:  3,
		RetryEnabled: true,
	}
}

func intPtr(n int) *int { return &n }

func TestRecorder_BackoffSchedule(t *testing.T) {
	// Four consecutive failures must schedule retries at exactly +1m,
	// +5m and +15m, then exhaust with attempt_count 4.
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return base }

	job := testJob("d-1")
	failed := AttemptOutcome{Status: intPtr(500), Body: "oops"}

	wantOffsets := []*time.Duration{
		durPtr(1 * time.Minute),
		durPtr(5 * time.Minute),
		durPtr(15 * time.Minute),
		nil,
	}

	for i, want := range wantOffsets {
		job.Attempt = i + 1
		d, err := rec.Record(context.Background(), job, failed)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}

		if d.AttemptCount != i+1 {
			t.Fatalf("attempt %d: attempt_count = %d, want %d", i+1, d.AttemptCount, i+1)
		}
		if d.Delivered {
			t.Fatalf("attempt %d: delivery should not be marked delivered", i+1)
		}

		if want == nil {
			if d.NextRetryAt != nil {
				t.Fatalf("attempt %d: next_retry_at = %v, want nil (exhausted)", i+1, d.NextRetryAt)
			}
			continue
		}
		if d.NextRetryAt == nil {
			t.Fatalf("attempt %d: next_retry_at is nil, want +%v", i+1, *want)
		}
		if got := d.NextRetryAt.Sub(base); got != *want {
			t.Errorf("attempt %d: next_retry_at offset = %v, want %v", i+1, got, *want)
		}
	}
}

func durPtr(d time.Duration) *time.Duration { return &d }

func TestRecorder_AttemptCapBeyondBackoffTable(t *testing.T) {
	// An endpoint configured with max_attempts above the table keeps
	// retrying at the last interval until its budget is spent.
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return base }

	job := testJob("d-1")
	job.MaxAttempts = 5
	failed := AttemptOutcome{Status: intPtr(500)}

	wantOffsets := []*time.Duration{
		durPtr(1 * time.Minute),
		durPtr(5 * time.Minute),
		durPtr(15 * time.Minute),
		durPtr(15 * time.Minute),
		durPtr(15 * time.Minute),
		nil,
	}

	for i, want := range wantOffsets {
		job.Attempt = i + 1
		d, err := rec.Record(context.Background(), job, failed)
		if err != nil {
			t.Fatalf("attempt %d: unexpected error: %v", i+1, err)
		}

		if want == nil {
			if d.NextRetryAt != nil {
				t.Fatalf("attempt %d: next_retry_at = %v, want nil past the cap", i+1, d.NextRetryAt)
			}
			continue
		}
		if d.NextRetryAt == nil {
			t.Fatalf("attempt %d: next_retry_at is nil, want +%v", i+1, *want)
		}
		if got := d.NextRetryAt.Sub(base); got != *want {
			t.Errorf("attempt %d: next_retry_at offset = %v, want %v", i+1, got, *want)
		}
	}
}

func TestRecorder_SuccessIsTerminal(t *testing.T) {
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return now }

	d, err := rec.Record(context.Background(), testJob("d-1"), AttemptOutcome{
		Status:   intPtr(200),
		Body:     `{"ok":true}`,
		Duration: 120 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !d.Delivered {
		t.Error("delivery should be marked delivered")
	}
	if d.DeliveredAt == nil || !d.DeliveredAt.Equal(now) {
		t.Errorf("delivered_at = %v, want %v", d.DeliveredAt, now)
	}
	if d.NextRetryAt != nil {
		t.Errorf("next_retry_at = %v, want nil after success", d.NextRetryAt)
	}
	if d.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", d.AttemptCount)
	}
	if d.DurationMs == nil || *d.DurationMs != 120 {
		t.Errorf("duration_ms = %v, want 120", d.DurationMs)
	}
	if fake.successes != 1 || fake.failures != 0 {
		t.Errorf("endpoint counters: successes=%d failures=%d, want 1/0", fake.successes, fake.failures)
	}
}

func TestRecorder_NonSuccessStatusesAreUniformFailures(t *testing.T) {
	// 4xx, 5xx and transport errors all take the same retry path.
	tests := []struct {
		name    string
		outcome AttemptOutcome
	}{
		{"client error", AttemptOutcome{Status: intPtr(404), Body: "not found"}},
		{"server error", AttemptOutcome{Status: intPtr(503), Body: "unavailable"}},
		{"redirect", AttemptOutcome{Status: intPtr(301)}},
		{"transport error", AttemptOutcome{Error: "request failed: connection refused"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeDeliveryStore(testDelivery("d-1"))
			rec := NewRecorder(fake, testLogger())

			d, err := rec.Record(context.Background(), testJob("d-1"), tt.outcome)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if d.Delivered {
				t.Error("delivery should not be marked delivered")
			}
			if d.NextRetryAt == nil {
				t.Error("first failure should schedule a retry")
			}
		})
	}
}

func TestRecorder_ResponseBodyTruncation(t *testing.T) {
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	body := strings.Repeat("x", 20000)
	d, err := rec.Record(context.Background(), testJob("d-1"), AttemptOutcome{
		Status: intPtr(200),
		Body:   body,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.ResponseBody == nil {
		t.Fatal("response body should be stored")
	}
	if len(*d.ResponseBody) != maxResponseBodyChars {
		t.Errorf("stored body length = %d, want %d", len(*d.ResponseBody), maxResponseBodyChars)
	}
}

func TestRecorder_ShortBodyNotTruncated(t *testing.T) {
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	d, err := rec.Record(context.Background(), testJob("d-1"), AttemptOutcome{
		Status: intPtr(200),
		Body:   "short",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.ResponseBody == nil || *d.ResponseBody != "short" {
		t.Errorf("stored body = %v, want %q", d.ResponseBody, "short")
	}
}

func TestRecorder_MissingDeliveryIsNoOp(t *testing.T) {
	fake := newFakeDeliveryStore()
	rec := NewRecorder(fake, testLogger())

	d, err := rec.Record(context.Background(), testJob("gone"), AttemptOutcome{Status: intPtr(200)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d != nil {
		t.Error("missing delivery should record nothing")
	}
	if len(fake.updates) != 0 {
		t.Errorf("expected no updates, got %d", len(fake.updates))
	}
}

func TestRecorder_RetryDisabledNeverSchedules(t *testing.T) {
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	job := testJob("d-1")
	job.RetryEnabled = false

	d, err := rec.Record(context.Background(), job, AttemptOutcome{Status: intPtr(500)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.NextRetryAt != nil {
		t.Errorf("next_retry_at = %v, want nil with retries disabled", d.NextRetryAt)
	}
}

func TestRecorder_ErrorMessageStored(t *testing.T) {
	fake := newFakeDeliveryStore(testDelivery("d-1"))
	rec := NewRecorder(fake, testLogger())

	d, err := rec.Record(context.Background(), testJob("d-1"), AttemptOutcome{
		Error: "request failed: context deadline exceeded",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if d.ErrorMessage == nil || !strings.Contains(*d.ErrorMessage, "deadline exceeded") {
		t.Errorf("error_message = %v, want timeout error", d.ErrorMessage)
	}
	if d.ResponseStatus != nil {
		t.Errorf("response_status = %v, want nil for transport error", d.ResponseStatus)
	}
}
