package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/platformhq/webhook-delivery/internal/engine"
)

type capturedRequest struct {
	headers http.Header
	body    string
}

// captureServer records incoming requests and answers with the given
// status code.
func captureServer(t *testing.T, status int, respBody string) (*httptest.Server, *[]capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var captured []capturedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		captured = append(captured, capturedRequest{headers: r.Header.Clone(), body: string(body)})
		mu.Unlock()

		w.WriteHeader(status)
		w.Write([]byte(respBody))
	}))
	t.Cleanup(srv.Close)

	return srv, &captured
}

func TestDeliverer_SuccessfulDelivery(t *testing.T) {
	srv, captured := captureServer(t, http.StatusOK, `{"received":true}`)

	fake := newFakeDeliveryStore(testDelivery("d-1"))
	deliverer := NewDeliverer(5*time.Second, NewRecorder(fake, testLogger()), nil, nil, nil, nil, testLogger())

	job := testJob("d-1")
	job.URL = srv.URL
	job.Body = `{"event_type":"ticket.created","event_id":"evt-1","data":{"id":42}}`
	job.Headers = map[string]string{
		"Content-Type":  "application/json",
		"X-Custom-Auth": "token-abc",
	}

	deliverer.Deliver(context.Background(), job)

	if len(*captured) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*captured))
	}
	req := (*captured)[0]

	if req.body != job.Body {
		t.Errorf("request body = %q, want %q", req.body, job.Body)
	}
	if got := req.headers.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if got := req.headers.Get("X-Custom-Auth"); got != "token-abc" {
		t.Errorf("X-Custom-Auth = %q, want token-abc", got)
	}
	if got := req.headers.Get("X-Webhook-Event"); got != "ticket.created" {
		t.Errorf("X-Webhook-Event = %q, want ticket.created", got)
	}
	if got := req.headers.Get("X-Webhook-ID"); got != "evt-1" {
		t.Errorf("X-Webhook-ID = %q, want evt-1", got)
	}
	if got := req.headers.Get("X-Webhook-Attempt"); got != "1" {
		t.Errorf("X-Webhook-Attempt = %q, want 1", got)
	}

	wantSig := computeHMAC([]byte(job.Body), job.Secret)
	if got := req.headers.Get("X-Webhook-Signature"); got != wantSig {
		t.Errorf("X-Webhook-Signature = %q, want %q", got, wantSig)
	}

	d, _ := fake.GetDelivery(context.Background(), "d-1")
	if !d.Delivered {
		t.Error("delivery should be marked delivered")
	}
	if d.ResponseStatus == nil || *d.ResponseStatus != 200 {
		t.Errorf("response_status = %v, want 200", d.ResponseStatus)
	}
	if d.ResponseBody == nil || *d.ResponseBody != `{"received":true}` {
		t.Errorf("response_body = %v, want captured body", d.ResponseBody)
	}
}

func TestDeliverer_ServerErrorSchedulesRetry(t *testing.T) {
	srv, _ := captureServer(t, http.StatusInternalServerError, "boom")

	fake := newFakeDeliveryStore(testDelivery("d-1"))
	deliverer := NewDeliverer(5*time.Second, NewRecorder(fake, testLogger()), nil, nil, nil, nil, testLogger())

	job := testJob("d-1")
	job.URL = srv.URL

	deliverer.Deliver(context.Background(), job)

	d, _ := fake.GetDelivery(context.Background(), "d-1")
	if d.Delivered {
		t.Error("delivery should not be marked delivered")
	}
	if d.ResponseStatus == nil || *d.ResponseStatus != 500 {
		t.Errorf("response_status = %v, want 500", d.ResponseStatus)
	}
	if d.NextRetryAt == nil {
		t.Error("first failure should schedule a retry")
	}
	if d.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", d.AttemptCount)
	}
}

func TestDeliverer_TimeoutRecordedAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fake := newFakeDeliveryStore(testDelivery("d-1"))
	deliverer := NewDeliverer(50*time.Millisecond, NewRecorder(fake, testLogger()), nil, nil, nil, nil, testLogger())

	job := testJob("d-1")
	job.URL = srv.URL

	deliverer.Deliver(context.Background(), job)

	d, _ := fake.GetDelivery(context.Background(), "d-1")
	if d.Delivered {
		t.Error("timed-out delivery should not be marked delivered")
	}
	if d.ResponseStatus != nil {
		t.Errorf("response_status = %v, want nil for transport failure", d.ResponseStatus)
	}
	if d.ErrorMessage == nil || !strings.Contains(*d.ErrorMessage, "request failed") {
		t.Errorf("error_message = %v, want transport error", d.ErrorMessage)
	}
	if d.NextRetryAt == nil {
		t.Error("timeout should schedule a retry")
	}
}

func TestDeliverer_ConnectionRefusedRecordedAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	fake := newFakeDeliveryStore(testDelivery("d-1"))
	deliverer := NewDeliverer(time.Second, NewRecorder(fake, testLogger()), nil, nil, nil, nil, testLogger())

	job := testJob("d-1")
	job.URL = url

	deliverer.Deliver(context.Background(), job)

	d, _ := fake.GetDelivery(context.Background(), "d-1")
	if d.Delivered {
		t.Error("delivery should not be marked delivered")
	}
	if d.ErrorMessage == nil {
		t.Error("connection failure should store an error message")
	}
	if d.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", d.AttemptCount)
	}
}

func TestDeliverer_RateLimitedJobRequeuedWithoutAttempt(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	srv, captured := captureServer(t, http.StatusOK, "ok")

	fake := newFakeDeliveryStore(testDelivery("d-1"), testDelivery("d-2"))
	limiter := engine.NewRateLimiter(redisClient, testLogger())
	deliverer := NewDeliverer(time.Second, NewRecorder(fake, testLogger()), nil, limiter, redisClient, nil, testLogger())

	job := testJob("d-1")
	job.URL = srv.URL
	job.RateLimitPerSecond = 1

	deliverer.Deliver(context.Background(), job)

	job2 := testJob("d-2")
	job2.URL = srv.URL
	job2.RateLimitPerSecond = 1

	deliverer.Deliver(context.Background(), job2)

	if len(*captured) != 1 {
		t.Fatalf("expected 1 request through the limiter, got %d", len(*captured))
	}

	// The throttled job spent no attempt budget and went back on the
	// queue.
	d2, _ := fake.GetDelivery(context.Background(), "d-2")
	if d2.AttemptCount != 0 {
		t.Errorf("rate-limited delivery attempt_count = %d, want 0", d2.AttemptCount)
	}

	depth, err := redisClient.ZCard(context.Background(), engine.DeliveryQueueKey).Result()
	if err != nil {
		t.Fatalf("reading queue depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1 requeued job", depth)
	}

	var requeued engine.DeliveryJob
	members, _ := redisClient.ZRange(context.Background(), engine.DeliveryQueueKey, 0, -1).Result()
	if err := json.Unmarshal([]byte(members[0]), &requeued); err != nil {
		t.Fatalf("unmarshaling requeued job: %v", err)
	}
	if requeued.DeliveryID != "d-2" {
		t.Errorf("requeued delivery_id = %q, want d-2", requeued.DeliveryID)
	}
}

func TestDeliverer_OpenCircuitShortCircuitsAttempt(t *testing.T) {
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()

	srv, captured := captureServer(t, http.StatusOK, "ok")

	fake := newFakeDeliveryStore(testDelivery("d-1"))
	breaker := engine.NewCircuitBreaker(redisClient, testLogger())
	deliverer := NewDeliverer(time.Second, NewRecorder(fake, testLogger()), breaker, nil, redisClient, nil, testLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		breaker.RecordFailure(ctx, "ep-1")
	}
	if state := breaker.GetState(ctx, "ep-1"); state.State != engine.StateOpen {
		t.Fatalf("circuit state = %s, want open", state.State)
	}

	job := testJob("d-1")
	job.URL = srv.URL

	deliverer.Deliver(ctx, job)

	if len(*captured) != 0 {
		t.Fatalf("expected no requests through an open circuit, got %d", len(*captured))
	}

	// Short-circuiting still consumes attempt budget.
	d, _ := fake.GetDelivery(ctx, "d-1")
	if d.AttemptCount != 1 {
		t.Errorf("attempt_count = %d, want 1", d.AttemptCount)
	}
	if d.Delivered {
		t.Error("short-circuited delivery should not be marked delivered")
	}
	if d.ErrorMessage == nil || !strings.Contains(*d.ErrorMessage, "circuit breaker") {
		t.Errorf("error_message = %v, want circuit breaker error", d.ErrorMessage)
	}
}

func TestComputeHMAC(t *testing.T) {
	// Known HMAC-SHA256 vector from RFC 4231, test case 2.
	got := computeHMAC([]byte("what do ya want for nothing?"), "Jefe")
	want := "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843"
	if got != want {
		t.Errorf("computeHMAC() = %q, want %q", got, want)
	}

	if sig := computeHMAC([]byte(`{"event_type":"ticket.created"}`), "whsec_test"); len(sig) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars", len(sig))
	}
}

func TestComputeHMAC_SecretChangesSignature(t *testing.T) {
	payload := []byte(`{"event_type":"ticket.created"}`)
	if computeHMAC(payload, "secret-a") == computeHMAC(payload, "secret-b") {
		t.Error("different secrets must produce different signatures")
	}
}

func TestComputeHMAC_Deterministic(t *testing.T) {
	payload := []byte(`{"event_type":"invoice.paid","data":{"amount":100}}`)
	first := computeHMAC(payload, "whsec_abc")
	for i := 0; i < 3; i++ {
		if got := computeHMAC(payload, "whsec_abc"); got != first {
			t.Fatalf("signature changed between calls: %q vs %q", got, first)
		}
	}
}
