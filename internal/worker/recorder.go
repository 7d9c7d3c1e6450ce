package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/platformhq/webhook-delivery/internal/domain"
	"github.com/platformhq/webhook-delivery/internal/engine"
	"github.com/platformhq/webhook-delivery/internal/store"
)

// backoffSchedule is the fixed retry schedule, indexed by the attempt
// count before the failing attempt is counted: the first failure waits
// one minute, the second five, the third fifteen. Past the table the
// delivery is exhausted.
var backoffSchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// maxResponseBodyChars bounds the stored response body.
const maxResponseBodyChars = 10000

// AttemptOutcome is what one HTTP delivery attempt produced. Transport
// errors and non-2xx statuses are captured here, never raised.
type AttemptOutcome struct {
	Status   *int
	Headers  map[string]string
	Body     string
	Duration time.Duration
	Error    string
}

// Succeeded reports whether the attempt counts as delivered: a 2xx
// response with no transport error. Everything else is a uniform
// failure regardless of cause.
func (o AttemptOutcome) Succeeded() bool {
	return o.Error == "" && o.Status != nil && *o.Status >= 200 && *o.Status < 300
}

// DeliveryStore is the persistence surface the recorder needs.
type DeliveryStore interface {
	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	ApplyAttempt(ctx context.Context, u store.AttemptUpdate) (*domain.Delivery, error)
}

// Recorder persists attempt outcomes: it increments the attempt count,
// stores the response snapshot, updates the owning endpoint's counters,
// and decides the next retry time or terminal exhaustion.
type Recorder struct {
	store  DeliveryStore
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(s DeliveryStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  s,
		logger: logger,
		now:    time.Now,
	}
}

// Record applies one attempt outcome to the delivery identified by the
// job. Returns the updated delivery, or nil when the delivery row no
// longer exists — a data-consistency fault upstream that is logged and
// not retried.
func (r *Recorder) Record(ctx context.Context, job engine.DeliveryJob, outcome AttemptOutcome) (*domain.Delivery, error) {
	delivery, err := r.store.GetDelivery(ctx, job.DeliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		r.logger.Warn("attempt outcome for missing delivery",
			"delivery_id", job.DeliveryID,
			"endpoint_id", job.EndpointID,
		)
		return nil, nil
	}

	now := r.now()
	delivered := outcome.Succeeded()

	update := store.AttemptUpdate{
		DeliveryID: job.DeliveryID,
		EndpointID: job.EndpointID,
		Delivered:  delivered,
		DurationMs: outcome.Duration.Milliseconds(),
		Now:        now,
	}

	if outcome.Status != nil {
		update.ResponseStatus = outcome.Status
		update.ResponseHeaders = outcome.Headers
		body := truncate(outcome.Body, maxResponseBodyChars)
		update.ResponseBody = &body
	}
	if outcome.Error != "" {
		errMsg := outcome.Error
		update.ErrorMessage = &errMsg
	}

	if !delivered {
		// The backoff index is the attempt count before this attempt
		// is counted: the first failure lands on backoffSchedule[0].
		update.NextRetryAt = nextRetryAt(now, delivery.AttemptCount, job)
	}

	return r.store.ApplyAttempt(ctx, update)
}

// nextRetryAt computes the retry time for a failed attempt, or nil when
// the delivery is exhausted or the endpoint opted out of retries.
// Endpoints whose attempt cap exceeds the table keep retrying at the
// last backoff interval until the cap is spent.
func nextRetryAt(now time.Time, preAttemptCount int, job engine.DeliveryJob) *time.Time {
	if !job.RetryEnabled {
		return nil
	}
	idx := preAttemptCount
	if idx >= len(backoffSchedule) {
		if idx >= job.MaxAttempts {
			return nil
		}
		idx = len(backoffSchedule) - 1
	}
	next := now.Add(backoffSchedule[idx])
	return &next
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
