package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries period transitions that document modules wait on.
	QueueCritical = "critical"
	// TaskPeriodEvent fans a period transition out to the event bus.
	TaskPeriodEvent = "gl:period.event"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// EventPublisher delivers period transitions to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, evt periods.PeriodEvent) error
}

// NewPeriodEventTask builds the fan-out task for a period transition.
func NewPeriodEventTask(evt periods.PeriodEvent) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPeriodEvent, body, asynq.Queue(QueueCritical), asynq.MaxRetry(10)), nil
}

// PeriodEventJob publishes queued period transitions.
type PeriodEventJob struct {
	Publisher EventPublisher
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle decodes the transition and hands it to the publisher. Undecodable payloads are not retried.
func (j *PeriodEventJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Publisher == nil {
		return errors.New("period event: publisher not configured")
	}
	var evt periods.PeriodEvent
	if err := json.Unmarshal(t.Payload(), &evt); err != nil {
		return fmt.Errorf("period event: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.metrics().Track(TaskPeriodEvent)
	err := j.Publisher.Publish(ctx, evt)
	if err != nil {
		j.log().Error("publish period event",
			slog.Int64("company_id", evt.CompanyID),
			slog.String("module", string(evt.Module)),
			slog.String("period", evt.Period.String()),
			slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *PeriodEventJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PeriodEventJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPeriodEvent))
	}
	return slog.Default().With(slog.String("job", TaskPeriodEvent))
}
