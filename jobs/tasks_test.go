package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/shared"
	jobmetrics "github.com/odyssey-erp/odyssey-gl/internal/jobs"
)

type publisherStub struct {
	events []periods.PeriodEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, evt periods.PeriodEvent) error {
	p.events = append(p.events, evt)
	return p.err
}

type enqueuerStub struct {
	tasks []*asynq.Task
}

func (e *enqueuerStub) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	e.tasks = append(e.tasks, task)
	return &asynq.TaskInfo{Type: task.Type()}, nil
}

func (e *enqueuerStub) Close() error { return nil }

func closedEvent() periods.PeriodEvent {
	return periods.PeriodEvent{
		Type:        periods.EventPeriodClosed,
		CompanyID:   7,
		Module:      shared.ModuleSales,
		Period:      shared.FiscalPeriod{Year: 2025, Period: 1},
		FullyClosed: true,
		ActorID:     3,
		At:          time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestClientNotifyQueuesPeriodEvent(t *testing.T) {
	enq := &enqueuerStub{}
	client := NewClientWithEnqueuer(enq)

	require.NoError(t, client.Notify(context.Background(), closedEvent()))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskPeriodEvent, enq.tasks[0].Type())

	var decoded periods.PeriodEvent
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &decoded))
	assert.Equal(t, closedEvent(), decoded)
}

func TestPeriodEventJobPublishes(t *testing.T) {
	pub := &publisherStub{}
	job := &PeriodEventJob{Publisher: pub, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	task, err := NewPeriodEventTask(closedEvent())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, pub.events, 1)
	assert.Equal(t, closedEvent(), pub.events[0])
}

func TestPeriodEventJobRetriesPublishFailure(t *testing.T) {
	pub := &publisherStub{err: errors.New("broker down")}
	job := &PeriodEventJob{Publisher: pub, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	task, err := NewPeriodEventTask(closedEvent())
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestPeriodEventJobSkipsBadPayload(t *testing.T) {
	job := &PeriodEventJob{Publisher: &publisherStub{}}
	err := job.Handle(context.Background(), asynq.NewTask(TaskPeriodEvent, []byte("not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
