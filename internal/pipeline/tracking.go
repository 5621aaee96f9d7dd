package pipeline

import (
	"sync"
	"time"

	"cip-pipeline/internal/model"
)

// Tracker records per-stage progress and errors of one run in memory.
// Callers that need persistence copy Stages and Errors into the store.
// A nil *Tracker is valid and records nothing.
type Tracker struct {
	mu     sync.RWMutex
	stages []model.StageMetrics
	errors []model.ErrorDetail
	now    func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// StartStage marks stage as running with the given input size.
func (t *Tracker) StartStage(stage string, recordsIn int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stages = append(t.stages, model.StageMetrics{
		Stage:     stage,
		Status:    model.StatusRunning,
		StartTime: t.now(),
		RecordsIn: recordsIn,
	})
}

// EndStage marks the most recent run of stage as completed.
func (t *Tracker) EndStage(stage string, recordsOut int) {
	t.finish(stage, model.StatusCompleted, recordsOut)
}

// FailStage marks stage as failed and records err against it.
func (t *Tracker) FailStage(stage string, err error) {
	if t == nil {
		return
	}
	t.finish(stage, model.StatusFailed, 0)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors = append(t.errors, model.ErrorDetail{
		ID:        int64(len(t.errors) + 1),
		Stage:     stage,
		Message:   err.Error(),
		Timestamp: t.now(),
	})
}

func (t *Tracker) finish(stage, status string, recordsOut int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.stages) - 1; i >= 0; i-- {
		s := &t.stages[i]
		if s.Stage != stage {
			continue
		}
		s.Status = status
		s.EndTime = t.now()
		s.Duration = s.EndTime.Sub(s.StartTime)
		s.RecordsOut = recordsOut
		return
	}
}

// Stages returns a copy of the recorded stage metrics, in start order.
func (t *Tracker) Stages() []model.StageMetrics {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.StageMetrics(nil), t.stages...)
}

// Errors returns a copy of the recorded errors.
func (t *Tracker) Errors() []model.ErrorDetail {
	if t == nil {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.ErrorDetail(nil), t.errors...)
}
