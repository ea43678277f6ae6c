package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
)

const (
	// ReviewRegistrationTask is scheduled each time a registration is recorded.
	ReviewRegistrationTask = "registration:review"
)

// ReviewPayload is serialized into the task payload so the worker can check
// the proof without reading the store.
type ReviewPayload struct {
	RegistrationID string    `json:"registration_id"`
	FullName       string    `json:"full_name"`
	Proof          string    `json:"proof"`
	Secure24h      bool      `json:"secure24h"`
	Timestamp      time.Time `json:"timestamp"`
}

// PayloadFor copies the fields a reviewer needs.
func PayloadFor(reg model.Registration) ReviewPayload {
	return ReviewPayload{
		RegistrationID: reg.ID,
		FullName:       reg.FullName,
		Proof:          reg.Proof,
		Secure24h:      reg.Secure24h,
		Timestamp:      reg.Timestamp,
	}
}

// Registration turns the payload back into a registration.
func (p ReviewPayload) Registration() model.Registration {
	return model.Registration{
		ID:        p.RegistrationID,
		FullName:  p.FullName,
		Proof:     p.Proof,
		Secure24h: p.Secure24h,
		Timestamp: p.Timestamp,
	}
}

// NewReviewTask builds the asynq task for payload.
func NewReviewTask(payload ReviewPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(ReviewRegistrationTask, data, asynq.MaxRetry(5)), nil
}

// Enqueuer is the part of *asynq.Client used here.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Reviewer enqueues review tasks on Redis.
type Reviewer struct {
	client Enqueuer
}

// NewReviewer wraps an asynq client.
func NewReviewer(client Enqueuer) *Reviewer {
	return &Reviewer{client: client}
}

// RequestReview enqueues a review task for reg.
func (r *Reviewer) RequestReview(ctx context.Context, reg model.Registration) error {
	task, err := NewReviewTask(PayloadFor(reg))
	if err != nil {
		return err
	}
	if _, err := r.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue review task: %w", err)
	}
	return nil
}
