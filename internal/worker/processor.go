package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/model"
	"github.com/dharsanguruparan/ProofDrop/internal/queue"
)

// Checker reviews one registration.
type Checker interface {
	Check(ctx context.Context, reg model.Registration) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	checker Checker
	log     *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(checker Checker, log *zap.Logger) *Processor {
	return &Processor{checker: checker, log: log}
}

// Handler registers the review job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ReviewRegistrationTask, p.handleReview)
	return mux
}

func (p *Processor) handleReview(ctx context.Context, task *asynq.Task) error {
	var payload queue.ReviewPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// A payload that cannot be decoded will never succeed.
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := p.checker.Check(ctx, payload.Registration()); err != nil {
		p.log.Warn("review check failed",
			zap.String("id", payload.RegistrationID),
			zap.Error(err))
		return err
	}
	return nil
}
