package pipeline

import (
	"context"

	"github.com/ashureev/scenegen/internal/domain"
)

// Observer receives progress events for a request.
// Callbacks run synchronously on the request's goroutine and receive a
// context that is not canceled when the caller disconnects.
type Observer interface {
	Started(ctx context.Context, req domain.GenerationRequest)
	AttemptFinished(ctx context.Context, req domain.GenerationRequest, rec domain.AttemptRecord)
	Finished(ctx context.Context, req domain.GenerationRequest, res Result, err error)
}

type multiObserver []Observer

func (m multiObserver) Started(ctx context.Context, req domain.GenerationRequest) {
	for _, o := range m {
		o.Started(ctx, req)
	}
}

func (m multiObserver) AttemptFinished(ctx context.Context, req domain.GenerationRequest, rec domain.AttemptRecord) {
	for _, o := range m {
		o.AttemptFinished(ctx, req, rec)
	}
}

func (m multiObserver) Finished(ctx context.Context, req domain.GenerationRequest, res Result, err error) {
	for _, o := range m {
		o.Finished(ctx, req, res, err)
	}
}
