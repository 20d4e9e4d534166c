package notifier

import (
	"context"
	"errors"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Sink is anything that wants to hear about finished runs.
type Sink interface {
	RunFinished(ctx context.Context, rep *model.RunReport, aggs []model.Aggregate) error
}

// Multi fans a run out to every sink and joins their errors.
type Multi []Sink

func (m Multi) RunFinished(ctx context.Context, rep *model.RunReport, aggs []model.Aggregate) error {
	var errs []error
	for _, s := range m {
		if err := s.RunFinished(ctx, rep, aggs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
