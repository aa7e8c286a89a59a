package checkout

import (
	"context"
	"errors"
	"fmt"
)

// ErrAllStrategiesFailed is returned by RunFirstSuccess when no strategy succeeded.
var ErrAllStrategiesFailed = errors.New("checkout: all strategies failed")

// Strategy is one named attempt at a best-effort operation.
type Strategy struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunFirstSuccess runs strategies in order and stops at the first that succeeds, returning its
// name. Failures are reported to onFailure and otherwise ignored.
func RunFirstSuccess(ctx context.Context, strategies []Strategy, onFailure func(name string, err error)) (string, error) {
	var errs []error
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := s.Run(ctx)
		if err == nil {
			return s.Name, nil
		}
		if onFailure != nil {
			onFailure(s.Name, err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	if len(errs) == 0 {
		return "", ErrAllStrategiesFailed
	}
	return "", fmt.Errorf("%w: %w", ErrAllStrategiesFailed, errors.Join(errs...))
}
