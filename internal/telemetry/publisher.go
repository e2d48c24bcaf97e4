package telemetry

import (
	"context"
	"errors"

	"github.com/mykyno/hydroponik/internal/control"
	"github.com/mykyno/hydroponik/internal/dosing"
)

// Publisher pushes controller state to an external system. Implementations
// are called from outside the control loop and may block on I/O.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap control.Snapshot) error
	PublishDose(ctx context.Context, ev dosing.DoseEvent) error
	Close() error
}

// Fanout forwards to every publisher and joins their errors. One failing
// publisher does not stop the others.
type Fanout []Publisher

func (f Fanout) PublishSnapshot(ctx context.Context, snap control.Snapshot) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishSnapshot(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) PublishDose(ctx context.Context, ev dosing.DoseEvent) error {
	var errs []error
	for _, p := range f {
		if err := p.PublishDose(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
