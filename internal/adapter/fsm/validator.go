package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/vendoriq/internal/domain"
)

var _ domain.TransitionValidator = (*Validator)(nil)

// events groups domain.Transitions by event and destination, so "reject"
// from both review states becomes one EventDesc with two sources.
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type edge struct {
		event domain.Event
		dst   domain.Status
	}
	sources := make(map[edge][]string)
	var order []edge

	for _, t := range domain.Transitions {
		e := edge{event: t.Event, dst: t.Dst}
		if _, seen := sources[e]; !seen {
			order = append(order, e)
		}
		sources[e] = append(sources[e], string(t.Src))
	}

	descs := make([]loopfsm.EventDesc, len(order))
	for i, e := range order {
		descs[i] = loopfsm.EventDesc{Name: string(e.event), Src: sources[e], Dst: string(e.dst)}
	}
	return descs
}

// Validator is a domain.TransitionValidator backed by looplab/fsm.
// looplab machines hold their own current state, so each Apply builds a
// throwaway machine seeded with the application's stored status.
type Validator struct{}

// New returns a validator for the vendor onboarding lifecycle.
func New() *Validator {
	return &Validator{}
}

// Apply returns the status event leads to from current, or a
// *domain.TransitionError when the lifecycle does not allow it.
func (v *Validator) Apply(ctx context.Context, current domain.Status, event domain.Event) (domain.Status, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(event)); err != nil {
		var (
			invalid loopfsm.InvalidEventError
			unknown loopfsm.UnknownEventError
			noop    loopfsm.NoTransitionError
		)
		if errors.As(err, &invalid) || errors.As(err, &unknown) || errors.As(err, &noop) {
			return "", &domain.TransitionError{Event: event, Current: current}
		}
		return "", err
	}

	return domain.Status(machine.Current()), nil
}
