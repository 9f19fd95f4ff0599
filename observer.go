package bootseq

import (
	"context"
	"time"
)

// Observer is notified before and after each phase is dispatched. The context returned by PhaseStarted is the one
// handed to the phase and to PhaseFinished, which allows observers to attach values such as trace spans.
// For asynchronous phases, PhaseFinished is called when the phase signals completion, not when its goroutine returns.
type Observer interface {
	PhaseStarted(ctx context.Context, info PhaseInfo) context.Context
	PhaseFinished(ctx context.Context, info PhaseInfo, err error, elapsed time.Duration)
}

// ObserverFuncs adapts a pair of functions to the Observer interface. Either function may be nil.
type ObserverFuncs struct {
	Started  func(ctx context.Context, info PhaseInfo)
	Finished func(ctx context.Context, info PhaseInfo, err error, elapsed time.Duration)
}

// PhaseStarted implements Observer.
func (o ObserverFuncs) PhaseStarted(ctx context.Context, info PhaseInfo) context.Context {
	if o.Started != nil {
		o.Started(ctx, info)
	}
	return ctx
}

// PhaseFinished implements Observer.
func (o ObserverFuncs) PhaseFinished(ctx context.Context, info PhaseInfo, err error, elapsed time.Duration) {
	if o.Finished != nil {
		o.Finished(ctx, info, err, elapsed)
	}
}

// Verify that ObserverFuncs satisfies the Observer interface.
var _ Observer = ObserverFuncs{}
