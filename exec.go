package bootseq

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// env holds the state shared by every sequence of a single run, including the sequences of nested directory phases.
type env[T any] struct {
	runID      string
	target     T
	log        *zap.Logger
	observers  []Observer
	wrapErrors bool
}

// cursor yields the phases of a sequence one at a time. ok is false once the sequence is exhausted.
type cursor func(ctx context.Context) (p any, ok bool)

// lazy is a phase that must be loaded before its shape can be determined.
type lazy func(ctx context.Context) (any, error)

// sequenceKey is the context key under which a sequence stores itself, so that directory phases can find the run
// they are part of.
type sequenceKey[T any] struct{}

// sequence drives one ordered list of phases: either the registry of a Sequencer, or the entries of an initializer
// directory. Phases are dispatched one at a time. Asynchronous phases run on goroutines owned by the sequence's
// group, so that they may keep running after signalling completion; settle waits for them.
type sequence[T any] struct {
	ctx     context.Context
	env     *env[T]
	depth   int
	lenient bool // Treat values that are not phases as already run.
	group   errgroup.Group
	settled chan struct{}
	outcome error
}

func newSequence[T any](ctx context.Context, e *env[T], depth int, lenient bool) *sequence[T] {
	s := &sequence[T]{
		env:     e,
		depth:   depth,
		lenient: lenient,
		settled: make(chan struct{}),
	}
	s.ctx = context.WithValue(ctx, sequenceKey[T]{}, s)
	return s
}

// enclosing returns the sequence that dispatched the phase running under ctx, if any.
func enclosing[T any](ctx context.Context) *sequence[T] {
	s, _ := ctx.Value(sequenceKey[T]{}).(*sequence[T])
	return s
}

// drive dispatches phases until the cursor is exhausted or a phase fails.
func (s *sequence[T]) drive(next cursor) error {
	for i := 0; ; i++ {
		p, ok := next(s.ctx)
		if !ok {
			return nil
		}
		// It's possible to interrupt the sequence between each phase.
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if err := s.step(i, p); err != nil {
			return err
		}
	}
}

// settle records the outcome of the sequence, releases every continuation that is blocked waiting for it, and waits
// for the goroutines of asynchronous phases to return.
func (s *sequence[T]) settle(outcome error) {
	s.outcome = outcome
	close(s.settled)

	if err := s.group.Wait(); err != nil {
		s.env.log.Warn("phase returned an error after signalling completion",
			zap.Int("depth", s.depth), zap.Error(err))
	}
}

// step loads (if needed), observes and dispatches a single phase.
func (s *sequence[T]) step(index int, p any) error {
	name, p := unwrapName(p)
	info := PhaseInfo{RunID: s.env.runID, Index: index, Name: name, Depth: s.depth}

	var loadErr error
	if load, ok := p.(lazy); ok {
		p, loadErr = load(s.ctx)
	}

	kind, syncFn, asyncFn := resolve[T](p)
	info.Kind = kind
	if info.Name == "" {
		info.Name = phaseName(p)
	}

	log := s.env.log.With(
		zap.String("phase", info.Name),
		zap.Int("index", info.Index),
		zap.Stringer("kind", info.Kind),
		zap.Int("depth", info.Depth),
	)

	ctx := s.ctx
	for _, obs := range s.env.observers {
		ctx = obs.PhaseStarted(ctx, info)
	}
	log.Debug("phase started")
	start := time.Now()

	err := loadErr
	if err == nil {
		err = s.dispatch(ctx, kind, p, syncFn, asyncFn)
	}

	elapsed := time.Since(start)
	for i := len(s.env.observers) - 1; i >= 0; i-- {
		s.env.observers[i].PhaseFinished(ctx, info, err, elapsed)
	}

	if err != nil {
		log.Debug("phase failed", zap.Error(err), zap.Duration("duration", elapsed))
		if s.env.wrapErrors {
			err = &PhaseError{Index: info.Index, Name: info.Name, Err: err}
		}
		return err
	}
	log.Debug("phase completed", zap.Duration("duration", elapsed))
	return nil
}

// dispatch runs a single phase according to its shape.
func (s *sequence[T]) dispatch(ctx context.Context, kind Kind, p any, syncFn Func[T], asyncFn AsyncFunc[T]) error {
	switch kind {
	case KindSync:
		return protect(func() error {
			return syncFn(ctx, s.env.target)
		})
	case KindAsync, KindBoot:
		return s.await(func(next Next) error {
			return asyncFn(ctx, s.env.target, next)
		})
	case KindValue:
		if s.lenient {
			// Loading the value was sufficient to run it.
			return nil
		}
		return InvalidPhaseError(phaseName(p))
	default:
		// Funcs of an unknown signature are never considered done.
		if s.lenient && p == nil {
			return nil
		}
		return InvalidPhaseError(phaseName(p))
	}
}

// await runs an asynchronous phase on a goroutine and blocks until it signals completion through its continuation,
// fails, or the context is cancelled.
func (s *sequence[T]) await(fn func(Next) error) error {
	sig := newSignal()
	next := func(err error) error {
		sig.send(err)
		<-s.settled
		return s.outcome
	}

	s.group.Go(func() error {
		err := protect(func() error {
			return fn(next)
		})
		if err != nil && !sig.send(err) {
			return err
		}
		return nil
	})

	select {
	case err := <-sig.ch:
		return err
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// signal delivers the first error value sent to it, and ignores the rest.
type signal struct {
	once sync.Once
	ch   chan error
}

func newSignal() *signal {
	return &signal{ch: make(chan error, 1)}
}

// send delivers err unless a value has already been delivered. It reports whether err was delivered.
func (s *signal) send(err error) (sent bool) {
	s.once.Do(func() {
		s.ch <- err
		sent = true
	})
	return sent
}

// protect calls fn and turns a panic into a PanicError.
func protect(fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn()
}
