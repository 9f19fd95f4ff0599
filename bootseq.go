package bootseq

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Next is the continuation handed to asynchronous phases. Calling it with a nil error advances the boot sequence,
// calling it with a non-nil error halts it and fails the run with that error.
// Next blocks until the run it belongs to has settled and returns the outcome of that run, which means that any code a
// phase places after its call to Next runs once every later phase has completed. Only the first call has any effect.
type Next func(err error) error

// Func is a synchronous phase. The sequence advances as soon as it returns nil, and fails if it returns an error.
type Func[T any] func(ctx context.Context, app T) error

// AsyncFunc is an asynchronous phase. The phase decides when the sequence advances by calling next, possibly from
// another goroutine. Returning an error before next has been called fails the sequence.
type AsyncFunc[T any] func(ctx context.Context, app T, next Next) error

// Booter is implemented by objects that know how to boot themselves, typically objects that need to establish a
// persistent connection to a database or a message queue. Boot behaves like an AsyncFunc that does not see the app.
type Booter interface {
	Boot(ctx context.Context, next Next) error
}

// Kind is the shape of a phase, as determined when it is dispatched.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindSync
	KindAsync
	KindBoot
	KindValue
)

// String returns the name of the Kind.
func (k Kind) String() string {
	switch k {
	case KindSync:
		return "sync"
	case KindAsync:
		return "async"
	case KindBoot:
		return "boot"
	case KindValue:
		return "value"
	default:
		return "invalid"
	}
}

// PhaseInfo describes a dispatched phase. Depth is 0 for phases registered with a Sequencer, and increases by one for
// every directory phase the entry is nested in.
type PhaseInfo struct {
	RunID string
	Index int
	Name  string
	Kind  Kind
	Depth int
}

// named attaches a display name to a phase.
type named struct {
	name  string
	phase any
}

// Named returns p with the given display name. The name is used for logging, by Observers, and in PhaseError.
func Named(name string, p any) any {
	return named{name, p}
}

// unwrapName returns the outermost display name of p along with the phase itself.
func unwrapName(p any) (string, any) {
	name := ""
	for {
		n, ok := p.(named)
		if !ok {
			return name, p
		}
		if name == "" {
			name = n.name
		}
		p = n.phase
	}
}

// phaseName derives a display name for phases that were not given one.
func phaseName(p any) string {
	if p == nil {
		return "<nil>"
	}
	if _, ok := p.(Booter); ok {
		return fmt.Sprintf("%T.Boot", p)
	}
	v := reflect.ValueOf(p)
	if v.Kind() == reflect.Func && !v.IsNil() {
		if fn := runtime.FuncForPC(v.Pointer()); fn != nil {
			return fn.Name()
		}
	}
	return fmt.Sprintf("%T", p)
}

// resolve determines the shape of p. Booters are checked first, then asynchronous and synchronous funcs. Funcs of any
// other signature are reported as KindInvalid, like nil. Any other value is reported as KindValue.
func resolve[T any](p any) (Kind, Func[T], AsyncFunc[T]) {
	switch p := p.(type) {
	case nil:
		return KindInvalid, nil, nil
	case Booter:
		return KindBoot, nil, func(ctx context.Context, _ T, next Next) error {
			return p.Boot(ctx, next)
		}
	case AsyncFunc[T]:
		return KindAsync, nil, p
	case func(context.Context, T, Next) error:
		return KindAsync, nil, p
	case Func[T]:
		return KindSync, p, nil
	case func(context.Context, T) error:
		return KindSync, p, nil
	}
	if reflect.ValueOf(p).Kind() == reflect.Func {
		return KindInvalid, nil, nil
	}
	return KindValue, nil, nil
}

// Option configures a Sequencer.
type Option func(*options)

type options struct {
	log        *zap.Logger
	observers  []Observer
	wrapErrors bool
}

// defaultSink receives the warnings and errors of Sequencers created without WithLogger.
var defaultSink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)

// defaultLogger writes warnings and errors to defaultSink, so that a failed run is reported even if nobody waits for
// its Result.
func defaultLogger() *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), defaultSink, zapcore.WarnLevel))
}

// WithLogger sets the logger used to report the progress of each run. The default logger writes warnings and errors
// to standard error.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithObserver adds observers that are notified before and after each phase, including phases loaded from
// initializer directories.
func WithObserver(obs ...Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs...)
	}
}

// WithPhaseErrors wraps the error of a failing phase in a PhaseError carrying its index and name.
func WithPhaseErrors() Option {
	return func(o *options) {
		o.wrapErrors = true
	}
}

// RunOption configures a single run.
type RunOption func(*runConfig)

type runConfig struct {
	callback func(error)
}

// OnComplete sets a completion callback. The callback is invoked exactly once, with nil on success or with the
// failing error. When a callback is set, it is the only channel through which failures are reported: Result.Wait
// returns nil once the callback has returned.
func OnComplete(fn func(err error)) RunOption {
	return func(c *runConfig) {
		c.callback = fn
	}
}

// Sequencer provides registration and execution of boot phases. The type parameter is the type of the value that is
// handed to each phase, usually the application being booted.
type Sequencer[T any] struct {
	mu     sync.Mutex // Protects field phases.
	owner  T
	phases []any
	opts   options
}

// New returns a Sequencer without phases. The owner is handed to phases unless a run supplies another target.
func New[T any](owner T, opts ...Option) *Sequencer[T] {
	s := &Sequencer[T]{owner: owner, opts: options{log: defaultLogger()}}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Phase appends p to the boot sequence. The shape of p is not checked until it is dispatched. Phase returns the
// receiver for chaining.
func (s *Sequencer[T]) Phase(p any) *Sequencer[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.phases = append(s.phases, p)
	return s
}

// Len returns the number of phases currently registered.
func (s *Sequencer[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.phases)
}

// Boot runs the boot sequence with the owner as target and blocks until it has completed.
func (s *Sequencer[T]) Boot(ctx context.Context) error {
	return s.Run(ctx).Wait()
}

// BootWith runs the boot sequence with the given target and blocks until it has completed.
func (s *Sequencer[T]) BootWith(ctx context.Context, target T) error {
	return s.RunWith(ctx, target).Wait()
}

// Run starts the boot sequence with the owner as target. See RunWith.
func (s *Sequencer[T]) Run(ctx context.Context, opts ...RunOption) *Result {
	return s.RunWith(ctx, s.owner, opts...)
}

// RunWith starts the boot sequence on a new goroutine and returns immediately. Phases are dispatched in the order in
// which they were registered and receive target as their app argument. The returned Result settles when the last
// phase has completed or the first phase has failed.
// Cancelling ctx fails the run with ctx.Err() before the next phase is dispatched, or while waiting for an
// asynchronous phase to signal completion.
func (s *Sequencer[T]) RunWith(ctx context.Context, target T, opts ...RunOption) *Result {
	var cfg runConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	runID := uuid.New().String()
	e := &env[T]{
		runID:      runID,
		target:     target,
		log:        s.opts.log.With(zap.String("run_id", runID)),
		observers:  s.opts.observers,
		wrapErrors: s.opts.wrapErrors,
	}
	res := &Result{done: make(chan struct{})}

	go s.exec(ctx, e, res, cfg.callback)
	return res
}

// cursor returns a cursor over the registry. The registry is read as the run progresses, not copied.
func (s *Sequencer[T]) cursor() cursor {
	idx := 0
	return func(context.Context) (any, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if idx >= len(s.phases) {
			return nil, false
		}
		p := s.phases[idx]
		idx++
		return p, true
	}
}

// exec drives a single run to completion and delivers its outcome.
func (s *Sequencer[T]) exec(ctx context.Context, e *env[T], res *Result, callback func(error)) {
	start := time.Now()
	e.log.Info("boot sequence started", zap.Int("phases", s.Len()))

	seq := newSequence(ctx, e, 0, false)
	err := seq.drive(s.cursor())
	seq.settle(err)

	if err != nil {
		e.log.Error("boot sequence failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
	} else {
		e.log.Info("boot sequence completed", zap.Duration("duration", time.Since(start)))
	}

	if callback != nil {
		callback(err)
		err = nil
	}
	res.err = err
	close(res.done)
}

// Result is the pending outcome of a run.
type Result struct {
	done chan struct{}
	err  error
}

// Done returns a channel that is closed once the run has settled.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run has settled. It returns the error of the first failing phase, or nil on success or when
// the run was started with OnComplete.
func (r *Result) Wait() error {
	<-r.done
	return r.err
}

// Err returns the outcome of a settled run. It returns nil while the run is still in progress.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
