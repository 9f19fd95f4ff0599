package bootseq

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// testApp is the target handed to phases under test. It records the order in which phases ran.
type testApp struct {
	name string

	mu    sync.Mutex // Protects field order.
	order []string
}

func newTestApp(name string) *testApp {
	return &testApp{name: name}
}

func (a *testApp) push(entry string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.order = append(a.order, entry)
}

func (a *testApp) Order() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return append([]string(nil), a.order...)
}

// pushOp returns a synchronous phase that records entry.
func pushOp(entry string) Func[*testApp] {
	return func(_ context.Context, app *testApp) error {
		app.push(entry)
		return nil
	}
}

// nameOp returns a synchronous phase that records entry along with the name of the app it was handed.
func nameOp(entry string) Func[*testApp] {
	return func(_ context.Context, app *testApp) error {
		app.push(entry + ":" + app.name)
		return nil
	}
}

// deferredOp returns an asynchronous phase that records entry from another goroutine before calling next with err.
func deferredOp(entry string, err error) AsyncFunc[*testApp] {
	return func(_ context.Context, app *testApp, next Next) error {
		go func() {
			if entry != "" {
				app.push(entry)
			}
			next(err)
		}()
		return nil
	}
}

var errPhase = errors.New("phase has failed")

// ErrOp (error operation) is a phase that fails.
func ErrOp(context.Context, *testApp) error {
	return errPhase
}

// PanicOp (panic operation) is a phase that panics.
func PanicOp(context.Context, *testApp) error {
	panic(errPhase.Error())
}

// StallOp (stall operation) is an asynchronous phase that never calls next, and returns once ctx is done.
func StallOp(ctx context.Context, _ *testApp, _ Next) error {
	<-ctx.Done()
	return nil
}

// SleepOp (sleep operation) is a phase that sleeps for a short while.
func SleepOp(context.Context, *testApp) error {
	time.Sleep(50 * time.Millisecond)
	return nil
}

// booter is a boot-capable object recording its name.
type booter struct {
	app  *testApp
	name string
	err  error
}

func (b *booter) Boot(_ context.Context, next Next) error {
	b.app.push(b.name)
	next(b.err)
	return nil
}

// syncBuffer is a log sink that may be read while a run writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error {
	return nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// verifyEventuallyContains waits up to a second for the sink to receive substr.
func verifyEventuallyContains(t *testing.T, sink *syncBuffer, substr string) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !strings.Contains(sink.String(), substr) {
		if time.Now().After(deadline) {
			t.Fatalf("expected log output to contain %q, got %q", substr, sink.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func verifyNilErr(t *testing.T, err error) {
	t.Helper()

	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func verifyErrorIs(t *testing.T, actual, expected error) {
	t.Helper()

	if !errors.Is(actual, expected) {
		t.Fatalf("expected error %q, got %v", expected, actual)
	}
}

func verifyStringsEqual(t *testing.T, expected, actual []string) {
	t.Helper()

	if len(actual) != len(expected) {
		t.Fatalf("expected %v (length %d), got %v (length %d)", expected, len(expected), actual, len(actual))
	}
	for i := range expected {
		if actual[i] != expected[i] {
			t.Fatalf("expected %q at index %d, got %q (full order: %v)", expected[i], i, actual[i], actual)
		}
	}
}

func verifyCountEq(t *testing.T, c int, expected int) {
	t.Helper()

	if c != expected {
		t.Fatalf("expected count to equal %d, got %d", expected, c)
	}
}

func verifyPanicWithMsg(t *testing.T, expected string) {
	t.Helper()

	v := recover()
	if v == nil {
		t.Fatal("expected a panic")
	}
	actual, ok := v.(string)
	if !ok {
		t.Fatalf("expected to panic with string, got %T", v)
	}
	if actual != expected {
		t.Fatalf("expected panic message to equal %q, got %q", expected, actual)
	}
}
