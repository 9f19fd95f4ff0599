package bootseq

import (
	"fmt"
)

const (
	// panicDuplicateEntry triggers when MustRegister is called twice with the same name.
	panicDuplicateEntry = "initializer registered twice"
)

// InvalidPhaseError indicates that a registered phase is neither a Func, an AsyncFunc nor a Booter. The value holds
// the dynamic type of the offending phase.
type InvalidPhaseError string

// Error returns the error message for an InvalidPhaseError.
func (i InvalidPhaseError) Error() string {
	return fmt.Sprintf("invalid phase: %s", string(i))
}

// UnregisteredEntryError indicates that an initializer file was found in a directory, but no Loader knows how to
// load it.
type UnregisteredEntryError string

// Error returns the error message for an UnregisteredEntryError.
func (u UnregisteredEntryError) Error() string {
	return fmt.Sprintf("no such initializer: %q", string(u))
}

// DuplicateEntryError indicates that an initializer with the same name was registered twice.
type DuplicateEntryError string

// Error returns the error message for a DuplicateEntryError.
func (d DuplicateEntryError) Error() string {
	return fmt.Sprintf("%s: %q", panicDuplicateEntry, string(d))
}

// PanicError wraps the value recovered from a phase that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

// Error returns the error message for a PanicError.
func (p *PanicError) Error() string {
	return fmt.Sprintf("phase panicked: %v", p.Value)
}

// Unwrap returns the recovered value if it was an error.
func (p *PanicError) Unwrap() error {
	err, _ := p.Value.(error)
	return err
}

// PhaseError identifies the phase that failed a boot sequence. Phase errors are passed through unmodified unless the
// Sequencer was created with WithPhaseErrors.
type PhaseError struct {
	Index int
	Name  string
	Err   error
}

// Error returns the error message for a PhaseError.
func (p *PhaseError) Error() string {
	return fmt.Sprintf("phase %d (%s): %v", p.Index, p.Name, p.Err)
}

// Unwrap returns the error produced by the phase.
func (p *PhaseError) Unwrap() error {
	return p.Err
}

// Check that errors satisfy the error interface.
var _ error = InvalidPhaseError("")
var _ error = UnregisteredEntryError("")
var _ error = DuplicateEntryError("")
var _ error = (*PanicError)(nil)
var _ error = (*PhaseError)(nil)
