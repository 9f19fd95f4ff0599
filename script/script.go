// Package script loads shell initializers. Each ".sh" file in an initializer directory becomes a phase that pipes the
// file to a shell and advances the boot sequence once the shell exits successfully.
package script

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkock/bootseq/v3"
)

// DefaultShell is the interpreter scripts are piped to when Loader.Shell is empty.
const DefaultShell = "sh"

// waitDelay bounds how long a cancelled script's children may hold on to its output.
const waitDelay = 2 * time.Second

// maxStderr bounds the amount of standard error kept in an ExitError.
const maxStderr = 4 << 10

// ExitError indicates that a script exited with a non-zero status.
type ExitError struct {
	Name   string
	Code   int
	Stderr string
}

// Error returns the error message for an ExitError.
func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("script %s exited with status %d", e.Name, e.Code)
	}
	return fmt.Sprintf("script %s exited with status %d: %s", e.Name, e.Code, e.Stderr)
}

// Loader loads ".sh" initializers.
type Loader struct {
	Shell string      // Interpreter, DefaultShell if empty.
	Dir   string      // Working directory of scripts, the current one if empty.
	Env   []string    // Extra environment variables, in "KEY=value" form.
	Log   *zap.Logger // Receives script output. Discarded if nil.
}

// New returns a Loader that pipes scripts to DefaultShell and logs their output to log.
func New(log *zap.Logger) *Loader {
	return &Loader{Log: log}
}

// Extensions implements bootseq.Loader.
func (l *Loader) Extensions() []string {
	return []string{".sh"}
}

// Load implements bootseq.Loader. The script is read when it is loaded, and run when its phase is dispatched.
func (l *Loader) Load(_ context.Context, e bootseq.Entry) (any, error) {
	body, err := fs.ReadFile(e.FS, e.Path)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", e.Name, err)
	}

	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	shell := l.Shell
	if shell == "" {
		shell = DefaultShell
	}
	return &Script{
		Name:  e.Name,
		Body:  body,
		shell: shell,
		dir:   l.Dir,
		env:   l.Env,
		log:   log.With(zap.String("script", e.Name)),
	}, nil
}

// Script is a loaded shell initializer. It is a bootseq.Booter.
type Script struct {
	Name string
	Body []byte

	shell string
	dir   string
	env   []string
	log   *zap.Logger
}

// Boot implements bootseq.Booter.
func (s *Script) Boot(ctx context.Context, next bootseq.Next) error {
	next(s.Run(ctx))
	return nil
}

// Run pipes the script to the shell and waits for it to exit. The script sees BOOTSEQ_SCRIPT set to its file name.
// A non-zero exit status is reported as an *ExitError.
func (s *Script) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, s.shell, "-s")
	cmd.Dir = s.dir
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Env = append(cmd.Env, "BOOTSEQ_SCRIPT="+s.Name)
	cmd.Stdin = bytes.NewReader(s.Body)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.log.Debug("running script", zap.String("shell", s.shell))
	err := cmd.Run()
	s.logLines("stdout", &stdout)
	s.logLines("stderr", &stderr)

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Name: s.Name, Code: exitErr.ExitCode(), Stderr: tail(stderr.String(), maxStderr)}
		}
		return fmt.Errorf("run script %s: %w", s.Name, err)
	}
	return nil
}

func (s *Script) logLines(stream string, buf *bytes.Buffer) {
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		s.log.Info(sc.Text(), zap.String("stream", stream))
	}
}

// tail returns the trimmed last n bytes of s.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return s
}

// Verify interface compliance.
var (
	_ bootseq.Loader = (*Loader)(nil)
	_ bootseq.Booter = (*Script)(nil)
	_ error          = (*ExitError)(nil)
)
