package command_mock

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/osbuild/livecd-creator/internal/command"
)

// Handler scripts the outcome of one tool.
type Handler func(c command.Command) ([]byte, error)

// Runner records every command and answers with the handler registered
// for the tool's base name. Tools without a handler succeed silently.
type Runner struct {
	mu       sync.Mutex
	calls    []command.Command
	handlers map[string]Handler
}

func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// On registers h for the tool called name, replacing any previous handler.
func (r *Runner) On(name string, h Handler) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
	return r
}

func (r *Runner) Run(ctx context.Context, c command.Command) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	h := r.handlers[filepath.Base(c.Name)]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, nil
	}
	return h(c)
}

// Calls returns the recorded commands in execution order.
func (r *Runner) Calls() []command.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]command.Command(nil), r.calls...)
}

// Commands returns the recorded command lines in execution order.
func (r *Runner) Commands() []string {
	var lines []string
	for _, c := range r.Calls() {
		lines = append(lines, c.String())
	}
	return lines
}

// CallsTo returns the recorded invocations of the tool called name.
func (r *Runner) CallsTo(name string) []command.Command {
	var calls []command.Command
	for _, c := range r.Calls() {
		if filepath.Base(c.Name) == name {
			calls = append(calls, c)
		}
	}
	return calls
}

// Output answers with a fixed stdout.
func Output(stdout string) Handler {
	return func(command.Command) ([]byte, error) {
		return []byte(stdout), nil
	}
}

// Fail answers with an exit error carrying code.
func Fail(code int) Handler {
	return func(c command.Command) ([]byte, error) {
		return nil, &command.ExitError{Command: c.Name, Code: code}
	}
}

// Loop hands out /dev/loop0, /dev/loop1, ... to losetup --find --show and
// accepts every other losetup call.
func Loop() Handler {
	var mu sync.Mutex
	next := 0
	return func(c command.Command) ([]byte, error) {
		if len(c.Args) > 0 && c.Args[0] == "--find" {
			mu.Lock()
			defer mu.Unlock()
			dev := "/dev/loop" + strconv.Itoa(next)
			next++
			return []byte(dev + "\n"), nil
		}
		return nil, nil
	}
}

