// Package command runs the external tools the image build is made of
// (mount, losetup, mkfs.ext3, dmsetup, mksquashfs, ...). Every component
// takes a Runner so that the build can be exercised with a scripted fake.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
)

// Command describes a single external tool invocation.
type Command struct {
	Name string
	Args []string

	// Dir is the working directory. When Chroot is set it is resolved
	// inside the new root and defaults to "/".
	Dir string

	// Env replaces the environment when non-nil. An empty, non-nil slice
	// runs the tool with no environment at all.
	Env []string

	// Chroot runs the tool with its root directory changed to this path.
	Chroot string

	Stdin io.Reader

	// Interactive attaches the tool to the process' own terminal.
	Interactive bool
}

// New returns a Command for name and args.
func New(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// InRoot returns a copy of c that runs chrooted into root.
func (c Command) InRoot(root string) Command {
	c.Chroot = root
	if c.Dir == "" {
		c.Dir = "/"
	}
	return c
}

// InDir returns a copy of c that runs in dir.
func (c Command) InDir(dir string) Command {
	c.Dir = dir
	return c
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes commands and returns their standard output.
type Runner interface {
	Run(ctx context.Context, c Command) ([]byte, error)
}

// ExitError is returned when a command ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with error (%d)", e.Command, e.Code)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExitCode returns the exit code carried by err, or -1 if err does not
// come from a command that ran to completion.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// Exec runs commands on the host.
type Exec struct {
	logger logrus.FieldLogger
}

func NewExec(logger logrus.FieldLogger) *Exec {
	return &Exec{logger: logger}
}

func (e *Exec) Run(ctx context.Context, c Command) ([]byte, error) {
	e.logger.WithField("chroot", c.Chroot).Debugf("running %s", c)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	if c.Chroot != "" {
		cmd.SysProcAttr = &syscall.SysProcAttr{Chroot: c.Chroot}
	}

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	if c.Interactive {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	} else {
		cmd.Stdin = c.Stdin
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	err := cmd.Run()
	if exitErr, ok := err.(*exec.ExitError); ok {
		return stdout.Bytes(), &ExitError{
			Command: c.Name,
			Code:    exitErr.ExitCode(),
			Stderr:  strings.TrimSpace(stderr.String()),
		}
	}
	if err != nil {
		return nil, fmt.Errorf("error starting %s: %w", c.Name, err)
	}

	return stdout.Bytes(), nil
}
