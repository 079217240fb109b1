package command_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/livecd-creator/internal/command"
)

func TestExecRunOutput(t *testing.T) {
	logger, hook := logrusTest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	r := command.NewExec(logger)

	out, err := r.Run(context.Background(), command.New("sh", "-c", "echo hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
	assert.Equal(t, "running sh -c echo hello", hook.LastEntry().Message)
}

func TestExecRunDirAndEnv(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	r := command.NewExec(logger)
	dir := t.TempDir()

	c := command.New("/bin/sh", "-c", "pwd; echo $LIVE_ROOT").InDir(dir)
	c.Env = []string{"LIVE_ROOT=/out"}
	out, err := r.Run(context.Background(), c)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "/out", lines[1])
}

func TestExecRunStdin(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	r := command.NewExec(logger)

	c := command.New("cat")
	c.Stdin = strings.NewReader("secret\n")
	out, err := r.Run(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "secret\n", string(out))
}

func TestExecRunExitError(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	r := command.NewExec(logger)

	_, err := r.Run(context.Background(), command.New("sh", "-c", "echo broken >&2; exit 4"))
	require.Error(t, err)

	var exitErr *command.ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 4, exitErr.Code)
	assert.Equal(t, "broken", exitErr.Stderr)
	assert.Equal(t, "sh exited with error (4): broken", err.Error())
	assert.Equal(t, 4, command.ExitCode(err))
}

func TestExecRunMissingBinary(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	r := command.NewExec(logger)

	_, err := r.Run(context.Background(), command.New("/nonexistent/livecd-tool"))
	require.Error(t, err)
	assert.Equal(t, -1, command.ExitCode(err))
	assert.Contains(t, err.Error(), "error starting /nonexistent/livecd-tool")
}

func TestCommandHelpers(t *testing.T) {
	c := command.New("restorecon", "-v", "-r", "/").InRoot("/build/install_root")
	assert.Equal(t, "/build/install_root", c.Chroot)
	assert.Equal(t, "/", c.Dir)
	assert.Equal(t, "restorecon -v -r /", c.String())
	assert.Equal(t, 0, command.ExitCode(nil))
}
