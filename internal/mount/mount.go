// Package mount manages the OS resources a build holds: bind mounts, loop
// devices and loop-mounted filesystems. Acquire and Release are idempotent,
// and Release is best effort: it logs failures and always runs every step.
package mount

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

// Binding is a mount owned by a build session.
type Binding interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context)
	Mounted() bool
	Target() string
}

// BindMount attaches Source at Target.
type BindMount struct {
	Source string

	runner  command.Runner
	logger  logrus.FieldLogger
	target  string
	mounted bool
}

func NewBindMount(runner command.Runner, logger logrus.FieldLogger, source, target string) *BindMount {
	return &BindMount{
		Source: source,
		runner: runner,
		logger: logger,
		target: target,
	}
}

func (b *BindMount) Target() string {
	return b.target
}

func (b *BindMount) Mounted() bool {
	return b.mounted
}

func (b *BindMount) Acquire(ctx context.Context) error {
	if b.mounted {
		return nil
	}

	if err := os.MkdirAll(b.target, 0755); err != nil {
		return common.MountErrorf(err, "Bind-mounting '%s' to '%s' failed", b.Source, b.target)
	}

	_, err := b.runner.Run(ctx, command.New("mount", "--bind", b.Source, b.target))
	if err != nil {
		return common.MountErrorf(err, "Bind-mounting '%s' to '%s' failed", b.Source, b.target)
	}

	b.mounted = true
	return nil
}

func (b *BindMount) Release(ctx context.Context) {
	if !b.mounted {
		return
	}
	if _, err := b.runner.Run(ctx, command.New("umount", b.target)); err != nil {
		b.logger.Warnf("Unmounting '%s' failed: %v", b.target, err)
	}
	b.mounted = false
}
