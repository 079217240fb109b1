package mount

import (
	"context"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

// LoopbackMount exposes File through a loop device and mounts it on Target.
// A loop device must be attached before mounting and is only detached after
// unmounting.
type LoopbackMount struct {
	File   string
	FSType string

	runner     command.Runner
	logger     logrus.FieldLogger
	target     string
	device     string
	mounted    bool
	createdDir bool
}

// NewLoopbackMount describes a loop mount of file on target. An empty
// fstype lets mount probe the filesystem.
func NewLoopbackMount(runner command.Runner, logger logrus.FieldLogger, file, target, fstype string) *LoopbackMount {
	return &LoopbackMount{
		File:   file,
		FSType: fstype,
		runner: runner,
		logger: logger,
		target: target,
	}
}

func (l *LoopbackMount) Target() string {
	return l.target
}

func (l *LoopbackMount) Mounted() bool {
	return l.mounted
}

// Device is the attached loop device, or "" when none is attached.
func (l *LoopbackMount) Device() string {
	return l.device
}

// LoopSetup attaches File to the first free loop device.
func (l *LoopbackMount) LoopSetup(ctx context.Context) error {
	if l.device != "" {
		return nil
	}

	out, err := l.runner.Run(ctx, command.New("losetup", "--find", "--show", l.File))
	if err != nil {
		return common.MountErrorf(err, "Failed to allocate loop device for '%s'", l.File)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return common.MountErrorf(nil, "Failed to allocate loop device for '%s': no device reported", l.File)
	}

	l.device = fields[0]
	return nil
}

// LoopUnsetup detaches the loop device, if any. The handle is forgotten
// even when losetup fails so it is never reused.
func (l *LoopbackMount) LoopUnsetup(ctx context.Context) {
	if l.device == "" {
		return
	}
	if _, err := l.runner.Run(ctx, command.New("losetup", "-d", l.device)); err != nil {
		l.logger.Warnf("Detaching loop device '%s' failed: %v", l.device, err)
	}
	l.device = ""
}

func (l *LoopbackMount) Acquire(ctx context.Context) error {
	if l.mounted {
		return nil
	}

	if err := l.LoopSetup(ctx); err != nil {
		return err
	}

	if fi, err := os.Stat(l.target); err != nil || !fi.IsDir() {
		if err := os.MkdirAll(l.target, 0755); err != nil {
			return common.MountErrorf(err, "Failed to create mount point '%s'", l.target)
		}
		l.createdDir = true
	}

	args := []string{l.device, l.target}
	if l.FSType != "" {
		args = append(args, "-t", l.FSType)
	}
	if _, err := l.runner.Run(ctx, command.New("mount", args...)); err != nil {
		return common.MountErrorf(err, "Failed to mount '%s' to '%s'", l.device, l.target)
	}

	l.mounted = true
	return nil
}

func (l *LoopbackMount) Release(ctx context.Context) {
	if l.mounted {
		if _, err := l.runner.Run(ctx, command.New("umount", l.target)); err != nil {
			l.logger.Warnf("Unmounting '%s' failed: %v", l.target, err)
		}
		l.mounted = false
	}

	l.LoopUnsetup(ctx)

	if l.createdDir {
		if err := os.Remove(l.target); err != nil {
			l.logger.Debugf("Not removing mount point '%s': %v", l.target, err)
		}
		l.createdDir = false
	}
}
