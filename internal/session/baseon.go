package session

import (
	"context"
	"os"
	"path/filepath"

	"github.com/osbuild/livecd-creator/internal/cleanstack"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/mount"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// baseOnISO copies the root filesystem image out of an existing live ISO
// into the data directory. Both the current LiveOS layout and the legacy
// one with the images at the top level are understood.
func (s *Session) baseOnISO(ctx context.Context) (err error) {
	stack := cleanstack.NewCleanStack()
	defer func() {
		err = stack.Cleanup(err)
	}()

	isoloop := mount.NewLoopbackMount(s.runner, s.logger, s.opts.BaseOn, filepath.Join(s.buildDir, "base_on_iso"), "")
	stack.Push(func() error {
		isoloop.Release(ctx)
		return nil
	})
	if err := isoloop.Acquire(ctx); err != nil {
		return common.InstallationErrorf(err, "Failed to loopback mount '%s'", s.opts.BaseOn)
	}

	squashfs := filepath.Join(isoloop.Target(), "LiveOS", "squashfs.img")
	if !exists(squashfs) {
		squashfs = filepath.Join(isoloop.Target(), "squashfs.img")
	}
	if !exists(squashfs) {
		return common.InstallationErrorf(nil, "'%s' is not a valid live CD ISO : squashfs.img doesn't exist", s.opts.BaseOn)
	}

	squashloop := mount.NewLoopbackMount(s.runner, s.logger, squashfs, filepath.Join(s.buildDir, "base_on_squashfs"), "squashfs")
	stack.Push(func() error {
		squashloop.Release(ctx)
		return nil
	})
	if err := squashloop.Acquire(ctx); err != nil {
		return common.InstallationErrorf(err, "Failed to loopback mount squashfs.img from '%s'", s.opts.BaseOn)
	}

	var osImage string
	for _, candidate := range []string{"os.img", "LiveOS/ext3fs.img"} {
		if path := filepath.Join(squashloop.Target(), candidate); exists(path) {
			osImage = path
			break
		}
	}
	if osImage == "" {
		return common.InstallationErrorf(nil, "'%s' is not a valid live CD ISO : os.img doesn't exist", s.opts.BaseOn)
	}

	if err := common.CopyFile(osImage, s.ImagePath()); err != nil {
		return common.InstallationErrorf(err, "Failed to copy the root filesystem of '%s'", s.opts.BaseOn)
	}
	return nil
}
