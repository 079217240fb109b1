// Package delta produces the minimal overlay shipped next to the live
// image. A device-mapper snapshot of the root image is shrunk to the
// minimized size; the copy-on-write store then holds exactly the blocks
// that resize2fs moved, which is what a fast installation has to replay.
package delta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/osbuild/images/pkg/datasizes"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/cleanstack"
	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/mount"
	"github.com/osbuild/livecd-creator/internal/packager"
)

const (
	overlaySize = 64 * datasizes.MiB
	sectorSize  = 512
)

type Request struct {
	// Image is the full size root filesystem image.
	Image string
	// OutDir receives osmin.img.
	OutDir string
	// ImageSize is the size of Image in bytes.
	ImageSize uint64
	// MinimizedKiB is the size the filesystem can be shrunk to.
	MinimizedKiB uint64
}

type Overlay struct {
	// Path is the compressed overlay.
	Path string
	// UsedSectors is the number of copy-on-write sectors in use.
	UsedSectors uint64
}

type Generator struct {
	runner command.Runner
	logger logrus.FieldLogger
	// SessionID makes the device-mapper name unique across builds.
	SessionID string
}

func New(runner command.Runner, logger logrus.FieldLogger, sessionID string) *Generator {
	return &Generator{runner: runner, logger: logger, SessionID: sessionID}
}

// DeviceName is the name of the snapshot device.
func (g *Generator) DeviceName() string {
	return "livecd-creator-" + g.SessionID
}

// ParseSnapshotStatus extracts the number of used sectors from the
// dmsetup status line of a snapshot target:
//
//	<start> <length> snapshot <used>/<total> [<metadata>]
func ParseSnapshotStatus(status string) (uint64, error) {
	fields := strings.Fields(status)
	if len(fields) < 4 || fields[2] != "snapshot" {
		return 0, common.InstallationErrorf(nil, "Unexpected snapshot status '%s'", strings.TrimSpace(status))
	}

	parts := strings.Split(fields[3], "/")
	if len(parts) != 2 {
		return 0, common.InstallationErrorf(nil, "Unexpected snapshot usage '%s'", fields[3])
	}
	used, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, common.InstallationErrorf(err, "Unexpected snapshot usage '%s'", fields[3])
	}
	return used, nil
}

// Generate writes <OutDir>/osmin.img. Every device it sets up is released
// before it returns, whatever the outcome.
func (g *Generator) Generate(ctx context.Context, req Request) (ov Overlay, err error) {
	osmin := filepath.Join(req.OutDir, "osmin")
	defer func() {
		if rmErr := os.Remove(osmin); rmErr != nil && !os.IsNotExist(rmErr) {
			g.logger.Warnf("Cannot remove %s: %v", osmin, rmErr)
		}
	}()

	if err := mount.CreateSparseFile(osmin, overlaySize); err != nil {
		return Overlay{}, common.InstallationErrorf(err, "Failed to create overlay file '%s'", osmin)
	}

	used, err := g.snapshotUsage(ctx, req, osmin)
	if err != nil {
		return Overlay{}, err
	}

	if err := os.Truncate(osmin, int64(used*sectorSize)); err != nil {
		return Overlay{}, common.InstallationErrorf(err, "Failed to truncate '%s'", osmin)
	}

	if err := packager.Mksquashfs(ctx, g.runner, "osmin.img", []string{"osmin"}, req.OutDir); err != nil {
		return Overlay{}, err
	}

	g.logger.Infof("Delta overlay uses %d sectors", used)
	return Overlay{
		Path:        filepath.Join(req.OutDir, "osmin.img"),
		UsedSectors: used,
	}, nil
}

// snapshotUsage shrinks a snapshot of the image backed by osmin and
// reports how many sectors of osmin the shrink wrote.
func (g *Generator) snapshotUsage(ctx context.Context, req Request, osmin string) (used uint64, err error) {
	stack := cleanstack.NewCleanStack()
	defer func() {
		cleanErr := stack.Cleanup(nil)
		if cleanErr == nil {
			return
		}
		// a snapshot left behind keeps the image busy, its usage can't be trusted
		if err == nil {
			used = 0
			err = common.InstallationErrorf(cleanErr, "Could not remove snapshot device %s", g.DeviceName())
			return
		}
		g.logger.Warnf("Releasing snapshot devices: %v", cleanErr)
	}()

	image := mount.NewLoopbackMount(g.runner, g.logger, req.Image, "", "")
	if err := image.LoopSetup(ctx); err != nil {
		return 0, common.InstallationErrorf(err, "Failed to set up the snapshot origin")
	}
	stack.Push(func() error {
		image.LoopUnsetup(ctx)
		return nil
	})

	overlay := mount.NewLoopbackMount(g.runner, g.logger, osmin, "", "")
	if err := overlay.LoopSetup(ctx); err != nil {
		return 0, common.InstallationErrorf(err, "Failed to set up the snapshot store")
	}
	stack.Push(func() error {
		overlay.LoopUnsetup(ctx)
		return nil
	})

	name := g.DeviceName()
	table := fmt.Sprintf("0 %d snapshot %s %s p 8", req.ImageSize/sectorSize, image.Device(), overlay.Device())
	if _, err := g.runner.Run(ctx, command.New("dmsetup", "--table", table, "create", name)); err != nil {
		return 0, common.InstallationErrorf(err, "Could not create snapshot device using: %s", table)
	}
	stack.Push(func() error {
		if _, err := g.runner.Run(ctx, command.New("dmsetup", "remove", name)); err != nil {
			return fmt.Errorf("removing %s: %w", name, err)
		}
		return nil
	})

	dev := filepath.Join("/dev/mapper", name)
	if _, err := g.runner.Run(ctx, command.New("resize2fs", dev, fmt.Sprintf("%dK", req.MinimizedKiB))); err != nil {
		return 0, common.InstallationErrorf(err, "Could not shrink snapshot device %s", dev)
	}

	out, err := g.runner.Run(ctx, command.New("dmsetup", "status", name))
	if err != nil {
		return 0, common.InstallationErrorf(err, "Could not query snapshot device %s", name)
	}
	return ParseSnapshotStatus(string(out))
}
