// Package shrink returns an ext2/3/4 image to the smallest size that still
// holds its data. resize2fs has no "as small as possible" target, so the
// minimum is found by binary search over block counts.
package shrink

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/osbuild/images/pkg/datasizes"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

// Result describes a shrunk image.
type Result struct {
	TotalBlocks   uint64
	MinimalBlocks uint64
	// MinimizedKiB is the size of the minimal filesystem.
	MinimizedKiB uint64
	// Attempts is the number of resize2fs runs the search needed.
	Attempts int
}

type Shrinker struct {
	runner command.Runner
	logger logrus.FieldLogger
}

func New(runner command.Runner, logger logrus.FieldLogger) *Shrinker {
	return &Shrinker{runner: runner, logger: logger}
}

// MinimalBlocks searches (0, total] for the smallest block count fits
// accepts. fits must be monotonic and fits(total) is assumed to hold. It
// needs at most ceil(log2(total)) calls, and none at all when total is 1.
func MinimalBlocks(total uint64, fits func(blocks uint64) bool) (uint64, int, error) {
	if total == 0 {
		return 0, 0, fmt.Errorf("cannot shrink a filesystem of 0 blocks")
	}

	var bot uint64
	top := total
	attempts := 0
	for top != bot+1 {
		mid := bot + (top-bot)/2
		attempts++
		if fits(mid) {
			top = mid
		} else {
			bot = mid
		}
	}
	return top, attempts, nil
}

// BlockCount reads the block count from the superblock of image.
func (s *Shrinker) BlockCount(ctx context.Context, image string) (uint64, error) {
	out, err := s.runner.Run(ctx, command.New("dumpe2fs", "-h", image))
	if err != nil {
		return 0, common.InstallationErrorf(err, "Failed to read the superblock of '%s'", image)
	}
	return parseBlockCount(string(out))
}

func parseBlockCount(output string) (uint64, error) {
	const field = "Block count:"
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, field) {
			continue
		}
		count, err := strconv.ParseUint(strings.TrimSpace(line[len(field):]), 10, 64)
		if err != nil {
			return 0, common.InstallationErrorf(err, "Failed to parse field 'Block count'")
		}
		return count, nil
	}
	return 0, common.InstallationErrorf(nil, "Failed to find field 'Block count' in output")
}

// Resize runs resize2fs on target. size is passed through verbatim, so it
// can be a block count or carry a unit suffix.
func (s *Shrinker) Resize(ctx context.Context, target, size string) error {
	_, err := s.runner.Run(ctx, command.New("resize2fs", target, size))
	return err
}

// Check forces a filesystem check, fixing whatever it finds.
func (s *Shrinker) Check(ctx context.Context, image string) error {
	_, err := s.runner.Run(ctx, command.New("e2fsck", "-f", "-y", image))
	// 1 and 2 mean errors were found and corrected
	if code := command.ExitCode(err); code >= 4 || code < 0 {
		return common.InstallationErrorf(err, "Filesystem check of '%s' failed", image)
	}
	return nil
}

// Minimize shrinks image to its minimal block count and returns it.
func (s *Shrinker) Minimize(ctx context.Context, image string) (Result, error) {
	total, err := s.BlockCount(ctx, image)
	if err != nil {
		return Result{}, err
	}

	var ctxErr error
	minimal, attempts, err := MinimalBlocks(total, func(blocks uint64) bool {
		if ctxErr = ctx.Err(); ctxErr != nil {
			return true
		}
		return s.Resize(ctx, image, strconv.FormatUint(blocks, 10)) == nil
	})
	if err != nil {
		return Result{}, common.InstallationErrorf(err, "Failed to minimize '%s'", image)
	}
	if ctxErr != nil {
		return Result{}, ctxErr
	}

	return Result{TotalBlocks: total, MinimalBlocks: minimal, Attempts: attempts}, nil
}

// CleanupDeleted drops the blocks of deleted files from a sparse image:
// it shrinks the filesystem to its minimum, truncates the file to that
// size and grows the filesystem back, which leaves the tail unallocated.
func (s *Shrinker) CleanupDeleted(ctx context.Context, image string, blockSize uint64) (Result, error) {
	if err := s.Check(ctx, image); err != nil {
		return Result{}, err
	}

	res, err := s.Minimize(ctx, image)
	if err != nil {
		return Result{}, err
	}

	if err := os.Truncate(image, int64(res.MinimalBlocks*blockSize)); err != nil {
		return Result{}, common.InstallationErrorf(err, "Failed to truncate '%s'", image)
	}

	res.MinimizedKiB = res.MinimalBlocks * blockSize / datasizes.KiB
	s.logger.Infof("Installation target minimized to %dK", res.MinimizedKiB)

	if err := s.Resize(ctx, image, strconv.FormatUint(res.TotalBlocks, 10)); err != nil {
		return Result{}, common.InstallationErrorf(err, "Failed to grow '%s' back to %d blocks", image, res.TotalBlocks)
	}

	return res, nil
}
