package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/osbuild/images/pkg/datasizes"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

// CreateSparseFile makes path a file of exactly size bytes with only its
// last byte written, so almost none of it is allocated on disk.
func CreateSparseFile(path string, size uint64) error {
	if size == 0 {
		return fmt.Errorf("cannot create empty sparse file %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	/* #nosec G302 G304 */
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}

	if _, err := f.Seek(int64(size-1), 0); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write([]byte{0}); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// SparseImage is a freshly created, ext3 formatted, loop mounted image.
type SparseImage struct {
	*LoopbackMount

	// Size of the image in bytes, a whole number of MiB.
	Size      uint64
	BlockSize uint64
	Label     string
}

func NewSparseImage(runner command.Runner, logger logrus.FieldLogger, file, target string, size, blockSize uint64, label string) *SparseImage {
	return &SparseImage{
		LoopbackMount: NewLoopbackMount(runner, logger, file, target, "ext3"),
		Size:          size,
		BlockSize:     blockSize,
		Label:         label,
	}
}

// Create writes the sparse backing file.
func (s *SparseImage) Create() error {
	if s.Size%datasizes.MiB != 0 {
		return common.MountErrorf(nil, "Image size %d is not a whole number of MiB", s.Size)
	}
	if err := CreateSparseFile(s.File, s.Size); err != nil {
		return common.MountErrorf(err, "Error creating sparse file '%s'", s.File)
	}
	return nil
}

// Format builds the ext3 filesystem and tunes it for a live image.
func (s *SparseImage) Format(ctx context.Context) error {
	if s.BlockSize == 0 {
		return common.MountErrorf(nil, "Invalid block size 0")
	}

	blocks := strconv.FormatUint(s.Size/s.BlockSize, 10)
	_, err := s.runner.Run(ctx, command.New("mkfs.ext3", "-F", "-L", s.Label, "-m", "1",
		"-b", strconv.FormatUint(s.BlockSize, 10), s.File, blocks))
	if err != nil {
		return common.MountErrorf(err, "Error creating ext3 filesystem")
	}

	_, err = s.runner.Run(ctx, command.New("tune2fs", "-c0", "-i0", "-Odir_index", "-ouser_xattr,acl", s.File))
	if err != nil {
		s.logger.Warnf("Tuning ext3 filesystem on '%s' failed: %v", s.File, err)
	}

	return nil
}

// Acquire creates, formats and mounts the image.
func (s *SparseImage) Acquire(ctx context.Context) error {
	if s.Mounted() {
		return nil
	}
	if err := s.Create(); err != nil {
		return err
	}
	if err := s.Format(ctx); err != nil {
		return err
	}
	return s.LoopbackMount.Acquire(ctx)
}
