// Package packager turns a build directory into the final bootable image:
// a squashfs of the data tree, an ISO9660 image of the output tree and,
// when the tooling is around, an implanted media check checksum.
package packager

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

// BootImage supplies the architecture specific boot catalog arguments of
// the ISO authoring tool.
type BootImage interface {
	ISOArguments(label, outDir string) []string
}

var (
	isTerminal = func() bool {
		_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
		return err == nil
	}

	implantISOMD5Paths = []string{
		"/usr/bin/implantisomd5",
		"/usr/lib/anaconda-runtime/implantisomd5",
	}

	lookPath = exec.LookPath
)

// Mksquashfs compresses files, relative to dir, into output.
func Mksquashfs(ctx context.Context, runner command.Runner, output string, files []string, dir string) error {
	args := append(append([]string{}, files...), output)
	if !isTerminal() {
		args = append(args, "-no-progress")
	}
	if _, err := runner.Run(ctx, command.New("mksquashfs", args...).InDir(dir)); err != nil {
		return common.InstallationErrorf(err, "Failed to create %s", output)
	}
	return nil
}

type Options struct {
	BuildDir string
	Label    string
	// OutputDir receives <label>.iso.
	OutputDir       string
	SkipCompression bool
}

type Packager struct {
	runner command.Runner
	logger logrus.FieldLogger
	boot   BootImage
	opts   Options
}

func New(runner command.Runner, logger logrus.FieldLogger, boot BootImage, opts Options) *Packager {
	return &Packager{
		runner: runner,
		logger: logger,
		boot:   boot,
		opts:   opts,
	}
}

// ISOPath is where the bootable image is written.
func (p *Packager) ISOPath() string {
	return filepath.Join(p.opts.OutputDir, p.opts.Label+".iso")
}

// CreateSquashedImage compresses the data tree into out/LiveOS, or moves
// the raw root image there when compression is skipped.
func (p *Packager) CreateSquashedImage(ctx context.Context) error {
	if p.opts.SkipCompression {
		src := filepath.Join(p.opts.BuildDir, "data", "LiveOS", "ext3fs.img")
		dst := filepath.Join(p.opts.BuildDir, "out", "LiveOS", "ext3fs.img")
		if err := os.Rename(src, dst); err != nil {
			return common.InstallationErrorf(err, "Failed to move the uncompressed image")
		}
		return nil
	}
	return Mksquashfs(ctx, p.runner, filepath.Join("out", "LiveOS", "squashfs.img"), []string{"data"}, p.opts.BuildDir)
}

// CreateBootableImage writes the ISO9660 image of the output tree.
func (p *Packager) CreateBootableImage(ctx context.Context) (string, error) {
	iso := p.ISOPath()
	args := append([]string{"-o", iso}, p.boot.ISOArguments(p.opts.Label, filepath.Join(p.opts.BuildDir, "out"))...)
	if _, err := p.runner.Run(ctx, command.New("mkisofs", args...)); err != nil {
		return "", common.InstallationErrorf(err, "ISO creation failed!")
	}
	return iso, nil
}

func findImplantISOMD5() string {
	for _, path := range implantISOMD5Paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	if path, err := lookPath("implantisomd5"); err == nil {
		return path
	}
	return ""
}

// ImplantIntegrityChecksum embeds a media check checksum into iso. It only
// warns when that is not possible.
func (p *Packager) ImplantIntegrityChecksum(ctx context.Context, iso string) {
	tool := findImplantISOMD5()
	if tool == "" {
		p.logger.Warn("isomd5sum not installed; not setting up mediacheck")
		return
	}
	if _, err := p.runner.Run(ctx, command.New(tool, iso)); err != nil {
		p.logger.Warnf("Implanting the media check checksum failed: %v", err)
	}
}

// Package runs all packaging steps and returns the path of the ISO.
func (p *Packager) Package(ctx context.Context) (string, error) {
	if err := p.CreateSquashedImage(ctx); err != nil {
		return "", err
	}
	iso, err := p.CreateBootableImage(ctx)
	if err != nil {
		return "", err
	}
	p.ImplantIntegrityChecksum(ctx, iso)
	return iso, nil
}
