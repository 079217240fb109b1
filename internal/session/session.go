// Package session owns the resources of one image build: the private
// build directory, the root image loop mount and the bind mounts that turn
// the install root into something a package manager can chroot into.
package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/cleanstack"
	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/mount"
)

// Engine is the part of the package engine whose lifetime the session
// controls.
type Engine interface {
	Setup(ctx context.Context, cacheDir, installRoot string) error
	Close() error
}

type Options struct {
	// TmpDir is where the private build directory is created.
	TmpDir string
	// CacheDir holds a package cache shared between builds. Builds use a
	// private one when empty.
	CacheDir string
	// BaseOn is an existing live ISO whose root filesystem is reused.
	BaseOn string

	Label     string
	ImageSize uint64
	BlockSize uint64
}

type bindSpec struct {
	source string
	dest   string
	// optional binds are skipped when the host lacks the source
	optional bool
}

var systemBinds = []bindSpec{
	{source: "/sys"},
	{source: "/proc"},
	{source: "/dev"},
	{source: "/dev/pts"},
	{source: "/selinux", optional: true},
}

var procMounts = "/proc/self/mounts"

type Session struct {
	// ID is unique per session and names host-global resources such as
	// device-mapper nodes.
	ID string

	opts   Options
	runner command.Runner
	logger logrus.FieldLogger
	engine Engine

	phase      Phase
	buildDir   string
	root       mount.Binding
	binds      []mount.Binding
	mtab       string
	engineOpen bool
}

func New(runner command.Runner, logger logrus.FieldLogger, engine Engine, opts Options) *Session {
	id := uuid.New().String()
	return &Session{
		ID:     id,
		opts:   opts,
		runner: runner,
		logger: logger.WithField("session", id),
		engine: engine,
	}
}

func (s *Session) BuildDir() string {
	return s.buildDir
}

func (s *Session) InstallRoot() string {
	return filepath.Join(s.buildDir, "install_root")
}

func (s *Session) OutDir() string {
	return filepath.Join(s.buildDir, "out")
}

func (s *Session) DataDir() string {
	return filepath.Join(s.buildDir, "data")
}

// ImagePath is the root filesystem image.
func (s *Session) ImagePath() string {
	return filepath.Join(s.buildDir, "data", "LiveOS", "ext3fs.img")
}

// Bindings returns the bind mounts in acquisition order.
func (s *Session) Bindings() []mount.Binding {
	return append([]mount.Binding(nil), s.binds...)
}

// Setup creates the build directory, mounts the root image on the install
// root and attaches the host directories the installation needs.
func (s *Session) Setup(ctx context.Context) error {
	if s.phase != PhaseNew {
		return fmt.Errorf("session %s already set up", s.ID)
	}

	dir, err := os.MkdirTemp(s.opts.TmpDir, "livecd-creator-")
	if err != nil {
		return common.InstallationErrorf(err, "Failed create build directory in %s", s.opts.TmpDir)
	}
	s.buildDir = dir
	s.logger.Infof("Using build directory %s", dir)

	for _, d := range []string{"out/LiveOS", "data/LiveOS", "install_root", "yum-cache"} {
		if err := os.MkdirAll(filepath.Join(dir, d), 0755); err != nil {
			return common.InstallationErrorf(err, "Failed to create %s", d)
		}
	}

	if s.opts.BaseOn != "" {
		if err := s.baseOnISO(ctx); err != nil {
			return err
		}
		s.root = mount.NewLoopbackMount(s.runner, s.logger, s.ImagePath(), s.InstallRoot(), "")
	} else {
		s.root = mount.NewSparseImage(s.runner, s.logger, s.ImagePath(), s.InstallRoot(),
			s.opts.ImageSize, s.opts.BlockSize, s.opts.Label)
	}

	if err := s.root.Acquire(ctx); err != nil {
		return common.InstallationErrorf(err, "Failed to loopback mount '%s'", s.ImagePath())
	}
	s.phase = PhaseAcquired

	if s.opts.BaseOn == "" {
		for _, d := range []string{"etc", "boot", "var/log", "var/cache/yum"} {
			if err := os.MkdirAll(filepath.Join(s.InstallRoot(), d), 0755); err != nil {
				return common.InstallationErrorf(err, "Failed to create /%s in the install root", d)
			}
		}
	}

	cacheBase := s.opts.CacheDir
	if cacheBase == "" {
		cacheBase = dir
	}
	cacheDir := filepath.Join(cacheBase, "yum-cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return common.InstallationErrorf(err, "Failed to create package cache %s", cacheDir)
	}

	binds := append([]bindSpec(nil), systemBinds...)
	binds = append(binds, bindSpec{source: cacheDir, dest: "/var/cache/yum"})
	for _, spec := range binds {
		if spec.optional {
			if _, err := os.Stat(spec.source); err != nil {
				s.logger.Debugf("Skipping bind mount of missing %s", spec.source)
				continue
			}
		}
		dest := spec.dest
		if dest == "" {
			dest = spec.source
		}
		s.binds = append(s.binds, mount.NewBindMount(s.runner, s.logger, spec.source, filepath.Join(s.InstallRoot(), dest)))
	}

	for _, b := range s.binds {
		if err := b.Acquire(ctx); err != nil {
			return common.InstallationErrorf(err, "Failed to attach %s", b.Target())
		}
	}

	mtab := filepath.Join(s.InstallRoot(), "etc", "mtab")
	switch err := os.Symlink("../proc/mounts", mtab); {
	case err == nil:
		s.mtab = mtab
	case !errors.Is(err, os.ErrExist):
		return common.InstallationErrorf(err, "Failed to create %s", mtab)
	}

	if err := writeFstab(s.InstallRoot()); err != nil {
		return common.InstallationErrorf(err, "Failed to write /etc/fstab")
	}
	s.phase = PhasePopulated

	if s.engine != nil {
		if err := s.engine.Setup(ctx, cacheDir, s.InstallRoot()); err != nil {
			return common.InstallationErrorf(err, "Failed to set up the package engine")
		}
		s.engineOpen = true
	}

	return nil
}

// Unmount releases the package engine and every mount, leaving the build
// directory and the images in it on disk.
func (s *Session) Unmount(ctx context.Context) {
	stack := cleanstack.NewCleanStack()

	if s.root != nil {
		root := s.root
		stack.Push(func() error {
			root.Release(ctx)
			return nil
		})
		s.root = nil
	}

	for _, b := range s.binds {
		b := b
		stack.Push(func() error {
			b.Release(ctx)
			return nil
		})
	}
	s.binds = nil

	if s.mtab != "" {
		mtab := s.mtab
		stack.Push(func() error {
			if err := os.Remove(mtab); err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			return nil
		})
		s.mtab = ""
	}

	if s.engineOpen {
		stack.Push(s.engine.Close)
		s.engineOpen = false
	}

	if err := stack.Cleanup(nil); err != nil {
		s.logger.Warnf("Unmounting build session: %v", err)
	}
}

// Teardown releases everything the session holds and deletes the build
// directory. It is safe to call in any phase and more than once.
func (s *Session) Teardown(ctx context.Context) {
	if s.phase == PhaseTornDown {
		return
	}
	s.Unmount(ctx)

	if s.buildDir != "" {
		busy, err := mountedUnder(s.buildDir)
		switch {
		case err != nil:
			s.logger.Warnf("Cannot check mounts below %s: %v", s.buildDir, err)
		case len(busy) > 0:
			s.logger.Errorf("Not removing %s, still mounted: %s", s.buildDir, strings.Join(busy, ", "))
		default:
			if err := os.RemoveAll(s.buildDir); err != nil {
				s.logger.Warnf("Cannot remove build directory: %v", err)
			}
		}
	}

	s.phase = PhaseTornDown
}

// mountedUnder lists the mount points at or below dir.
func mountedUnder(dir string) ([]string, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var busy []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		target := strings.ReplaceAll(fields[1], `\040`, " ")
		if target == dir || strings.HasPrefix(target, dir+"/") {
			busy = append(busy, target)
		}
	}
	return busy, scanner.Err()
}
