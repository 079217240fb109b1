// Package install populates a mounted install root: it installs packages
// through the package engine, configures the installed system, builds the
// live initramfs and stages the bootloader.
package install

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/definition"
	"github.com/osbuild/livecd-creator/internal/platform"
	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

var checkISOMD5Paths = []string{
	"usr/lib/anaconda-runtime/checkisomd5",
	"usr/bin/checkisomd5",
}

type Options struct {
	BuildDir    string
	InstallRoot string
	OutDir      string
	Label       string
}

// Result is what installation learned about the image.
type Result struct {
	Packages rpmmd.PackageList
	Kernel   platform.KernelArtifact
	// MediaCheck is set when the image can verify its boot media.
	MediaCheck bool
	Boot       *platform.BootSpec
}

type Installer struct {
	runner   command.Runner
	logger   logrus.FieldLogger
	engine   rpmmd.PackageEngine
	platform platform.Platform
	def      *definition.Definition
	opts     Options
}

func New(runner command.Runner, logger logrus.FieldLogger, engine rpmmd.PackageEngine, p platform.Platform, def *definition.Definition, opts Options) *Installer {
	return &Installer{
		runner:   runner,
		logger:   logger,
		engine:   engine,
		platform: p,
		def:      def,
		opts:     opts,
	}
}

func (i *Installer) rootPath(elem ...string) string {
	return filepath.Join(append([]string{i.opts.InstallRoot}, elem...)...)
}

func (i *Installer) exists(elem ...string) bool {
	_, err := os.Stat(i.rootPath(elem...))
	return err == nil
}

func (i *Installer) inRoot(name string, args ...string) command.Command {
	return command.New(name, args...).InRoot(i.opts.InstallRoot)
}

// Install runs every installation step in order and stops at the first
// failure.
func (i *Installer) Install(ctx context.Context) (*Result, error) {
	res := &Result{}

	for _, repo := range i.def.Repositories {
		if err := i.engine.AddRepository(ctx, repo); err != nil {
			return nil, common.InstallationErrorf(err, "Unable to add repository '%s'", repo.Name)
		}
	}

	packages, err := i.InstallPackages(ctx)
	if err != nil {
		return nil, err
	}
	res.Packages = packages
	i.logger.Infof("Installed %d packages", len(packages))

	for _, path := range checkISOMD5Paths {
		if i.exists(path) {
			res.MediaCheck = true
			break
		}
	}

	if err := i.ConfigureSystem(ctx); err != nil {
		return nil, common.InstallationErrorf(err, "Error configuring live image")
	}
	if err := i.ConfigureNetwork(); err != nil {
		return nil, err
	}
	i.RelabelSystem(ctx)

	kernel, err := i.CreateInitramfs(ctx)
	if err != nil {
		return nil, err
	}
	res.Kernel = kernel

	env := platform.BootEnv{
		InstallRoot:   i.opts.InstallRoot,
		OutDir:        i.opts.OutDir,
		Label:         i.opts.Label,
		Kernel:        kernel,
		KernelOptions: i.KernelOptions(),
		MediaCheck:    res.MediaCheck,
	}
	boot, err := i.platform.StageBootArtifacts(ctx, env)
	if err != nil {
		return nil, err
	}
	if err := i.platform.EmitBootConfig(env, boot); err != nil {
		return nil, err
	}
	res.Boot = boot

	if err := i.RunPost(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

// InstallPackages selects the definition's packages and groups together
// with what the platform needs, and installs them.
func (i *Installer) InstallPackages(ctx context.Context) (rpmmd.PackageList, error) {
	var packages []string
	for _, pkg := range append(append([]string{}, i.def.Packages...), i.platform.GetPackages()...) {
		if !slices.Contains(packages, pkg) {
			packages = append(packages, pkg)
		}
	}

	for _, pkg := range packages {
		if err := i.engine.SelectPackage(ctx, pkg); err != nil {
			if !errors.Is(err, rpmmd.ErrNotFound) {
				return nil, common.InstallationErrorf(err, "Unable to install")
			}
			if !i.def.IgnoreMissing() {
				return nil, common.InstallationErrorf(err, "Failed to find package '%s'", pkg)
			}
			i.logger.Warnf("Unable to find package '%s'; skipping", pkg)
		}
	}

	for _, group := range i.def.Groups {
		if err := i.engine.SelectGroup(ctx, group.Name, group.Include); err != nil {
			if !errors.Is(err, rpmmd.ErrNotFound) {
				return nil, common.InstallationErrorf(err, "Unable to install")
			}
			if !i.def.IgnoreMissing() {
				return nil, common.InstallationErrorf(err, "Failed to find group '%s'", group.Name)
			}
			i.logger.Warnf("Unable to find group '%s'; skipping", group.Name)
		}
	}

	for _, pkg := range append(append([]string{}, i.def.ExcludePackages...), i.platform.GetExcludedPackages()...) {
		if err := i.engine.DeselectPackage(ctx, pkg); err != nil {
			return nil, common.InstallationErrorf(err, "Unable to exclude '%s'", pkg)
		}
	}

	installed, err := i.engine.RunInstall(ctx)
	if err != nil {
		return nil, common.InstallationErrorf(err, "Unable to install")
	}
	return installed, nil
}

// RelabelSystem applies the SELinux file contexts of the installed policy.
func (i *Installer) RelabelSystem(ctx context.Context) {
	if !i.def.SELinuxEnabled() || !i.exists("sbin", "restorecon") {
		return
	}
	if _, err := i.runner.Run(ctx, i.inRoot("/sbin/restorecon", "-v", "-r", "/")); err != nil {
		i.logger.Warnf("Relabelling the image failed: %v", err)
	}
}

// LaunchShell runs an interactive shell in the install root.
func (i *Installer) LaunchShell(ctx context.Context) error {
	c := i.inRoot("/bin/bash")
	c.Interactive = true
	_, err := i.runner.Run(ctx, c)
	if command.ExitCode(err) > 0 {
		return nil
	}
	return err
}
