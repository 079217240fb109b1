package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/osbuild/images/pkg/datasizes"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/definition"
	"github.com/osbuild/livecd-creator/internal/delta"
	"github.com/osbuild/livecd-creator/internal/dnf"
	"github.com/osbuild/livecd-creator/internal/install"
	"github.com/osbuild/livecd-creator/internal/packager"
	"github.com/osbuild/livecd-creator/internal/platform"
	"github.com/osbuild/livecd-creator/internal/prometheus"
	"github.com/osbuild/livecd-creator/internal/rpmmd"
	"github.com/osbuild/livecd-creator/internal/session"
	"github.com/osbuild/livecd-creator/internal/shrink"
)

const blockSize = 4096

var (
	osGeteuid = unix.Geteuid
	timeNow   = time.Now

	newRunner = func(logger logrus.FieldLogger) command.Runner {
		return command.NewExec(logger)
	}

	newEngine = func(runner command.Runner, logger logrus.FieldLogger, config *toolConfig) rpmmd.PackageEngine {
		return dnf.New(runner, logger, dnf.Options{
			Command:    config.DNF,
			ReleaseVer: config.ReleaseVer,
		})
	}
)

// usageError marks a bad command line. It makes the tool exit with 2.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usageErrorf(format string, a ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, a...)}
}

func exitCode(err error) int {
	var usageErr *usageError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &usageErr):
		return 2
	default:
		return 1
	}
}

type buildOptions struct {
	config          string
	baseOn          string
	fsLabel         string
	tmpDir          string
	cacheDir        string
	outputDir       string
	toolConfig      string
	metricsFile     string
	verbose         bool
	shell           bool
	skipCompression bool
}

func (o *buildOptions) validate() error {
	if o.config == "" {
		return usageErrorf("Build definition is required, see --config")
	}
	if fi, err := os.Stat(o.config); err != nil || fi.IsDir() {
		return usageErrorf("Build definition '%s' does not exist", o.config)
	}
	if o.baseOn != "" {
		if fi, err := os.Stat(o.baseOn); err != nil || fi.IsDir() {
			return usageErrorf("Live CD ISO '%s' does not exist", o.baseOn)
		}
	}
	if len(o.fsLabel) > maxLabelLength {
		return usageErrorf("CD labels are limited to %d characters", maxLabelLength)
	}
	return nil
}

func newRootCmd(opts *buildOptions, build func(ctx context.Context) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "livecd-creator --config <definition>",
		Short:         "Build a bootable live CD image",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unexpected arguments: %v", args)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(); err != nil {
				return err
			}
			return build(cmd.Context())
		},
	}
	cmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{msg: err.Error()}
	})

	flags := cmd.Flags()
	flags.StringVarP(&opts.config, "config", "c", "", "path to the build definition (TOML or YAML)")
	flags.StringVarP(&opts.baseOn, "base-on", "b", "", "add packages to an existing live CD iso9660 image")
	flags.StringVarP(&opts.fsLabel, "fslabel", "f", "", "file system label (default based on config name)")
	flags.StringVarP(&opts.tmpDir, "tmpdir", "t", "", "temporary directory to use (default: /var/tmp)")
	flags.StringVar(&opts.cacheDir, "cache", "", "package cache directory to use (default: private cache)")
	flags.StringVarP(&opts.outputDir, "output-dir", "o", ".", "directory the ISO is written to")
	flags.StringVar(&opts.toolConfig, "tool-config", defaultToolConfig, "path to the tool configuration")
	flags.StringVar(&opts.metricsFile, "metrics-file", "", "write build metrics to this file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "print debug messages")

	// debug options not recommended for "production" images
	flags.BoolVarP(&opts.shell, "shell", "l", false, "start a shell in the install root before packaging")
	flags.BoolVarP(&opts.skipCompression, "skip-compression", "s", false, "do not compress the root image")
	_ = flags.MarkHidden("shell")
	_ = flags.MarkHidden("skip-compression")

	return cmd
}

func run(ctx context.Context, args []string, getenv func(string) string, logger *logrus.Logger) error {
	var opts buildOptions
	cmd := newRootCmd(&opts, func(ctx context.Context) error {
		return build(ctx, &opts, getenv, logger)
	})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

func configureLogger(logger *logrus.Logger, opts *buildOptions, config *toolConfig) {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, _ := logrus.ParseLevel(config.LogLevel)
	if opts.verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)
	logger.AddHook(&common.BuildHook{})

	if config.LogTarget == "journal" {
		if common.JournalAvailable() {
			logger.AddHook(common.NewJournalHook("livecd-creator", level))
		} else {
			logger.Warn("Journal logging requested but the journal is not available")
		}
	}
}

func build(ctx context.Context, opts *buildOptions, getenv func(string) string, logger *logrus.Logger) (err error) {
	config, err := parseConfig(opts.toolConfig, logger)
	if err != nil {
		return err
	}
	configureLogger(logger, opts, config)

	if osGeteuid() != 0 {
		return fmt.Errorf("You must run livecd-creator as root")
	}

	if opts.tmpDir == "" {
		opts.tmpDir = config.TmpDir
	}
	if opts.cacheDir == "" {
		opts.cacheDir = config.CacheDir
	}
	if opts.metricsFile == "" {
		opts.metricsFile = config.MetricsFile
	}

	defer func() {
		prometheus.FinishBuild(err)
		if opts.metricsFile == "" {
			return
		}
		if mErr := prometheus.WriteTextfile(opts.metricsFile); mErr != nil {
			logger.Warnf("Cannot write metrics to %s: %v", opts.metricsFile, mErr)
		}
	}()

	err = createImage(ctx, opts, config, getenv, logger)
	var instErr *common.InstallationError
	if errors.As(err, &instErr) {
		return fmt.Errorf("Error creating Live CD : %w", err)
	}
	return err
}

func createImage(ctx context.Context, opts *buildOptions, config *toolConfig, getenv func(string) string, logger *logrus.Logger) error {
	def, err := definition.Load(opts.config)
	if err != nil {
		return err
	}
	if err := def.Validate(); err != nil {
		return err
	}
	if err := def.CheckHost(); err != nil {
		return err
	}
	imageSize, err := def.RootSizeBytes()
	if err != nil {
		return err
	}

	label := opts.fsLabel
	if label == "" {
		label = defaultLabel(opts.config, timeNow())
		logger.Infof("Using label %s", label)
	}

	runner := newRunner(logger)

	// an unsupported architecture must fail before anything is created
	arch := config.baseArch(getenv)
	plat, err := platform.New(arch, runner, logger)
	if err != nil {
		return err
	}

	engine := newEngine(runner, logger, config)
	sess := session.New(runner, logger, engine, session.Options{
		TmpDir:    opts.tmpDir,
		CacheDir:  opts.cacheDir,
		BaseOn:    opts.baseOn,
		Label:     label,
		ImageSize: imageSize,
		BlockSize: blockSize,
	})
	// teardown has to run even when the build was interrupted
	defer sess.Teardown(context.WithoutCancel(ctx))

	log := logger.WithField("session", sess.ID)
	log.Infof("Building %s image %s from %s", arch, label, opts.config)

	done := prometheus.ObservePhase("setup")
	err = sess.Setup(ctx)
	done()
	if err != nil {
		return err
	}

	installer := install.New(runner, log, engine, plat, def, install.Options{
		BuildDir:    sess.BuildDir(),
		InstallRoot: sess.InstallRoot(),
		OutDir:      sess.OutDir(),
		Label:       label,
	})
	done = prometheus.ObservePhase("install")
	res, err := installer.Install(ctx)
	done()
	if err != nil {
		return err
	}
	prometheus.InstalledPackages.Set(float64(len(res.Packages)))
	if err := sess.Advance(session.PhaseInstalled); err != nil {
		return err
	}

	if opts.shell {
		fmt.Println("Launching shell. Exit to continue.")
		fmt.Println("----------------------------------")
		if err := installer.LaunchShell(ctx); err != nil {
			return err
		}
	}

	sess.Unmount(ctx)

	done = prometheus.ObservePhase("shrink")
	shrunk, err := shrink.New(runner, log).CleanupDeleted(ctx, sess.ImagePath(), blockSize)
	done()
	if err != nil {
		return err
	}
	prometheus.MinimizedImageBytes.Set(float64(shrunk.MinimizedKiB * datasizes.KiB))

	done = prometheus.ObservePhase("delta")
	overlay, err := delta.New(runner, log, sess.ID).Generate(ctx, delta.Request{
		Image:        sess.ImagePath(),
		OutDir:       filepath.Join(sess.OutDir(), "LiveOS"),
		ImageSize:    shrunk.TotalBlocks * blockSize,
		MinimizedKiB: shrunk.MinimizedKiB,
	})
	done()
	if err != nil {
		return err
	}
	prometheus.OverlayBytes.Set(float64(overlay.UsedSectors * 512))
	if err := sess.Advance(session.PhaseShrunk); err != nil {
		return err
	}

	done = prometheus.ObservePhase("package")
	iso, err := packager.New(runner, log, plat, packager.Options{
		BuildDir:        sess.BuildDir(),
		Label:           label,
		OutputDir:       opts.outputDir,
		SkipCompression: opts.skipCompression,
	}).Package(ctx)
	done()
	if err != nil {
		return err
	}
	if err := sess.Advance(session.PhasePackaged); err != nil {
		return err
	}

	log.Infof("Live CD image written to %s", iso)
	return nil
}

func main() {
	logger := logrus.New()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Getenv, logger)
	cancel()

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		if exitCode(err) == 2 {
			fmt.Fprintln(os.Stderr, "Run 'livecd-creator --help' for usage.")
		}
	}
	os.Exit(exitCode(err))
}
