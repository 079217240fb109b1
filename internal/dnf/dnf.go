// Package dnf implements rpmmd.PackageEngine on top of the dnf command line
// tool. Selections are validated against the repositories as they are made
// and installed in as few dnf transactions as possible by RunInstall.
package dnf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

const rpmQueryFormat = "%{NAME} %{EPOCH}:%{VERSION}-%{RELEASE}.%{ARCH}\\n"

var confTemplate = template.Must(template.New("dnf.conf").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`[main]
installroot={{.InstallRoot}}
cachedir={{.CacheDir}}
keepcache=1
plugins=0
reposdir=
gpgcheck=0
{{range .Repos}}
[{{.Name}}]
name={{.Name}}
{{- if .BaseURL}}
baseurl={{.BaseURL}}
{{- end}}
{{- if .MirrorList}}
mirrorlist={{.MirrorList}}
{{- end}}
enabled=1
gpgcheck=0
metadata_expire=0
{{- if .IncludePkgs}}
includepkgs={{join .IncludePkgs " "}}
{{- end}}
{{- if .ExcludePkgs}}
excludepkgs={{join .ExcludePkgs " "}}
{{- end}}
{{end}}`))

type Options struct {
	// Command is the dnf binary, "dnf" when empty.
	Command string
	// ReleaseVer overrides the release version dnf cannot detect from an
	// empty install root.
	ReleaseVer string
}

type Engine struct {
	runner command.Runner
	logger logrus.FieldLogger
	opts   Options

	confPath    string
	cacheDir    string
	installRoot string
	repos       []rpmmd.RepoConfig
	packages    []string
	excludes    []string
	groups      map[rpmmd.GroupInclude][]string
}

func New(runner command.Runner, logger logrus.FieldLogger, opts Options) *Engine {
	if opts.Command == "" {
		opts.Command = "dnf"
	}
	return &Engine{
		runner: runner,
		logger: logger,
		opts:   opts,
		groups: make(map[rpmmd.GroupInclude][]string),
	}
}

// ConfPath is the private dnf configuration, empty before Setup.
func (e *Engine) ConfPath() string {
	return e.confPath
}

func (e *Engine) Setup(ctx context.Context, cacheDir, installRoot string) error {
	if e.confPath != "" {
		return fmt.Errorf("dnf engine already set up for %s", e.installRoot)
	}

	f, err := os.CreateTemp("", "livecd-creator-dnf-*.conf")
	if err != nil {
		return fmt.Errorf("creating dnf configuration: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}

	e.confPath = f.Name()
	e.cacheDir = cacheDir
	e.installRoot = installRoot
	return e.writeConf()
}

func (e *Engine) writeConf() error {
	f, err := os.Create(e.confPath)
	if err != nil {
		return fmt.Errorf("writing dnf configuration: %w", err)
	}

	err = confTemplate.Execute(f, struct {
		InstallRoot string
		CacheDir    string
		Repos       []rpmmd.RepoConfig
	}{e.installRoot, e.cacheDir, e.repos})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("writing dnf configuration: %w", err)
	}
	return nil
}

func (e *Engine) dnf(args ...string) command.Command {
	base := []string{"--config", e.confPath, "--assumeyes"}
	if e.opts.ReleaseVer != "" {
		base = append(base, "--releasever", e.opts.ReleaseVer)
	}
	return command.New(e.opts.Command, append(base, args...)...)
}

func (e *Engine) AddRepository(ctx context.Context, repo rpmmd.RepoConfig) error {
	if e.confPath == "" {
		return errors.New("dnf engine is not set up")
	}
	if err := repo.Validate(); err != nil {
		return err
	}
	if slices.ContainsFunc(e.repos, func(r rpmmd.RepoConfig) bool { return r.Name == repo.Name }) {
		return fmt.Errorf("repository '%s' added twice", repo.Name)
	}

	e.repos = append(e.repos, repo)
	return e.writeConf()
}

// SelectPackage marks spec for installation. spec may carry the globs dnf
// understands.
func (e *Engine) SelectPackage(ctx context.Context, spec string) error {
	out, err := e.runner.Run(ctx, e.dnf("--quiet", "repoquery", "--qf", "%{name}", spec))
	if err != nil {
		return fmt.Errorf("querying package %s: %w", spec, err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("package %s: %w", spec, rpmmd.ErrNotFound)
	}

	if !slices.Contains(e.packages, spec) {
		e.packages = append(e.packages, spec)
	}
	return nil
}

func (e *Engine) DeselectPackage(ctx context.Context, spec string) error {
	if idx := slices.Index(e.packages, spec); idx >= 0 {
		e.packages = slices.Delete(e.packages, idx, idx+1)
	}
	if !slices.Contains(e.excludes, spec) {
		e.excludes = append(e.excludes, spec)
	}
	return nil
}

func (e *Engine) SelectGroup(ctx context.Context, name string, include rpmmd.GroupInclude) error {
	out, err := e.runner.Run(ctx, e.dnf("--quiet", "group", "info", name))
	if err != nil {
		return fmt.Errorf("querying group %s: %w", name, err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return fmt.Errorf("group %s: %w", name, rpmmd.ErrNotFound)
	}

	for _, names := range e.groups {
		if slices.Contains(names, name) {
			return nil
		}
	}
	e.groups[include] = append(e.groups[include], name)
	return nil
}

// transactions splits the selection into dnf install invocations, one per
// group include mode. Plain packages ride along with the first one.
func (e *Engine) transactions() [][]string {
	var txs [][]string
	packages := e.packages
	for _, include := range []rpmmd.GroupInclude{rpmmd.GroupDefault, rpmmd.GroupRequired, rpmmd.GroupAll} {
		groups := e.groups[include]
		if len(groups) == 0 {
			continue
		}
		args := []string{"--setopt=group_package_types=" + strings.Join(include.PackageTypes(), ",")}
		for _, g := range groups {
			args = append(args, "@"+g)
		}
		txs = append(txs, append(args, packages...))
		packages = nil
	}
	if len(packages) > 0 {
		txs = append(txs, append([]string(nil), packages...))
	}
	return txs
}

func (e *Engine) RunInstall(ctx context.Context) (rpmmd.PackageList, error) {
	if e.confPath == "" {
		return nil, errors.New("dnf engine is not set up")
	}

	txs := e.transactions()
	if len(txs) == 0 {
		return nil, errors.New("nothing selected for installation")
	}

	for _, tx := range txs {
		args := []string{"install"}
		for _, x := range e.excludes {
			args = append(args, "--exclude="+x)
		}
		args = append(args, tx...)

		e.logger.Infof("Installing %s", strings.Join(tx, " "))
		if _, err := e.runner.Run(ctx, e.dnf(args...)); err != nil {
			return nil, fmt.Errorf("installing packages: %w", err)
		}
	}

	out, err := e.runner.Run(ctx, command.New("rpm", "--root", e.installRoot, "-qa", "--qf", rpmQueryFormat))
	if err != nil {
		return nil, fmt.Errorf("listing installed packages: %w", err)
	}

	var installed rpmmd.PackageList
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		pkg, err := rpmmd.ParsePackage(line)
		if err != nil {
			return nil, err
		}
		installed = append(installed, pkg)
	}
	installed.Sort()
	return installed, nil
}

// Close removes the private configuration. It may be called more than
// once.
func (e *Engine) Close() error {
	if e.confPath == "" {
		return nil
	}
	path := e.confPath
	e.confPath = ""
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
