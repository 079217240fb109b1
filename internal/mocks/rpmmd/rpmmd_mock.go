package rpmmd_mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

type Group struct {
	Name    string
	Include rpmmd.GroupInclude
}

// Fixture describes what the fake repositories offer.
type Fixture struct {
	// Available packages and groups. A nil map makes everything available.
	Packages map[string]bool
	Groups   map[string]bool

	SetupErr   error
	InstallErr error

	// OnInstall runs during RunInstall with the install root, so tests can
	// lay down the files a real installation would produce.
	OnInstall func(installRoot string) error
}

// Engine is an in-memory rpmmd.PackageEngine.
type Engine struct {
	Fixture Fixture

	mu          sync.Mutex
	CacheDir    string
	InstallRoot string
	Repos       []rpmmd.RepoConfig
	Selected    []string
	Deselected  []string
	SelectedGrp []Group
	Installed   bool
	Closed      int
}

func NewEngine(fixture Fixture) *Engine {
	return &Engine{Fixture: fixture}
}

func (e *Engine) Setup(ctx context.Context, cacheDir, installRoot string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fixture.SetupErr != nil {
		return e.Fixture.SetupErr
	}
	e.CacheDir, e.InstallRoot = cacheDir, installRoot
	return nil
}

func (e *Engine) AddRepository(ctx context.Context, repo rpmmd.RepoConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Repos = append(e.Repos, repo)
	return nil
}

func (e *Engine) SelectPackage(ctx context.Context, spec string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fixture.Packages != nil && !e.Fixture.Packages[spec] {
		return fmt.Errorf("package %s: %w", spec, rpmmd.ErrNotFound)
	}
	e.Selected = append(e.Selected, spec)
	return nil
}

func (e *Engine) DeselectPackage(ctx context.Context, spec string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Deselected = append(e.Deselected, spec)
	return nil
}

func (e *Engine) SelectGroup(ctx context.Context, name string, include rpmmd.GroupInclude) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fixture.Groups != nil && !e.Fixture.Groups[name] {
		return fmt.Errorf("group %s: %w", name, rpmmd.ErrNotFound)
	}
	e.SelectedGrp = append(e.SelectedGrp, Group{Name: name, Include: include})
	return nil
}

func (e *Engine) RunInstall(ctx context.Context) (rpmmd.PackageList, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Fixture.InstallErr != nil {
		return nil, e.Fixture.InstallErr
	}
	if e.Fixture.OnInstall != nil {
		if err := e.Fixture.OnInstall(e.InstallRoot); err != nil {
			return nil, err
		}
	}
	e.Installed = true

	var installed rpmmd.PackageList
	for _, name := range e.Selected {
		installed = append(installed, rpmmd.Package{Name: name, Version: "1", Release: "1", Arch: "noarch"})
	}
	installed.Sort()
	return installed, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Closed++
	return nil
}
