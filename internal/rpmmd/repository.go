// Package rpmmd describes the package engine the installer drives and the
// package metadata it reports back.
package rpmmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a requested package or group is not
// available from any configured repository.
var ErrNotFound = errors.New("not found")

type RepoConfig struct {
	Name        string   `json:"name" toml:"name" yaml:"name"`
	BaseURL     string   `json:"baseurl,omitempty" toml:"baseurl,omitempty" yaml:"baseurl,omitempty"`
	MirrorList  string   `json:"mirrorlist,omitempty" toml:"mirrorlist,omitempty" yaml:"mirrorlist,omitempty"`
	IncludePkgs []string `json:"includepkgs,omitempty" toml:"includepkgs,omitempty" yaml:"includepkgs,omitempty"`
	ExcludePkgs []string `json:"excludepkgs,omitempty" toml:"excludepkgs,omitempty" yaml:"excludepkgs,omitempty"`
}

// Validate checks that the repository has a name and exactly one source.
func (r RepoConfig) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("repository has no name")
	}
	if (r.BaseURL == "") == (r.MirrorList == "") {
		return fmt.Errorf("repository '%s' needs exactly one of baseurl and mirrorlist", r.Name)
	}
	return nil
}

// GroupInclude selects which members of a package group are installed.
type GroupInclude int

const (
	GroupDefault GroupInclude = iota
	GroupRequired
	GroupAll
)

var groupIncludeNames = map[GroupInclude]string{
	GroupDefault:  "default",
	GroupRequired: "required",
	GroupAll:      "all",
}

func (g GroupInclude) String() string {
	if name, ok := groupIncludeNames[g]; ok {
		return name
	}
	return "GroupInclude(" + strconv.Itoa(int(g)) + ")"
}

// PackageTypes lists the group member types g installs, in the form
// dnf's group_package_types option takes.
func (g GroupInclude) PackageTypes() []string {
	switch g {
	case GroupRequired:
		return []string{"mandatory"}
	case GroupAll:
		return []string{"mandatory", "default", "optional"}
	default:
		return []string{"mandatory", "default"}
	}
}

func ParseGroupInclude(s string) (GroupInclude, error) {
	if s == "" {
		return GroupDefault, nil
	}
	for g, name := range groupIncludeNames {
		if name == s {
			return g, nil
		}
	}
	return GroupDefault, fmt.Errorf("unknown group include mode '%s'", s)
}

func (g GroupInclude) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g *GroupInclude) UnmarshalText(text []byte) error {
	parsed, err := ParseGroupInclude(string(text))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// PackageEngine resolves and installs packages into an install root. All
// selections are collected first and applied by a single RunInstall.
type PackageEngine interface {
	Setup(ctx context.Context, cacheDir, installRoot string) error
	AddRepository(ctx context.Context, repo RepoConfig) error
	SelectPackage(ctx context.Context, spec string) error
	DeselectPackage(ctx context.Context, spec string) error
	SelectGroup(ctx context.Context, name string, include GroupInclude) error
	RunInstall(ctx context.Context) (PackageList, error)
	Close() error
}

type Package struct {
	Name    string
	Epoch   uint
	Version string
	Release string
	Arch    string
}

// ParsePackage parses a "name epoch:version-release.arch" line as printed
// by rpm with the query format used by the dnf engine.
func ParsePackage(line string) (Package, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Package{}, fmt.Errorf("malformed package line '%s'", line)
	}

	var pkg Package
	pkg.Name = fields[0]
	evra := fields[1]

	if i := strings.Index(evra, ":"); i >= 0 {
		epoch := evra[:i]
		if epoch != "(none)" {
			e, err := strconv.ParseUint(epoch, 10, 32)
			if err != nil {
				return Package{}, fmt.Errorf("malformed epoch in '%s': %w", line, err)
			}
			pkg.Epoch = uint(e)
		}
		evra = evra[i+1:]
	}

	dot := strings.LastIndex(evra, ".")
	if dot < 0 {
		return Package{}, fmt.Errorf("missing arch in '%s'", line)
	}
	pkg.Arch = evra[dot+1:]
	vr := evra[:dot]

	dash := strings.LastIndex(vr, "-")
	if dash < 0 {
		return Package{}, fmt.Errorf("missing release in '%s'", line)
	}
	pkg.Version, pkg.Release = vr[:dash], vr[dash+1:]
	return pkg, nil
}

func (p Package) String() string {
	if p.Epoch != 0 {
		return fmt.Sprintf("%s-%d:%s-%s.%s", p.Name, p.Epoch, p.Version, p.Release, p.Arch)
	}
	return fmt.Sprintf("%s-%s-%s.%s", p.Name, p.Version, p.Release, p.Arch)
}

// PackageList is kept sorted by name.
type PackageList []Package

func (packages PackageList) Sort() {
	sort.SliceStable(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})
}

// Search returns the index of the first package called name and the
// number of packages with that name.
func (packages PackageList) Search(name string) (int, int) {
	first := sort.Search(len(packages), func(i int) bool {
		return packages[i].Name >= name
	})

	if first == len(packages) || packages[first].Name != name {
		return first, 0
	}

	last := first + 1
	for last < len(packages) && packages[last].Name == name {
		last++
	}

	return first, last - first
}

func (packages PackageList) Contains(name string) bool {
	_, n := packages.Search(name)
	return n > 0
}
