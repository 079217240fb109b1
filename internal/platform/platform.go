// Package platform holds the architecture specific parts of a live image:
// the bootloader files staged into the ISO tree, the boot menu written
// next to them and the boot catalog arguments of the ISO authoring tool.
package platform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

type Arch uint64

const (
	ARCH_I386 Arch = iota
	ARCH_X86_64
	ARCH_PPC
	ARCH_PPC64
)

func (a Arch) String() string {
	switch a {
	case ARCH_I386:
		return "i386"
	case ARCH_X86_64:
		return "x86_64"
	case ARCH_PPC:
		return "ppc"
	case ARCH_PPC64:
		return "ppc64"
	default:
		panic("invalid architecture")
	}
}

// KernelArtifact is the kernel the image boots. Paths are on the host.
type KernelArtifact struct {
	Version   string
	Vmlinuz   string
	Initramfs string
}

// BootEnv is what the bootloader configuration is built from.
type BootEnv struct {
	InstallRoot string
	OutDir      string
	Label       string
	Kernel      KernelArtifact
	// KernelOptions are appended to every boot entry.
	KernelOptions string
	// MediaCheck adds an entry that verifies the media before booting.
	MediaCheck bool
}

type BootEntry struct {
	ID    string
	Title string
	Extra string
}

// BootSpec is the result of staging: the entries of the boot menu and
// what was found in the install root while copying boot files.
type BootSpec struct {
	Entries []BootEntry
	// Assets are the staged files, relative to the output directory.
	Assets []string

	Menu       string
	Xen        bool
	Background bool
	Memtest    bool

	// Widths lists the PowerPC word sizes that have a kernel.
	Widths []int
}

func (b *BootSpec) addAsset(outDir, path string) {
	rel, err := filepath.Rel(outDir, path)
	if err != nil {
		rel = path
	}
	b.Assets = append(b.Assets, rel)
}

type Platform interface {
	GetArch() Arch
	// GetPackages returns packages the bootloader setup needs installed.
	GetPackages() []string
	GetExcludedPackages() []string
	StageBootArtifacts(ctx context.Context, env BootEnv) (*BootSpec, error)
	EmitBootConfig(env BootEnv, spec *BootSpec) error
	ISOArguments(label, outDir string) []string
}

// New returns the platform for an rpm base architecture name.
func New(arch string, runner command.Runner, logger logrus.FieldLogger) (Platform, error) {
	base := BasePlatform{runner: runner, logger: logger}
	switch arch {
	case "i386", "i586", "i686":
		return &X86{BasePlatform: base, Arch: ARCH_I386}, nil
	case "x86_64":
		return &X86{BasePlatform: base, Arch: ARCH_X86_64}, nil
	case "ppc":
		return &PPC{BasePlatform: base}, nil
	case "ppc64":
		return &PPC64{PPC: PPC{BasePlatform: base}}, nil
	}
	return nil, common.InstallationErrorf(nil, "Architecture not supported: %s", arch)
}

type BasePlatform struct {
	runner command.Runner
	logger logrus.FieldLogger
}

func (p BasePlatform) GetPackages() []string {
	return []string{}
}

func (p BasePlatform) GetExcludedPackages() []string {
	return []string{}
}

// ISOArguments without a boot catalog; the image will not boot.
func (p BasePlatform) ISOArguments(label, outDir string) []string {
	return []string{"-J", "-r", "-hide-rr-moved", "-hide-joliet-trans-tbl", "-V", label, outDir}
}

// stageKernel copies the kernel and initramfs into dir and drops the
// initramfs from the install root, where it is of no further use.
func (p BasePlatform) stageKernel(env BootEnv, spec *BootSpec, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	vmlinuz := filepath.Join(dir, "vmlinuz")
	if err := common.CopyFile(env.Kernel.Vmlinuz, vmlinuz); err != nil {
		return common.InstallationErrorf(err, "Failed to copy kernel %s", env.Kernel.Version)
	}
	spec.addAsset(env.OutDir, vmlinuz)

	initrd := filepath.Join(dir, "initrd.img")
	if err := common.CopyFile(env.Kernel.Initramfs, initrd); err != nil {
		return common.InstallationErrorf(err, "Failed to copy initramfs")
	}
	spec.addAsset(env.OutDir, initrd)

	if err := os.Remove(env.Kernel.Initramfs); err != nil {
		p.logger.Warnf("Cannot remove %s: %v", env.Kernel.Initramfs, err)
	}
	return nil
}

// copyRequired copies a bootloader file the image cannot boot without.
func (p BasePlatform) copyRequired(env BootEnv, spec *BootSpec, src, dst string) error {
	if err := common.CopyFile(src, dst); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return common.InstallationErrorf(nil, "Bootloader not installed : %s not found", src)
		}
		return common.InstallationErrorf(err, "Failed to copy %s", src)
	}
	spec.addAsset(env.OutDir, dst)
	return nil
}

// findFirst returns the first entry of dir, by name, that matches pattern.
func findFirst(dir, pattern string) (string, bool) {
	g := glob.MustCompile(pattern)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && g.Match(e.Name()) {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return "", false
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0]), true
}

func writeConfig(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	/* #nosec G306 */
	return os.WriteFile(path, []byte(content), 0644)
}
