package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"golang.org/x/exp/slices"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
)

const (
	anacondaBoot = "usr/lib/anaconda-runtime/boot"
	yabootBinary = "usr/lib/yaboot/yaboot"

	unsupportedYaboot = `init-message = "Sorry, this LiveCD does not support your hardware"`
)

var addnotePath = "/usr/sbin/addnote"

var yabootTemplate = template.Must(template.New("yaboot.conf").Parse(`
init-message = "Welcome to {{.Env.Label}}"
timeout=6000

{{range .Entries}}

image=/ppc/ppc{{$.Bit}}/vmlinuz
  label={{.ID}}
  initrd=/ppc/ppc{{$.Bit}}/initrd.img
  read-only
  append="root=CDLABEL={{$.Env.Label}} rootfstype=iso9660 {{$.Env.KernelOptions}}{{with .Extra}} {{.}}{{end}}"
{{end}}`))

var yabootSelectorTemplate = template.Must(template.New("yaboot.conf").Parse(`
init-message = "
Welcome to {{.Label}}!
Use 'linux32' for 32-bit kernel.

"
timeout=6000
default=linux

image=/ppc/ppc64/vmlinuz
	label=linux64
	alias=linux
	initrd=/ppc/ppc64/initrd.img
	read-only

image=/ppc/ppc32/vmlinuz
	label=linux32
	initrd=/ppc/ppc32/initrd.img
	read-only
`))

// PPC boots Apple and CHRP machines through yaboot.
type PPC struct {
	BasePlatform
}

func (p *PPC) GetArch() Arch {
	return ARCH_PPC
}

func (p *PPC) GetPackages() []string {
	return []string{"yaboot", "anaconda-runtime"}
}

// memtest86+ is not available on ppc
func (p *PPC) GetExcludedPackages() []string {
	return []string{"memtest86+"}
}

func (p *PPC) ISOArguments(label, outDir string) []string {
	return []string{
		"-hfs", "-hfs-bless", filepath.Join(outDir, "ppc", "mac"),
		"-hfs-volid", label, "-part",
		"-map", filepath.Join(outDir, "ppc", "mapping"),
		"-J", "-r", "-hide-rr-moved", "-no-desktop",
		"-V", label,
		outDir,
	}
}

// kernelWidth tells a 64 bit kernel from a 32 bit one by its platform
// modules.
func kernelWidth(env BootEnv) int {
	platforms := filepath.Join(env.InstallRoot, "lib", "modules", env.Kernel.Version, "kernel", "arch", "powerpc", "platforms")
	if _, err := os.Stat(platforms); err == nil {
		return 64
	}
	return 32
}

func (p *PPC) StageBootArtifacts(ctx context.Context, env BootEnv) (*BootSpec, error) {
	spec := &BootSpec{}
	ppcDir := filepath.Join(env.OutDir, "ppc")
	for _, d := range []string{"mac", "chrp", "ppc32", "ppc64"} {
		if err := os.MkdirAll(filepath.Join(ppcDir, d), 0755); err != nil {
			return nil, common.InstallationErrorf(err, "Failed to create %s", d)
		}
	}

	yaboot := filepath.Join(env.InstallRoot, yabootBinary)
	copies := []struct{ src, dst string }{
		{filepath.Join(env.InstallRoot, anacondaBoot, "mapping"), filepath.Join(ppcDir, "mapping")},
		{filepath.Join(env.InstallRoot, anacondaBoot, "ofboot.b"), filepath.Join(ppcDir, "mac", "ofboot.b")},
		{yaboot, filepath.Join(ppcDir, "mac", "yaboot")},
		{filepath.Join(env.InstallRoot, anacondaBoot, "bootinfo.txt"), filepath.Join(ppcDir, "bootinfo.txt")},
		{yaboot, filepath.Join(ppcDir, "chrp", "yaboot")},
	}
	for _, c := range copies {
		if err := p.copyRequired(env, spec, c.src, c.dst); err != nil {
			return nil, err
		}
	}

	chrpYaboot := filepath.Join(ppcDir, "chrp", "yaboot")
	if _, err := p.runner.Run(ctx, command.New(addnotePath, chrpYaboot)); err != nil {
		p.logger.Warnf("Adding the CHRP note to %s failed: %v", chrpYaboot, err)
	}

	width := kernelWidth(env)
	if err := p.stageKernel(env, spec, filepath.Join(ppcDir, fmt.Sprintf("ppc%d", width))); err != nil {
		return nil, err
	}
	spec.Widths = []int{width}

	spec.Entries = []BootEntry{{ID: "linux", Title: "Run from image"}}
	if env.MediaCheck {
		spec.Entries = append(spec.Entries, BootEntry{ID: "check", Title: "Verify and run from image", Extra: "check"})
	}
	return spec, nil
}

func (p *PPC) EmitBootConfig(env BootEnv, spec *BootSpec) error {
	for _, bit := range []int{32, 64} {
		content := unsupportedYaboot
		if slices.Contains(spec.Widths, bit) {
			var cfg strings.Builder
			err := yabootTemplate.Execute(&cfg, struct {
				Env     BootEnv
				Entries []BootEntry
				Bit     int
			}{env, spec.Entries, bit})
			if err != nil {
				return common.InstallationErrorf(err, "Failed to render yaboot.conf")
			}
			content = cfg.String()
		}

		path := filepath.Join(env.OutDir, "ppc", fmt.Sprintf("ppc%d", bit), "yaboot.conf")
		if err := writeConfig(path, content); err != nil {
			return common.InstallationErrorf(err, "Failed to write %s", path)
		}
	}

	etcConf := filepath.Join(env.OutDir, "etc", "yaboot.conf")
	if err := os.MkdirAll(filepath.Dir(etcConf), 0755); err != nil {
		return common.InstallationErrorf(err, "Failed to create %s", filepath.Dir(etcConf))
	}
	if len(spec.Widths) == 1 {
		src := filepath.Join(env.OutDir, "ppc", fmt.Sprintf("ppc%d", spec.Widths[0]), "yaboot.conf")
		if err := common.CopyFile(src, etcConf); err != nil {
			return common.InstallationErrorf(err, "Failed to write %s", etcConf)
		}
		return nil
	}

	var cfg strings.Builder
	if err := yabootSelectorTemplate.Execute(&cfg, env); err != nil {
		return common.InstallationErrorf(err, "Failed to render yaboot.conf")
	}
	if err := writeConfig(etcConf, cfg.String()); err != nil {
		return common.InstallationErrorf(err, "Failed to write %s", etcConf)
	}
	return nil
}

// PPC64 differs from PPC only in the packages it keeps out.
type PPC64 struct {
	PPC
}

func (p *PPC64) GetArch() Arch {
	return ARCH_PPC64
}

// kernel.ppc and kernel.ppc64 cannot be installed side by side
func (p *PPC64) GetExcludedPackages() []string {
	return []string{"kernel.ppc", "memtest86+"}
}
