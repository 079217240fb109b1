package platform

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/osbuild/livecd-creator/internal/common"
)

var (
	syslinuxDirs  = []string{"usr/lib/syslinux", "usr/share/syslinux"}
	syslinuxMenus = []string{"vesamenu.c32", "menu.c32"}
	splashImage   = "usr/lib/anaconda-runtime/syslinux-vesa-splash.jpg"
)

var isolinuxTemplate = template.Must(template.New("isolinux.cfg").Parse(`
default {{.Spec.Menu}}
timeout 10

{{if .Spec.Background}}menu background splash.jpg{{end}}
menu title Welcome to {{.Env.Label}}!
menu color border 0 #ffffffff #00000000
menu color sel 7 #ffffffff #ff000000
menu color title 0 #ffffffff #00000000
menu color tabmsg 0 #ffffffff #00000000
menu color unsel 0 #ffffffff #00000000
menu color hotsel 0 #ff000000 #ffffffff
menu color hotkey 7 #ffffffff #ff000000
menu color timeout_msg 0 #ffffffff #00000000
menu color timeout 0 #ffffffff #00000000
menu color cmdline 0 #ffffffff #00000000
menu hidden
menu hiddenrow 5
{{range .Spec.Entries}}label {{.ID}}
  menu label {{.Title}}
{{- if $.Spec.Xen}}
  kernel mboot.c32
  append xen.gz --- vmlinuz --- initrd.img  root=CDLABEL={{$.Env.Label}} rootfstype=iso9660 {{$.Env.KernelOptions}}{{with .Extra}} {{.}}{{end}}
{{- else}}
  kernel vmlinuz
  append initrd=initrd.img root=CDLABEL={{$.Env.Label}} rootfstype=iso9660 {{$.Env.KernelOptions}}{{with .Extra}} {{.}}{{end}}
{{- end}}
{{end}}
{{- if .Spec.Memtest}}label memtest
  menu label Memory Test
  kernel memtest
{{end}}`))

// X86 boots through isolinux.
type X86 struct {
	BasePlatform
	Arch Arch
}

func (p *X86) GetArch() Arch {
	return p.Arch
}

func (p *X86) GetPackages() []string {
	return []string{"syslinux"}
}

func (p *X86) ISOArguments(label, outDir string) []string {
	return []string{
		"-b", "isolinux/isolinux.bin",
		"-c", "isolinux/boot.cat",
		"-no-emul-boot", "-boot-load-size", "4",
		"-boot-info-table",
		"-J", "-r", "-hide-rr-moved", "-hide-joliet-trans-tbl",
		"-V", label,
		outDir,
	}
}

func (p *X86) syslinuxFile(root, name string) (string, bool) {
	for _, dir := range syslinuxDirs {
		path := filepath.Join(root, dir, name)
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			return path, true
		}
	}
	return "", false
}

func (p *X86) StageBootArtifacts(ctx context.Context, env BootEnv) (*BootSpec, error) {
	spec := &BootSpec{}
	dir := filepath.Join(env.OutDir, "isolinux")
	if err := p.stageKernel(env, spec, dir); err != nil {
		return nil, err
	}

	files := []string{"isolinux.bin"}
	for _, m := range syslinuxMenus {
		if _, ok := p.syslinuxFile(env.InstallRoot, m); ok {
			spec.Menu = m
			files = append(files, m)
			break
		}
	}
	if spec.Menu == "" {
		return nil, common.InstallationErrorf(nil, "syslinux not installed : no suitable *menu.c32 found")
	}

	if xen, ok := findFirst(filepath.Join(env.InstallRoot, "boot"), "xen.gz-*"); ok {
		dst := filepath.Join(dir, "xen.gz")
		if err := p.copyRequired(env, spec, xen, dst); err != nil {
			return nil, err
		}
		spec.Xen = true
		files = append(files, "mboot.c32")
	}

	for _, f := range files {
		src, ok := p.syslinuxFile(env.InstallRoot, f)
		if !ok {
			return nil, common.InstallationErrorf(nil, "syslinux not installed : %s not found", f)
		}
		if err := p.copyRequired(env, spec, src, filepath.Join(dir, f)); err != nil {
			return nil, err
		}
	}

	splash := filepath.Join(env.InstallRoot, splashImage)
	if _, err := os.Stat(splash); err == nil {
		if err := p.copyRequired(env, spec, splash, filepath.Join(dir, "splash.jpg")); err != nil {
			return nil, err
		}
		spec.Background = true
	}

	if memtest, ok := findFirst(filepath.Join(env.InstallRoot, "boot"), "memtest86*"); ok {
		if err := p.copyRequired(env, spec, memtest, filepath.Join(dir, "memtest")); err != nil {
			return nil, err
		}
		spec.Memtest = true
	}

	spec.Entries = []BootEntry{{ID: "linux", Title: "Boot " + env.Label}}
	if env.MediaCheck {
		spec.Entries = append(spec.Entries, BootEntry{ID: "check", Title: "Verify and boot " + env.Label, Extra: "check"})
	}
	return spec, nil
}

func (p *X86) EmitBootConfig(env BootEnv, spec *BootSpec) error {
	var cfg strings.Builder
	err := isolinuxTemplate.Execute(&cfg, struct {
		Env  BootEnv
		Spec *BootSpec
	}{env, spec})
	if err != nil {
		return common.InstallationErrorf(err, "Failed to render isolinux.cfg")
	}

	path := filepath.Join(env.OutDir, "isolinux", "isolinux.cfg")
	if err := writeConfig(path, cfg.String()); err != nil {
		return common.InstallationErrorf(err, "Failed to write %s", path)
	}
	return nil
}
