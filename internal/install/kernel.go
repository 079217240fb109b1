package install

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/platform"
)

const initramfsPath = "/boot/livecd-initramfs.img"

// drivers the live initramfs needs to find and mount the boot media
var liveDrivers = []string{
	"squashfs", "ext3", "ext2", "vfat", "msdos",
	"ehci_hcd", "uhci_hcd", "ohci_hcd", "usb_storage", "usbhid",
	"firewire-sbp2", "firewire-ohci",
	"sr_mod", "sd_mod", "ide-cd",
	"sym53c8xx", "aic7xxx",
}

// KernelVersion returns the first kernel found in /lib/modules. Images
// with more than one kernel are not supported.
func (i *Installer) KernelVersion() (string, error) {
	entries, err := os.ReadDir(i.rootPath("lib", "modules"))
	if err != nil && !os.IsNotExist(err) {
		return "", common.InstallationErrorf(err, "Cannot list /lib/modules")
	}
	if len(entries) == 0 {
		return "", common.InstallationErrorf(nil, "No kernels installed: /lib/modules is empty")
	}
	return entries[0].Name(), nil
}

// KernelOptions are the arguments every boot entry passes to the kernel.
func (i *Installer) KernelOptions() string {
	opts := "ro liveimg"
	if i.exists("usr", "bin", "rhgb") {
		opts += " rhgb"
	}
	return opts
}

// CreateInitramfs builds the live initramfs of the installed kernel with
// the dracut of the installed system.
func (i *Installer) CreateInitramfs(ctx context.Context) (platform.KernelArtifact, error) {
	version, err := i.KernelVersion()
	if err != nil {
		return platform.KernelArtifact{}, err
	}

	dracut := ""
	for _, path := range []string{"/usr/bin/dracut", "/sbin/dracut"} {
		if i.exists(path) {
			dracut = path
			break
		}
	}
	if dracut == "" {
		return platform.KernelArtifact{}, common.InstallationErrorf(nil, "dracut not installed in the image : cannot create initramfs")
	}

	c := i.inRoot(dracut,
		"--force", "--no-hostonly",
		"--add", "dmsquash-live",
		"--add-drivers", strings.Join(liveDrivers, " "),
		initramfsPath, version)
	c.Env = []string{"PATH=/usr/sbin:/usr/bin:/sbin:/bin"}
	if _, err := i.runner.Run(ctx, c); err != nil {
		return platform.KernelArtifact{}, common.InstallationErrorf(err, "Failed to create the initramfs for kernel %s", version)
	}

	return platform.KernelArtifact{
		Version:   version,
		Vmlinuz:   i.rootPath("boot", "vmlinuz-"+version),
		Initramfs: i.rootPath(filepath.FromSlash(initramfsPath)),
	}, nil
}
