package session

import (
	"os"
	"path/filepath"
)

// fstab is the runtime mount layout the live initramfs sets up.
const fstab = `/dev/mapper/livecd-rw   /                       ext3    defaults,noatime 0 0
devpts                  /dev/pts                devpts  gid=5,mode=620  0 0
tmpfs                   /dev/shm                tmpfs   defaults        0 0
proc                    /proc                   proc    defaults        0 0
sysfs                   /sys                    sysfs   defaults        0 0
`

func writeFstab(installRoot string) error {
	path := filepath.Join(installRoot, "etc", "fstab")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	/* #nosec G306 */
	return os.WriteFile(path, []byte(fstab), 0644)
}
