package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (i *Installer) writeRootFile(path, content string, perm os.FileMode) error {
	full := i.rootPath(path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	/* #nosec G306 */
	if err := os.WriteFile(full, []byte(content), perm); err != nil {
		return err
	}
	return os.Chmod(full, perm)
}

// runIfPresent runs tool in the install root when the image ships it.
func (i *Installer) runIfPresent(ctx context.Context, tool string, args ...string) error {
	if !i.exists(tool) {
		i.logger.Debugf("%s not installed, skipping", tool)
		return nil
	}
	if _, err := i.runner.Run(ctx, i.inRoot(tool, args...)); err != nil {
		return fmt.Errorf("%s: %w", tool, err)
	}
	return nil
}

// ConfigureSystem applies the locale, keyboard, time zone, authentication,
// firewall, SELinux, root password and service settings.
func (i *Installer) ConfigureSystem(ctx context.Context) error {
	sys := i.def.System

	if err := i.writeRootFile("/etc/sysconfig/i18n", fmt.Sprintf("LANG=\"%s\"\n", sys.Lang), 0644); err != nil {
		return err
	}

	keyboard := fmt.Sprintf("KEYBOARDTYPE=\"pc\"\nKEYTABLE=\"%s\"\n", sys.Keyboard)
	if err := i.writeRootFile("/etc/sysconfig/keyboard", keyboard, 0644); err != nil {
		return err
	}

	clock := fmt.Sprintf("ZONE=\"%s\"\nUTC=%t\n", sys.Timezone.Zone, sys.Timezone.UTC)
	if err := i.writeRootFile("/etc/sysconfig/clock", clock, 0644); err != nil {
		return err
	}

	authArgs := append([]string{"--update", "--nostart"}, strings.Fields(sys.Auth)...)
	if err := i.runIfPresent(ctx, "/usr/sbin/authconfig", authArgs...); err != nil {
		return err
	}

	if i.def.FirewallEnabled() {
		if err := i.runIfPresent(ctx, "/usr/sbin/lokkit", "-f", "--quiet", "--nostart", "--enabled"); err != nil {
			return err
		}
	}
	if err := i.runIfPresent(ctx, "/usr/sbin/lokkit", "-f", "--quiet", "--nostart", "--selinux="+sys.SELinux); err != nil {
		return err
	}

	if err := i.setRootPassword(ctx); err != nil {
		return err
	}

	if sys.Services != nil {
		for _, s := range sys.Services.Enabled {
			if err := i.runIfPresent(ctx, "/sbin/chkconfig", s, "on"); err != nil {
				return err
			}
		}
		for _, s := range sys.Services.Disabled {
			if err := i.runIfPresent(ctx, "/sbin/chkconfig", s, "off"); err != nil {
				return err
			}
		}
	}

	if sys.StartX {
		return i.enableGraphicalBoot()
	}
	return nil
}

func (i *Installer) setRootPassword(ctx context.Context) error {
	var pw string
	crypted := false
	if rootpw := i.def.System.RootPassword; rootpw != nil {
		pw, crypted = rootpw.Password, rootpw.IsCrypted
	}

	var err error
	switch {
	case crypted:
		_, err = i.runner.Run(ctx, i.inRoot("/usr/sbin/usermod", "-p", pw, "root"))
	case pw == "":
		_, err = i.runner.Run(ctx, i.inRoot("/usr/bin/passwd", "-d", "root"))
	default:
		c := i.inRoot("/usr/bin/passwd", "--stdin", "root")
		c.Stdin = strings.NewReader(pw + "\n")
		_, err = i.runner.Run(ctx, c)
	}
	if err != nil {
		return fmt.Errorf("setting the root password: %w", err)
	}
	return nil
}

func (i *Installer) enableGraphicalBoot() error {
	inittab := i.rootPath("etc", "inittab")
	/* #nosec G304 */
	buf, err := os.ReadFile(inittab)
	if os.IsNotExist(err) {
		i.logger.Warn("No /etc/inittab in the image, cannot boot into X by default")
		return nil
	}
	if err != nil {
		return err
	}
	buf = []byte(strings.ReplaceAll(string(buf), "id:3:initdefault", "id:5:initdefault"))
	/* #nosec G306 */
	return os.WriteFile(inittab, buf, 0644)
}
