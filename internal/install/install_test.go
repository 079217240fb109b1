package install_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/livecd-creator/internal/command"
	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/definition"
	"github.com/osbuild/livecd-creator/internal/install"
	command_mock "github.com/osbuild/livecd-creator/internal/mocks/command"
	rpmmd_mock "github.com/osbuild/livecd-creator/internal/mocks/rpmmd"
	"github.com/osbuild/livecd-creator/internal/platform"
	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

const kernelVersion = "6.8.5-301.fc40.x86_64"

const baseDefinition = `
packages = ["bash", "kernel", "syslinux"]
exclude_packages = ["sendmail"]

[[repositories]]
name = "fedora"
baseurl = "https://example.org/fedora"

[system]
selinux = "enforcing"
`

func loadDefinition(t *testing.T, content string) *definition.Definition {
	path := filepath.Join(t.TempDir(), "live.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	def, err := definition.Load(path)
	require.NoError(t, err)
	require.NoError(t, def.Validate())
	return def
}

func touch(t *testing.T, root string, paths ...string) {
	for _, p := range paths {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, nil, 0755))
	}
}

// installedSystem lays down what installing the base definition produces.
func installedSystem(t *testing.T, extra ...string) func(string) error {
	return func(root string) error {
		touch(t, root, append([]string{
			"lib/modules/" + kernelVersion + "/modules.dep",
			"boot/vmlinuz-" + kernelVersion,
			"usr/lib/syslinux/isolinux.bin",
			"usr/lib/syslinux/menu.c32",
			"usr/bin/dracut",
		}, extra...)...)
		return nil
	}
}

// dracut writes the initramfs into the chroot it runs in.
func dracut(c command.Command) ([]byte, error) {
	return nil, os.WriteFile(filepath.Join(c.Chroot, c.Args[len(c.Args)-2]), []byte("initramfs"), 0644)
}

type fixture struct {
	buildDir string
	root     string
	runner   *command_mock.Runner
	engine   *rpmmd_mock.Engine
	logger   *logrus.Logger
	hook     *logrusTest.Hook
}

func newFixture(t *testing.T, engine rpmmd_mock.Fixture) *fixture {
	buildDir := t.TempDir()
	f := &fixture{
		buildDir: buildDir,
		root:     filepath.Join(buildDir, "install_root"),
		runner:   command_mock.NewRunner().On("dracut", dracut),
		engine:   rpmmd_mock.NewEngine(engine),
	}
	f.logger, f.hook = logrusTest.NewNullLogger()
	require.NoError(t, os.MkdirAll(f.root, 0755))
	require.NoError(t, f.engine.Setup(context.Background(), filepath.Join(buildDir, "yum-cache"), f.root))
	return f
}

func (f *fixture) installer(t *testing.T, def *definition.Definition, arch string) *install.Installer {
	p, err := platform.New(arch, f.runner, f.logger)
	require.NoError(t, err)
	return install.New(f.runner, f.logger, f.engine, p, def, install.Options{
		BuildDir:    f.buildDir,
		InstallRoot: f.root,
		OutDir:      filepath.Join(f.buildDir, "out"),
		Label:       "Fedora-Live",
	})
}

func TestInstall(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	f.engine.Fixture.OnInstall = installedSystem(t,
		"usr/bin/checkisomd5",
		"usr/bin/rhgb",
		"usr/sbin/authconfig",
		"usr/sbin/lokkit",
		"sbin/chkconfig",
		"sbin/restorecon",
	)
	def := loadDefinition(t, baseDefinition+`
[system.services]
enabled = ["sshd"]
disabled = ["cups"]
`)

	res, err := f.installer(t, def, "x86_64").Install(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []rpmmd.RepoConfig{{Name: "fedora", BaseURL: "https://example.org/fedora"}}, f.engine.Repos)
	assert.Equal(t, []string{"bash", "kernel", "syslinux"}, f.engine.Selected)
	assert.Equal(t, []string{"sendmail"}, f.engine.Deselected)
	assert.True(t, res.Packages.Contains("syslinux"))

	assert.True(t, res.MediaCheck)
	assert.Equal(t, kernelVersion, res.Kernel.Version)
	assert.Equal(t, filepath.Join(f.root, "boot", "vmlinuz-"+kernelVersion), res.Kernel.Vmlinuz)
	require.NotNil(t, res.Boot)
	assert.Len(t, res.Boot.Entries, 2)

	cfg, err := os.ReadFile(filepath.Join(f.buildDir, "out", "isolinux", "isolinux.cfg"))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "rootfstype=iso9660 ro liveimg rhgb check\n")
	assert.FileExists(t, filepath.Join(f.buildDir, "out", "isolinux", "initrd.img"))
	assert.NoFileExists(t, filepath.Join(f.root, "boot", "livecd-initramfs.img"))

	var cmds []string
	for _, c := range f.runner.Calls() {
		assert.Equal(t, f.root, c.Chroot, c.String())
		cmds = append(cmds, c.String())
	}
	assert.Equal(t, []string{
		"/usr/sbin/authconfig --update --nostart --useshadow --enablemd5",
		"/usr/sbin/lokkit -f --quiet --nostart --enabled",
		"/usr/sbin/lokkit -f --quiet --nostart --selinux=enforcing",
		"/usr/bin/passwd -d root",
		"/sbin/chkconfig sshd on",
		"/sbin/chkconfig cups off",
		"/sbin/restorecon -v -r /",
		"/usr/bin/dracut --force --no-hostonly --add dmsquash-live --add-drivers " +
			"squashfs ext3 ext2 vfat msdos ehci_hcd uhci_hcd ohci_hcd usb_storage usbhid firewire-sbp2 firewire-ohci sr_mod sd_mod ide-cd sym53c8xx aic7xxx " +
			"/boot/livecd-initramfs.img " + kernelVersion,
	}, cmds)

	for path, content := range map[string]string{
		"etc/sysconfig/i18n":     "LANG=\"en_US.UTF-8\"\n",
		"etc/sysconfig/keyboard": "KEYBOARDTYPE=\"pc\"\nKEYTABLE=\"us\"\n",
		"etc/sysconfig/clock":    "ZONE=\"America/New_York\"\nUTC=false\n",
		"etc/sysconfig/network":  "NETWORKING=yes\nNETWORKING_IPV6=no\nHOSTNAME=localhost.localdomain\n",
		"etc/hosts":              "127.0.0.1\t\tlocalhost.localdomain localhost\n::1\t\tlocalhost6.localdomain6 localhost6\n",
	} {
		data, err := os.ReadFile(filepath.Join(f.root, path))
		require.NoError(t, err, path)
		assert.Equal(t, content, string(data), path)
	}
	assert.NoFileExists(t, filepath.Join(f.root, "etc", "resolv.conf"))
}

func TestInstallPlatformPackages(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	def := loadDefinition(t, baseDefinition)

	_, err := f.installer(t, def, "ppc64").InstallPackages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"bash", "kernel", "syslinux", "yaboot", "anaconda-runtime"}, f.engine.Selected)
	assert.Equal(t, []string{"sendmail", "kernel.ppc", "memtest86+"}, f.engine.Deselected)
}

func TestInstallMissingPackages(t *testing.T) {
	available := rpmmd_mock.Fixture{
		Packages: map[string]bool{"bash": true, "kernel": true},
		Groups:   map[string]bool{},
	}
	withGroup := baseDefinition + "\n[[groups]]\nname = \"nosuchgroup\"\n"

	f := newFixture(t, available)
	_, err := f.installer(t, loadDefinition(t, withGroup), "x86_64").InstallPackages(context.Background())
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "Failed to find package 'syslinux'", ierr.Reason)
	assert.True(t, errors.Is(err, rpmmd.ErrNotFound))
	assert.False(t, f.engine.Installed)

	f = newFixture(t, available)
	ignore := loadDefinition(t, "missing = \"ignore\"\n"+withGroup)
	_, err = f.installer(t, ignore, "x86_64").InstallPackages(context.Background())
	require.NoError(t, err)
	assert.True(t, f.engine.Installed)
	assert.Equal(t, []string{"bash", "kernel"}, f.engine.Selected)

	var warnings []string
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warnings = append(warnings, e.Message)
		}
	}
	assert.Equal(t, []string{
		"Unable to find package 'syslinux'; skipping",
		"Unable to find group 'nosuchgroup'; skipping",
	}, warnings)
}

func TestInstallEngineFailure(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{InstallErr: errors.New("transaction check error")})
	_, err := f.installer(t, loadDefinition(t, baseDefinition), "x86_64").Install(context.Background())
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "Unable to install: transaction check error", err.Error())
}

func TestInstallConfigureFailure(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	f.engine.Fixture.OnInstall = installedSystem(t, "usr/sbin/authconfig")
	f.runner.On("authconfig", command_mock.Fail(1))

	_, err := f.installer(t, loadDefinition(t, baseDefinition), "x86_64").Install(context.Background())
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "Error configuring live image", ierr.Reason)
	assert.Empty(t, f.runner.CallsTo("dracut"))
}

func TestKernelVersion(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	i := f.installer(t, loadDefinition(t, baseDefinition), "x86_64")

	_, err := i.KernelVersion()
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Equal(t, "No kernels installed: /lib/modules is empty", ierr.Reason)

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "lib", "modules"), 0755))
	_, err = i.KernelVersion()
	assert.Error(t, err)

	touch(t, f.root, "lib/modules/6.9.0/modules.dep", "lib/modules/"+kernelVersion+"/modules.dep")
	v, err := i.KernelVersion()
	require.NoError(t, err)
	assert.Equal(t, kernelVersion, v)

	assert.Equal(t, "ro liveimg", i.KernelOptions())
	touch(t, f.root, "usr/bin/rhgb")
	assert.Equal(t, "ro liveimg rhgb", i.KernelOptions())
}

func TestCreateInitramfsWithoutDracut(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	touch(t, f.root, "lib/modules/"+kernelVersion+"/modules.dep")

	_, err := f.installer(t, loadDefinition(t, baseDefinition), "x86_64").CreateInitramfs(context.Background())
	var ierr *common.InstallationError
	require.True(t, errors.As(err, &ierr))
	assert.Contains(t, ierr.Reason, "dracut not installed")
}

func TestRootPassword(t *testing.T) {
	cases := []struct {
		rootpw string
		cmd    string
		stdin  string
	}{
		{"", "/usr/bin/passwd -d root", ""},
		{"[system.rootpw]\npassword = \"\"\n", "/usr/bin/passwd -d root", ""},
		{"[system.rootpw]\npassword = \"$6$x$y\"\niscrypted = true\n", "/usr/sbin/usermod -p $6$x$y root", ""},
		{"[system.rootpw]\npassword = \"secret\"\n", "/usr/bin/passwd --stdin root", "secret\n"},
	}

	for _, c := range cases {
		f := newFixture(t, rpmmd_mock.Fixture{})
		var stdin string
		record := func(cmd command.Command) ([]byte, error) {
			if cmd.Stdin != nil {
				data, err := io.ReadAll(cmd.Stdin)
				stdin = string(data)
				return nil, err
			}
			return nil, nil
		}
		f.runner.On("passwd", record).On("usermod", record)

		def := loadDefinition(t, baseDefinition+c.rootpw)
		require.NoError(t, f.installer(t, def, "x86_64").ConfigureSystem(context.Background()))
		assert.Equal(t, []string{c.cmd}, f.runner.Commands())
		assert.Equal(t, c.stdin, stdin)
	}
}

func TestStartX(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "etc"), 0755))
	inittab := filepath.Join(f.root, "etc", "inittab")
	require.NoError(t, os.WriteFile(inittab, []byte("id:3:initdefault:\n"), 0644))

	def := loadDefinition(t, baseDefinition+"startx = true\n")
	require.NoError(t, f.installer(t, def, "x86_64").ConfigureSystem(context.Background()))

	data, err := os.ReadFile(inittab)
	require.NoError(t, err)
	assert.Equal(t, "id:5:initdefault:\n", string(data))
}

func TestLaunchShell(t *testing.T) {
	f := newFixture(t, rpmmd_mock.Fixture{})
	f.runner.On("bash", command_mock.Fail(130))

	require.NoError(t, f.installer(t, loadDefinition(t, baseDefinition), "x86_64").LaunchShell(context.Background()))
	calls := f.runner.Calls()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].Interactive)
	assert.Equal(t, f.root, calls[0].Chroot)
	assert.True(t, strings.HasSuffix(calls[0].Name, "/bash"))
}
