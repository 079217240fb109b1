package definition

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/osbuild/images/pkg/datasizes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

func TestLoadWithIncludes(t *testing.T) {
	d, err := Load("testdata/desktop.toml")
	require.NoError(t, err)

	want := &Definition{
		Name:            "desktop",
		Packages:        []string{"bash", "kernel", "firefox"},
		Groups:          []Group{{Name: "gnome-desktop", Include: rpmmd.GroupAll}},
		ExcludePackages: []string{"sendmail"},
		Missing:         MissingIgnore,
		RootSize:        "2048 MiB",
		Repositories: []rpmmd.RepoConfig{
			{Name: "fedora", MirrorList: "https://mirrors.fedoraproject.org/mirrorlist?repo=fedora-40&arch=x86_64"},
			{Name: "updates", BaseURL: "https://dl.fedoraproject.org/pub/fedora/linux/updates/40/Everything/x86_64/", ExcludePkgs: []string{"kernel-debug*"}},
		},
		Post: []PostScript{
			{Script: "echo done > /etc/built", Interpreter: DefaultInterpreter},
			{Script: "cp $INSTALL_ROOT/etc/built $LIVE_ROOT/", Interpreter: "/bin/bash", NoChroot: true, ErrorOnFail: true},
		},
		System: System{
			Lang:         "de_DE.UTF-8",
			Keyboard:     "de",
			Timezone:     &Timezone{Zone: "Europe/Berlin", UTC: true},
			Auth:         DefaultAuth,
			SELinux:      "permissive",
			RootPassword: &RootPassword{Password: "$6$salt$hash", IsCrypted: true},
			Services:     &Services{Enabled: []string{"sshd"}, Disabled: []string{"cups"}},
			StartX:       true,
		},
		Network: []NetworkDevice{
			{Device: "eth0", BootProto: "dhcp", Hostname: "live.example.org", Nameservers: []string{"192.0.2.53"}},
		},
	}
	if diff := cmp.Diff(want, d); diff != "" {
		t.Errorf("Load() mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, d.Validate())
	assert.True(t, d.IgnoreMissing())
	assert.True(t, d.SELinuxEnabled())
	assert.True(t, d.FirewallEnabled())

	size, err := d.RootSizeBytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(2048*datasizes.MiB), size)
}

func TestLoadYAMLDefaults(t *testing.T) {
	d, err := Load("testdata/minimal.yaml")
	require.NoError(t, err)
	require.NoError(t, d.Validate())

	assert.Equal(t, "minimal", d.Name)
	assert.Equal(t, []Group{{Name: "core", Include: rpmmd.GroupRequired}}, d.Groups)
	assert.Equal(t, DefaultRootSize, d.RootSize)
	assert.Equal(t, DefaultLang, d.System.Lang)
	assert.Equal(t, DefaultKeyboard, d.System.Keyboard)
	assert.Equal(t, &Timezone{Zone: DefaultTimezone}, d.System.Timezone)
	assert.Equal(t, "enforcing", d.System.SELinux)
	assert.False(t, d.IgnoreMissing())

	require.Len(t, d.Network, 1)
	assert.Equal(t, "static", d.Network[0].BootProto)
	assert.False(t, d.Network[0].IsOnBoot())
	assert.True(t, NetworkDevice{}.IsOnBoot())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("testdata/loop.yml")
	assert.ErrorContains(t, err, "include loop")

	_, err = Load("testdata/unknown.toml")
	assert.ErrorContains(t, err, "pakages")

	_, err = Load("testdata/missing.toml")
	assert.ErrorIs(t, err, os.ErrNotExist)

	dir := t.TempDir()
	ks := filepath.Join(dir, "fedora-live.ks")
	require.NoError(t, os.WriteFile(ks, []byte("%packages\nbash\n%end\n"), 0644))
	_, err = Load(ks)
	assert.ErrorContains(t, err, "unsupported definition format '.ks'")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("groups:\n  - name: core\n    include: optional\n"), 0644))
	_, err = Load(broken)
	assert.ErrorContains(t, err, "unknown group include mode 'optional'")
}

func TestValidate(t *testing.T) {
	valid := func() *Definition {
		d := &Definition{
			Packages:     []string{"bash"},
			Repositories: []rpmmd.RepoConfig{{Name: "fedora", BaseURL: "https://example.org"}},
		}
		d.applyDefaults()
		return d
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(d *Definition){
		"no packages or groups":     func(d *Definition) { d.Packages = nil },
		"no repositories":           func(d *Definition) { d.Repositories = nil },
		"exactly one of baseurl":    func(d *Definition) { d.Repositories[0].MirrorList = "https://example.org/m" },
		"group without a name":      func(d *Definition) { d.Groups = []Group{{}} },
		"whole number of MiB":       func(d *Definition) { d.RootSize = "1000 kB" },
		"invalid root_size":         func(d *Definition) { d.RootSize = "big" },
		"invalid value for missing": func(d *Definition) { d.Missing = "skip" },
		"invalid selinux mode":      func(d *Definition) { d.System.SELinux = "strict" },
		"post script 1 is empty":    func(d *Definition) { d.Post = []PostScript{{Interpreter: "/bin/sh"}} },
	}
	for msg, mutate := range cases {
		d := valid()
		mutate(d)
		assert.ErrorContains(t, d.Validate(), msg)
	}
}

func TestRootSizeBytes(t *testing.T) {
	cases := []struct {
		size   string
		bytes  uint64
		errMsg string
	}{
		{"4096 MiB", 4096 * datasizes.MiB, ""},
		{"4 GiB", 4 * datasizes.GiB, ""},
		{"  512MiB", 512 * datasizes.MiB, ""},
		{"1 TiB", datasizes.TiB, ""},
		{"1048576", datasizes.MiB, ""},
		{"2 GB", 2 * datasizes.GB, ""},
		{"4096 mib", 0, "unknown data size units"},
		{"MiB", 0, "doesn't contain any number"},
	}
	for _, c := range cases {
		d := &Definition{RootSize: c.size}
		size, err := d.RootSizeBytes()
		if c.errMsg != "" {
			assert.ErrorContains(t, err, c.errMsg, c.size)
			assert.ErrorContains(t, err, "invalid root_size", c.size)
			continue
		}
		require.NoError(t, err, c.size)
		assert.Equal(t, c.bytes, size, c.size)
	}
}

func TestCheckHost(t *testing.T) {
	saved := selinuxEnforcePaths
	defer func() { selinuxEnforcePaths = saved }()

	d := &Definition{}
	d.applyDefaults()

	selinuxEnforcePaths = []string{filepath.Join(t.TempDir(), "enforce")}
	assert.EqualError(t, d.CheckHost(), "SELinux requested but not enabled on host")

	d.System.SELinux = "disabled"
	assert.NoError(t, d.CheckHost())

	d.System.SELinux = "enforcing"
	enforce := filepath.Join(t.TempDir(), "enforce")
	require.NoError(t, os.WriteFile(enforce, []byte("1"), 0644))
	selinuxEnforcePaths = []string{"/nonexistent/enforce", enforce}
	assert.NoError(t, d.CheckHost())
}
