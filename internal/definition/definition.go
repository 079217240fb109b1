// Package definition reads the build definition of a live image: what to
// install from where, how to configure the installed system and which
// scripts to run afterwards.
package definition

import (
	"fmt"
	"os"

	"github.com/osbuild/images/pkg/datasizes"

	"github.com/osbuild/livecd-creator/internal/rpmmd"
)

const (
	DefaultRootSize    = "4096 MiB"
	DefaultLang        = "en_US.UTF-8"
	DefaultKeyboard    = "us"
	DefaultTimezone    = "America/New_York"
	DefaultAuth        = "--useshadow --enablemd5"
	DefaultInterpreter = "/bin/sh"

	MissingIgnore = "ignore"
	MissingFail   = "fail"
)

var selinuxEnforcePaths = []string{"/sys/fs/selinux/enforce", "/selinux/enforce"}

type Definition struct {
	// Name is the file name of the definition without its extension.
	Name string `toml:"-" yaml:"-"`

	Include         []string           `toml:"include,omitempty" yaml:"include,omitempty"`
	Packages        []string           `toml:"packages,omitempty" yaml:"packages,omitempty"`
	Groups          []Group            `toml:"groups,omitempty" yaml:"groups,omitempty"`
	ExcludePackages []string           `toml:"exclude_packages,omitempty" yaml:"exclude_packages,omitempty"`
	Missing         string             `toml:"missing,omitempty" yaml:"missing,omitempty"`
	RootSize        string             `toml:"root_size,omitempty" yaml:"root_size,omitempty"`
	Repositories    []rpmmd.RepoConfig `toml:"repositories,omitempty" yaml:"repositories,omitempty"`
	Post            []PostScript       `toml:"post,omitempty" yaml:"post,omitempty"`
	System          System             `toml:"system,omitempty" yaml:"system,omitempty"`
	Network         []NetworkDevice    `toml:"network,omitempty" yaml:"network,omitempty"`
}

type Group struct {
	Name    string             `toml:"name" yaml:"name"`
	Include rpmmd.GroupInclude `toml:"include,omitempty" yaml:"include,omitempty"`
}

// PostScript runs after installation, in the install root unless NoChroot
// is set.
type PostScript struct {
	Script      string `toml:"script" yaml:"script"`
	Interpreter string `toml:"interpreter,omitempty" yaml:"interpreter,omitempty"`
	NoChroot    bool   `toml:"nochroot,omitempty" yaml:"nochroot,omitempty"`
	ErrorOnFail bool   `toml:"error_on_fail,omitempty" yaml:"error_on_fail,omitempty"`
}

type System struct {
	Lang         string        `toml:"lang,omitempty" yaml:"lang,omitempty"`
	Keyboard     string        `toml:"keyboard,omitempty" yaml:"keyboard,omitempty"`
	Timezone     *Timezone     `toml:"timezone,omitempty" yaml:"timezone,omitempty"`
	Auth         string        `toml:"auth,omitempty" yaml:"auth,omitempty"`
	Firewall     *Firewall     `toml:"firewall,omitempty" yaml:"firewall,omitempty"`
	SELinux      string        `toml:"selinux,omitempty" yaml:"selinux,omitempty"`
	RootPassword *RootPassword `toml:"rootpw,omitempty" yaml:"rootpw,omitempty"`
	Services     *Services     `toml:"services,omitempty" yaml:"services,omitempty"`
	StartX       bool          `toml:"startx,omitempty" yaml:"startx,omitempty"`
}

type Timezone struct {
	Zone string `toml:"zone,omitempty" yaml:"zone,omitempty"`
	UTC  bool   `toml:"utc,omitempty" yaml:"utc,omitempty"`
}

type Firewall struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

type RootPassword struct {
	Password  string `toml:"password" yaml:"password"`
	IsCrypted bool   `toml:"iscrypted,omitempty" yaml:"iscrypted,omitempty"`
}

type Services struct {
	Enabled  []string `toml:"enabled,omitempty" yaml:"enabled,omitempty"`
	Disabled []string `toml:"disabled,omitempty" yaml:"disabled,omitempty"`
}

type NetworkDevice struct {
	Device      string   `toml:"device" yaml:"device"`
	BootProto   string   `toml:"bootproto,omitempty" yaml:"bootproto,omitempty"`
	OnBoot      *bool    `toml:"onboot,omitempty" yaml:"onboot,omitempty"`
	IP          string   `toml:"ip,omitempty" yaml:"ip,omitempty"`
	Netmask     string   `toml:"netmask,omitempty" yaml:"netmask,omitempty"`
	Gateway     string   `toml:"gateway,omitempty" yaml:"gateway,omitempty"`
	Hostname    string   `toml:"hostname,omitempty" yaml:"hostname,omitempty"`
	Nameservers []string `toml:"nameservers,omitempty" yaml:"nameservers,omitempty"`
	NoDNS       bool     `toml:"nodns,omitempty" yaml:"nodns,omitempty"`
	IPv6        bool     `toml:"ipv6,omitempty" yaml:"ipv6,omitempty"`
	ESSID       string   `toml:"essid,omitempty" yaml:"essid,omitempty"`
	WEPKey      string   `toml:"wepkey,omitempty" yaml:"wepkey,omitempty"`
	Ethtool     string   `toml:"ethtool,omitempty" yaml:"ethtool,omitempty"`
	DHCPClass   string   `toml:"dhcpclass,omitempty" yaml:"dhcpclass,omitempty"`
	MTU         string   `toml:"mtu,omitempty" yaml:"mtu,omitempty"`
}

// IsOnBoot defaults to true.
func (n NetworkDevice) IsOnBoot() bool {
	return n.OnBoot == nil || *n.OnBoot
}

func (d *Definition) IgnoreMissing() bool {
	return d.Missing == MissingIgnore
}

func (d *Definition) SELinuxEnabled() bool {
	return d.System.SELinux != "disabled"
}

func (d *Definition) FirewallEnabled() bool {
	return d.System.Firewall == nil || d.System.Firewall.Enabled
}

// RootSizeBytes is the size of the root filesystem image.
func (d *Definition) RootSizeBytes() (uint64, error) {
	size, err := datasizes.Parse(d.RootSize)
	if err != nil {
		return 0, fmt.Errorf("invalid root_size: %w", err)
	}
	return size, nil
}

func (d *Definition) applyDefaults() {
	if d.RootSize == "" {
		d.RootSize = DefaultRootSize
	}
	if d.System.Lang == "" {
		d.System.Lang = DefaultLang
	}
	if d.System.Keyboard == "" {
		d.System.Keyboard = DefaultKeyboard
	}
	if d.System.Timezone == nil {
		d.System.Timezone = &Timezone{}
	}
	if d.System.Timezone.Zone == "" {
		d.System.Timezone.Zone = DefaultTimezone
	}
	if d.System.Auth == "" {
		d.System.Auth = DefaultAuth
	}
	if d.System.SELinux == "" {
		d.System.SELinux = "enforcing"
	}
	for i := range d.Post {
		if d.Post[i].Interpreter == "" {
			d.Post[i].Interpreter = DefaultInterpreter
		}
	}
	for i := range d.Network {
		if d.Network[i].BootProto == "" {
			d.Network[i].BootProto = "dhcp"
		}
	}
}

// Validate checks the definition on its own, without looking at the host.
func (d *Definition) Validate() error {
	if len(d.Packages) == 0 && len(d.Groups) == 0 {
		return fmt.Errorf("no packages or groups to install")
	}
	if len(d.Repositories) == 0 {
		return fmt.Errorf("no repositories configured")
	}
	for _, repo := range d.Repositories {
		if err := repo.Validate(); err != nil {
			return err
		}
	}
	for _, g := range d.Groups {
		if g.Name == "" {
			return fmt.Errorf("group without a name")
		}
	}

	size, err := d.RootSizeBytes()
	if err != nil {
		return err
	}
	if size == 0 || size%datasizes.MiB != 0 {
		return fmt.Errorf("root_size must be a positive whole number of MiB, got '%s'", d.RootSize)
	}

	switch d.Missing {
	case "", MissingIgnore, MissingFail:
	default:
		return fmt.Errorf("invalid value for missing: '%s'", d.Missing)
	}

	switch d.System.SELinux {
	case "", "enforcing", "permissive", "disabled":
	default:
		return fmt.Errorf("invalid selinux mode: '%s'", d.System.SELinux)
	}

	for i, p := range d.Post {
		if p.Script == "" {
			return fmt.Errorf("post script %d is empty", i+1)
		}
	}
	return nil
}

// CheckHost verifies that the host can build the definition. Labelling
// the image for SELinux needs SELinux support in the host kernel.
func (d *Definition) CheckHost() error {
	if !d.SELinuxEnabled() {
		return nil
	}
	for _, path := range selinuxEnforcePaths {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
	}
	return fmt.Errorf("SELinux requested but not enabled on host")
}
