package install

import (
	"fmt"
	"os"
	"strings"

	"github.com/osbuild/livecd-creator/internal/common"
	"github.com/osbuild/livecd-creator/internal/definition"
)

const networkScripts = "/etc/sysconfig/network-scripts"

func ifcfg(n definition.NetworkDevice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DEVICE=%s\n", n.Device)
	fmt.Fprintf(&b, "BOOTPROTO=%s\n", n.BootProto)

	static := strings.EqualFold(n.BootProto, "static")
	if static && n.IP != "" {
		fmt.Fprintf(&b, "IPADDR=%s\n", n.IP)
	}
	if static && n.Netmask != "" {
		fmt.Fprintf(&b, "NETMASK=%s\n", n.Netmask)
	}

	if n.IsOnBoot() {
		b.WriteString("ONBOOT=on\n")
	} else {
		b.WriteString("ONBOOT=off\n")
	}

	if n.ESSID != "" {
		fmt.Fprintf(&b, "ESSID=%s\n", n.ESSID)
	}
	if n.Ethtool != "" {
		opts := n.Ethtool
		if !strings.Contains(opts, "autoneg") {
			opts = "autoneg off " + opts
		}
		fmt.Fprintf(&b, "ETHTOOL_OPTS=%s\n", opts)
	}

	if strings.EqualFold(n.BootProto, "dhcp") {
		if n.Hostname != "" {
			fmt.Fprintf(&b, "DHCP_HOSTNAME=%s\n", n.Hostname)
		}
		if n.DHCPClass != "" {
			fmt.Fprintf(&b, "DHCP_CLASSID=%s\n", n.DHCPClass)
		}
	}

	if n.MTU != "" {
		fmt.Fprintf(&b, "MTU=%s\n", n.MTU)
	}
	return b.String()
}

func hosts(hostname string) string {
	local := ""
	if hostname != "" && hostname != "localhost.localdomain" {
		local += hostname + " "
		if parts := strings.Split(hostname, "."); len(parts) > 1 {
			local += parts[0] + " "
		}
	}
	local += "localhost.localdomain localhost"
	return fmt.Sprintf("127.0.0.1\t\t%s\n::1\t\tlocalhost6.localdomain6 localhost6\n", local)
}

// ConfigureNetwork writes the interface configuration of every network
// device along with the host wide network settings.
func (i *Installer) ConfigureNetwork() error {
	if err := os.MkdirAll(i.rootPath(networkScripts), 0755); err != nil {
		return common.InstallationErrorf(err, "Failed to create %s", networkScripts)
	}

	var (
		useIPv6     bool
		noDNS       bool
		hostname    string
		gateway     string
		nameservers []string
	)

	for _, n := range i.def.Network {
		if n.Device == "" {
			return common.InstallationErrorf(nil, "No device specified with network configuration")
		}
		if n.IsOnBoot() && !strings.EqualFold(n.BootProto, "dhcp") && (n.IP == "" || n.Netmask == "") {
			return common.InstallationErrorf(nil, "No IP address and/or netmask specified with static configuration for '%s'", n.Device)
		}

		if err := i.writeRootFile(networkScripts+"/ifcfg-"+n.Device, ifcfg(n), 0644); err != nil {
			return common.InstallationErrorf(err, "Failed to configure '%s'", n.Device)
		}
		if n.WEPKey != "" {
			if err := i.writeRootFile(networkScripts+"/keys-"+n.Device, fmt.Sprintf("KEY=%s\n", n.WEPKey), 0600); err != nil {
				return common.InstallationErrorf(err, "Failed to configure '%s'", n.Device)
			}
		}

		useIPv6 = useIPv6 || n.IPv6
		noDNS = noDNS || n.NoDNS
		if n.Hostname != "" {
			hostname = n.Hostname
		}
		if n.Gateway != "" {
			gateway = n.Gateway
		}
		if len(n.Nameservers) > 0 {
			nameservers = n.Nameservers
		}
	}

	var network strings.Builder
	network.WriteString("NETWORKING=yes\n")
	if useIPv6 {
		network.WriteString("NETWORKING_IPV6=yes\n")
	} else {
		network.WriteString("NETWORKING_IPV6=no\n")
	}
	if hostname != "" {
		fmt.Fprintf(&network, "HOSTNAME=%s\n", hostname)
	} else {
		network.WriteString("HOSTNAME=localhost.localdomain\n")
	}
	if gateway != "" {
		fmt.Fprintf(&network, "GATEWAY=%s\n", gateway)
	}
	if err := i.writeRootFile("/etc/sysconfig/network", network.String(), 0644); err != nil {
		return common.InstallationErrorf(err, "Failed to write /etc/sysconfig/network")
	}

	if err := i.writeRootFile("/etc/hosts", hosts(hostname), 0644); err != nil {
		return common.InstallationErrorf(err, "Failed to write /etc/hosts")
	}

	if noDNS || len(nameservers) == 0 {
		return nil
	}
	var resolv strings.Builder
	for _, ns := range nameservers {
		if ns != "" {
			fmt.Fprintf(&resolv, "nameserver %s\n", ns)
		}
	}
	if err := i.writeRootFile("/etc/resolv.conf", resolv.String(), 0644); err != nil {
		return common.InstallationErrorf(err, "Failed to write /etc/resolv.conf")
	}
	return nil
}
