package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
	"github.com/osbuild/images/pkg/arch"
	"github.com/sirupsen/logrus"
)

const defaultToolConfig = "/etc/livecd-creator/livecd-creator.toml"

type toolConfig struct {
	TmpDir      string `toml:"tmpdir"`
	CacheDir    string `toml:"cache"`
	LogLevel    string `toml:"log_level"`
	LogTarget   string `toml:"log_target"`
	MetricsFile string `toml:"metrics_file"`
	DNF         string `toml:"dnf"`
	ReleaseVer  string `toml:"releasever"`
	Arch        string `toml:"arch"`
}

func parseConfig(file string, logger logrus.FieldLogger) (*toolConfig, error) {
	// set defaults
	config := toolConfig{
		TmpDir:    "/var/tmp",
		LogLevel:  "info",
		LogTarget: "stderr",
		DNF:       "dnf",
	}

	md, err := toml.DecodeFile(file, &config)
	if err != nil {
		// A non-existing config isn't an error, use defaults in this case.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("cannot read tool config %s: %w", file, err)
		}
		logger.Infof("Configuration file %s not found, using defaults", file)
	} else if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in tool config %s: %v", file, undecoded)
	}

	if _, err := logrus.ParseLevel(config.LogLevel); err != nil {
		return nil, fmt.Errorf("invalid log_level in %s: %w", file, err)
	}
	switch config.LogTarget {
	case "stderr", "journal":
	default:
		return nil, fmt.Errorf("log_target needs to be stderr or journal. Got: %s.", config.LogTarget)
	}

	return &config, nil
}

// baseArch picks the architecture the image is built for. The environment
// wins over the tool config, which wins over the host.
func (c *toolConfig) baseArch(getenv func(string) string) string {
	if a := getenv("LIVECD_ARCH"); a != "" {
		return a
	}
	if c.Arch != "" {
		return c.Arch
	}
	return hostArch(runtimeGOARCH)
}

var runtimeGOARCH = runtime.GOARCH

// hostArch maps a GOARCH to its rpm base architecture. Hosts the image
// library does not know are passed through for the platform to reject.
func hostArch(goarch string) string {
	if goarch == "386" {
		return "i386"
	}
	a, err := arch.FromString(goarch)
	if err != nil {
		return goarch
	}
	return a.String()
}
