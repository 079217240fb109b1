package main

import (
	"path/filepath"
	"strings"
	"time"
)

const (
	maxLabelLength = 32
	labelPrefix    = "livecd-"
)

// defaultLabel derives a filesystem label from the name of the build
// definition and the current time, keeping it within the ISO9660 volume id
// limit.
func defaultLabel(config string, now time.Time) string {
	suffix := now.Format("200601021504")

	name := filepath.Base(config)
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimPrefix(name, labelPrefix)

	label := labelPrefix + name + "-" + suffix
	if len(label) <= maxLabelLength {
		return label
	}

	label = name + "-" + suffix
	if len(label) <= maxLabelLength {
		return label
	}

	return name[:maxLabelLength-len(suffix)-1] + "-" + suffix
}
