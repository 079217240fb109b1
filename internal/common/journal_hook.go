package common

import (
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/sirupsen/logrus"
)

// JournalHook forwards log entries to the systemd journal. Entry fields
// become journal fields prefixed with LIVECD_, so a build can be followed
// with `journalctl LIVECD_SESSION=<id>`.
type JournalHook struct {
	Identifier string
	// Level is the least severe level that is forwarded.
	Level logrus.Level
}

func NewJournalHook(identifier string, level logrus.Level) *JournalHook {
	return &JournalHook{Identifier: identifier, Level: level}
}

// JournalAvailable reports whether the systemd journal socket can be used.
func JournalAvailable() bool {
	return journal.Enabled()
}

func journalPriority(level logrus.Level) journal.Priority {
	switch level {
	case logrus.PanicLevel:
		return journal.PriEmerg
	case logrus.FatalLevel:
		return journal.PriCrit
	case logrus.ErrorLevel:
		return journal.PriErr
	case logrus.WarnLevel:
		return journal.PriWarning
	case logrus.InfoLevel:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalField turns a logrus field name into a valid journal field name:
// upper case letters, digits and underscores, not starting with one.
func journalField(key string) string {
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
	return "LIVECD_" + strings.TrimLeft(key, "_")
}

func (h *JournalHook) fields(data logrus.Fields) map[string]string {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": h.Identifier,
	}
	for k, v := range data {
		vars[journalField(k)] = fmt.Sprint(v)
	}
	return vars
}

func (h *JournalHook) Fire(entry *logrus.Entry) error {
	return journal.Send(entry.Message, journalPriority(entry.Level), h.fields(entry.Data))
}

func (h *JournalHook) Levels() []logrus.Level {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= h.Level {
			levels = append(levels, l)
		}
	}
	return levels
}
