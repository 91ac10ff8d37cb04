package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Only the log
// level, the buffer timings and the wake-word timeout are applied live;
// everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BufferChanged bool
	NewBuffer     BufferConfig

	WakeTimeoutChanged bool
	NewWakeTimeout     time.Duration

	// RestartRequired names the sections that changed but only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.BufferChanged && !d.WakeTimeoutChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Buffer != new.Buffer {
		d.BufferChanged = true
		d.NewBuffer = new.Buffer
	}
	if old.WakeWord.Timeout != new.WakeWord.Timeout {
		d.WakeTimeoutChanged = true
		d.NewWakeTimeout = new.WakeWord.Timeout
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	restart := []struct {
		name     string
		old, new any
	}{
		{"recognition", old.Recognition, new.Recognition},
		{"wake_word", withoutTimeout(old.WakeWord), withoutTimeout(new.WakeWord)},
		{"system", old.System, new.System},
		{"display", old.Display, new.Display},
		{"audio", old.Audio, new.Audio},
		{"providers", old.Providers, new.Providers},
		{"sink", old.Sink, new.Sink},
	}
	for _, s := range restart {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}

func withoutTimeout(w WakeWordConfig) WakeWordConfig {
	w.Timeout = 0
	return w
}
