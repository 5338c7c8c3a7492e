package config

import (
	"reflect"

	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// ConfigDiff describes what changed between two configs. Log level and
// thresholds are applied live; every other section only takes effect on
// restart and is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ThresholdsChanged lists the scenarios whose effective thresholds
	// differ, in [quality.Scenarios] order.
	ThresholdsChanged []quality.Scenario

	// RestartRequired names the top-level sections that changed but are not
	// hot-reloadable, e.g. "audio" or "providers".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && len(d.ThresholdsChanged) == 0 && len(d.RestartRequired) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldTh, newTh := old.Thresholds.Table(), new.Thresholds.Table()
	for _, sc := range quality.Scenarios {
		if oldTh[sc] != newTh[sc] {
			d.ThresholdsChanged = append(d.ThresholdsChanged, sc)
		}
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if !reflect.DeepEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Recorders != new.Recorders {
		d.RestartRequired = append(d.RestartRequired, "recorders")
	}
	return d
}
