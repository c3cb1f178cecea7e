package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// InterviewChanged is true if anything in the interview section changed.
	// Reloadable fields apply to sessions created after the reload.
	InterviewChanged bool

	// RestartRequired lists sections that changed but are only read at
	// startup.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.InterviewChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Interview, new.Interview) {
		d.InterviewChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	for _, section := range []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"session", old.Session, new.Session},
		{"transcript", old.Transcript, new.Transcript},
		{"telemetry", old.Telemetry, new.Telemetry},
	} {
		if !reflect.DeepEqual(section.old, section.new) {
			d.RestartRequired = append(d.RestartRequired, section.name)
		}
	}
	return d
}
