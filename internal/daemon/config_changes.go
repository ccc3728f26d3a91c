package daemon

import (
	"maps"
	"slices"
	"time"

	"sequentier/internal/config"
	"sequentier/internal/logging"
)

// Settings read once at startup; the rest apply on the next tick or attempt.
var restartOnlySettings = []string{
	"Engine.MaxConcurrentJobs",
	"Engine.StateDirectory",
	"Engine.ReloadDebounceMillis",
	"Logging",
	"API",
	"Notifications",
}

// configChanges names the settings that differ between old and new, sorted
// in file order with mappings as Mapping.<app>.
func configChanges(old, new *config.Config) []string {
	if old == nil || new == nil {
		return nil
	}
	var changed []string
	add := func(name string, differs bool) {
		if differs {
			changed = append(changed, name)
		}
	}
	add("WatchDirectory", old.WatchDirectory != new.WatchDirectory)
	add("QueueDirectory", old.QueueDirectory != new.QueueDirectory)
	add("TimeoutSeconds", old.TimeoutSeconds != new.TimeoutSeconds)
	add("DefaultRetryCount", old.DefaultRetryCount != new.DefaultRetryCount)
	add("FileRetentionHours", old.FileRetentionHours != new.FileRetentionHours)

	apps := slices.Sorted(maps.Keys(old.Mapping))
	for app := range new.Mapping {
		if _, ok := old.Mapping[app]; !ok {
			apps = append(apps, app)
		}
	}
	slices.Sort(apps)
	for _, app := range apps {
		before, hadBefore := old.Mapping[app]
		after, hasAfter := new.Mapping[app]
		add("Mapping."+app, hadBefore != hasAfter || before != after)
	}

	add("Engine.PollIntervalMillis", old.Engine.PollIntervalMillis != new.Engine.PollIntervalMillis)
	add("Engine.MaxConcurrentJobs", old.Engine.MaxConcurrentJobs != new.Engine.MaxConcurrentJobs)
	add("Engine.PacingDelayMillis", old.Engine.PacingDelayMillis != new.Engine.PacingDelayMillis)
	add("Engine.SweepIntervalMinutes", old.Engine.SweepIntervalMinutes != new.Engine.SweepIntervalMinutes)
	add("Engine.RecoverStaleOnStart", old.Engine.RecoverStaleOnStart != new.Engine.RecoverStaleOnStart)
	add("Engine.ReloadDebounceMillis", old.Engine.ReloadDebounceMillis != new.Engine.ReloadDebounceMillis)
	add("Engine.StateDirectory", old.Engine.StateDirectory != new.Engine.StateDirectory)
	add("Logging", old.Logging != new.Logging)
	add("API", old.API != new.API)
	add("Notifications", old.Notifications != new.Notifications)
	return changed
}

func (d *Daemon) onConfigChange(ev config.ChangeEvent) {
	changed := configChanges(ev.Old, ev.New)
	if len(changed) == 0 {
		d.logger.Debug("configuration reloaded without changes",
			logging.String(logging.FieldEventType, "config_unchanged"),
		)
		return
	}

	d.mu.Lock()
	d.configChangedAt = time.Now()
	d.configChanged = changed
	d.mu.Unlock()

	d.logger.Info("configuration changed",
		logging.String(logging.FieldEventType, "config_changed"),
		logging.Any("changed", changed),
		logging.Int("timeout_seconds", ev.New.TimeoutSeconds),
		logging.Int("default_retry_count", ev.New.DefaultRetryCount),
		logging.Int("mappings", len(ev.New.Mapping)),
	)

	var pending []string
	for _, name := range changed {
		if slices.Contains(restartOnlySettings, name) {
			pending = append(pending, name)
		}
	}
	if len(pending) > 0 {
		logging.WarnWithContext(d.logger, "some configuration changes need a daemon restart", "config_restart_required",
			logging.Any("settings", pending),
			logging.String(logging.FieldErrorHint, "restart `sequentier run` to apply them"),
			logging.String(logging.FieldImpact, "the previous values stay in effect until restart"),
		)
	}
}
