package config

const (
	defaultWatchDirectory       = "~/sequentier/{USER}/watch"
	defaultQueueDirectory       = "~/.local/share/sequentier/queues/{USER}"
	defaultTimeoutSeconds       = 60
	defaultRetryCount           = 1
	defaultFileRetentionHours   = 1
	defaultPollIntervalMillis   = 1000
	defaultMaxConcurrentJobs    = 1
	defaultSweepIntervalMinutes = 15
	defaultReloadDebounceMillis = 100
	defaultStateDirectory       = "~/.local/share/sequentier"
	defaultLogDirectory         = "~/.local/share/sequentier/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLogRetentionDays     = 30
	defaultAPIBind              = "127.0.0.1:7390"
	defaultNotifyRequestTimeout = 10
	defaultNotifyQueueSize      = 256
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		WatchDirectory:     defaultWatchDirectory,
		QueueDirectory:     defaultQueueDirectory,
		TimeoutSeconds:     defaultTimeoutSeconds,
		DefaultRetryCount:  defaultRetryCount,
		FileRetentionHours: defaultFileRetentionHours,
		Mapping:            map[string]Mapping{},
		Engine: Engine{
			PollIntervalMillis:   defaultPollIntervalMillis,
			MaxConcurrentJobs:    defaultMaxConcurrentJobs,
			SweepIntervalMinutes: defaultSweepIntervalMinutes,
			RecoverStaleOnStart:  true,
			ReloadDebounceMillis: defaultReloadDebounceMillis,
			StateDirectory:       defaultStateDirectory,
		},
		Logging: Logging{
			Level:         defaultLogLevel,
			Format:        defaultLogFormat,
			Directory:     defaultLogDirectory,
			RetentionDays: defaultLogRetentionDays,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyRequestTimeout,
			QueueSize:             defaultNotifyQueueSize,
		},
	}
}
