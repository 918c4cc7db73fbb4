package config

const (
	defaultDataDir          = "~/.local/share/fieldsync"
	defaultStagingDir       = "~/.local/share/fieldsync/evidence"
	defaultLogDir           = "~/.local/share/fieldsync/logs"
	defaultSocketPath       = "~/.local/share/fieldsync/fieldsyncd.sock"
	defaultHealthPath       = "/healthz"
	defaultRequestTimeout   = 30
	defaultMaxRetries       = 5
	defaultDrainInterval    = 900
	defaultConnectivityPoll = 15
	defaultProbeTimeout     = 5
	defaultEvidenceMaxAge   = 720
	defaultUploadAttempts   = 3
	defaultUploadBackoff    = 2
	defaultUploadMaxBackoff = 30
	defaultNotifyTimeout    = 10
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			SocketPath: defaultSocketPath,
		},
		Backend: Backend{
			HealthPath:     defaultHealthPath,
			RequestTimeout: defaultRequestTimeout,
		},
		Sync: Sync{
			MaxRetries:          defaultMaxRetries,
			DrainInterval:       defaultDrainInterval,
			ConnectivityPoll:    defaultConnectivityPoll,
			ProbeTimeout:        defaultProbeTimeout,
			EvidenceMaxAgeHours: defaultEvidenceMaxAge,
		},
		Upload: Upload{
			Attempts:       defaultUploadAttempts,
			BackoffSeconds: defaultUploadBackoff,
			MaxBackoff:     defaultUploadMaxBackoff,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Exhausted:      true,
			Drain:          false,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
