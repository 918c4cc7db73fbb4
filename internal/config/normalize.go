package config

import "strings"

// normalize expands path fields and fills defaulted values after decode.
func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return err
	}

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	c.Backend.APIToken = strings.TrimSpace(c.Backend.APIToken)
	if strings.TrimSpace(c.Backend.HealthPath) == "" {
		c.Backend.HealthPath = defaultHealthPath
	}
	if c.Backend.RequestTimeout <= 0 {
		c.Backend.RequestTimeout = defaultRequestTimeout
	}

	if c.Sync.MaxRetries <= 0 {
		c.Sync.MaxRetries = defaultMaxRetries
	}
	if c.Sync.DrainInterval <= 0 {
		c.Sync.DrainInterval = defaultDrainInterval
	}
	if c.Sync.ConnectivityPoll <= 0 {
		c.Sync.ConnectivityPoll = defaultConnectivityPoll
	}
	if c.Sync.ProbeTimeout <= 0 {
		c.Sync.ProbeTimeout = defaultProbeTimeout
	}
	if c.Sync.EvidenceMaxAgeHours <= 0 {
		c.Sync.EvidenceMaxAgeHours = defaultEvidenceMaxAge
	}

	if c.Upload.Attempts <= 0 {
		c.Upload.Attempts = defaultUploadAttempts
	}
	if c.Upload.BackoffSeconds <= 0 {
		c.Upload.BackoffSeconds = defaultUploadBackoff
	}
	if c.Upload.MaxBackoff <= 0 {
		c.Upload.MaxBackoff = defaultUploadMaxBackoff
	}

	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}

	return nil
}
