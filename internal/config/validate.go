package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTemplate(); err != nil {
		return err
	}
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return c.validateNotifications()
}

func (c *Config) validateTemplate() error {
	if c.WatchDirectory == "" {
		return errors.New("WatchDirectory must be set")
	}
	if c.QueueDirectory == "" {
		return errors.New("QueueDirectory must be set")
	}
	if c.TimeoutSeconds <= 0 {
		return errors.New("TimeoutSeconds must be positive")
	}
	if c.DefaultRetryCount < 0 {
		return errors.New("DefaultRetryCount must be zero or positive")
	}
	if c.FileRetentionHours < 0 {
		return errors.New("FileRetentionHours must be zero or positive")
	}
	for name, entry := range c.Mapping {
		if name == "" {
			return errors.New("Mapping keys must be non-empty")
		}
		if entry.ExecutablePath == "" {
			return fmt.Errorf("Mapping.%s.ExecutablePath must be set", name)
		}
		if entry.OutputDirectory == "" {
			return fmt.Errorf("Mapping.%s.OutputDirectory must be set", name)
		}
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.PollIntervalMillis <= 0 {
		return errors.New("Engine.PollIntervalMillis must be positive")
	}
	if c.Engine.MaxConcurrentJobs <= 0 {
		return errors.New("Engine.MaxConcurrentJobs must be positive")
	}
	if c.Engine.PacingDelayMillis < 0 {
		return errors.New("Engine.PacingDelayMillis must be zero or positive")
	}
	if c.Engine.SweepIntervalMinutes <= 0 {
		return errors.New("Engine.SweepIntervalMinutes must be positive")
	}
	if c.Engine.ReloadDebounceMillis < 0 {
		return errors.New("Engine.ReloadDebounceMillis must be zero or positive")
	}
	if strings.Contains(c.Engine.StateDirectory, UserToken) {
		return errors.New("Engine.StateDirectory must not contain " + UserToken)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("Logging.Level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	if c.Logging.RetentionDays < 0 {
		return errors.New("Logging.RetentionDays must be zero or positive")
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("API.Bind must be host:port: %w", err)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.WebhookURL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.WebhookURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return errors.New("Notifications.WebhookURL must be an http(s) URL")
	}
	return nil
}
