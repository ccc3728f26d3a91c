package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeTemplate(); err != nil {
		return err
	}
	if err := c.normalizeEngine(); err != nil {
		return err
	}
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeNotifications()
	return nil
}

func (c *Config) normalizeTemplate() error {
	var err error
	if c.WatchDirectory, err = expandPath(strings.TrimSpace(c.WatchDirectory)); err != nil {
		return fmt.Errorf("WatchDirectory: %w", err)
	}
	if c.QueueDirectory, err = expandPath(strings.TrimSpace(c.QueueDirectory)); err != nil {
		return fmt.Errorf("QueueDirectory: %w", err)
	}

	mapping := make(map[string]Mapping, len(c.Mapping))
	for name, entry := range c.Mapping {
		key := strings.TrimSpace(name)
		entry.ExecutablePath = strings.TrimSpace(entry.ExecutablePath)
		// Bare command names resolve through PATH at spawn time.
		if strings.ContainsRune(entry.ExecutablePath, '/') || strings.HasPrefix(entry.ExecutablePath, "~") {
			if entry.ExecutablePath, err = expandPath(entry.ExecutablePath); err != nil {
				return fmt.Errorf("Mapping.%s.ExecutablePath: %w", key, err)
			}
		}
		if entry.OutputDirectory, err = expandPath(strings.TrimSpace(entry.OutputDirectory)); err != nil {
			return fmt.Errorf("Mapping.%s.OutputDirectory: %w", key, err)
		}
		mapping[key] = entry
	}
	c.Mapping = mapping
	return nil
}

func (c *Config) normalizeEngine() error {
	if strings.TrimSpace(c.Engine.StateDirectory) == "" {
		c.Engine.StateDirectory = defaultStateDirectory
	}
	var err error
	if c.Engine.StateDirectory, err = expandPath(strings.TrimSpace(c.Engine.StateDirectory)); err != nil {
		return fmt.Errorf("Engine.StateDirectory: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() error {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console", "text":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = defaultLogFormat
	}
	if value, ok := os.LookupEnv("SEQUENTIER_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if strings.TrimSpace(c.Logging.Directory) == "" {
		c.Logging.Directory = defaultLogDirectory
	}
	var err error
	if c.Logging.Directory, err = expandPath(strings.TrimSpace(c.Logging.Directory)); err != nil {
		return fmt.Errorf("Logging.Directory: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Token == "" {
		if value, ok := os.LookupEnv("SEQUENTIER_API_TOKEN"); ok {
			c.API.Token = value
		}
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeNotifications() {
	if c.Notifications.WebhookURL == "" {
		if value, ok := os.LookupEnv("SEQUENTIER_WEBHOOK_URL"); ok {
			c.Notifications.WebhookURL = value
		}
	}
	c.Notifications.WebhookURL = strings.TrimSpace(c.Notifications.WebhookURL)
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		c.Notifications.RequestTimeoutSeconds = defaultNotifyRequestTimeout
	}
	if c.Notifications.QueueSize <= 0 {
		c.Notifications.QueueSize = defaultNotifyQueueSize
	}
}
