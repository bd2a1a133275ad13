package config

import (
	"fmt"
	"slices"
)

// NotifyPriorities are the ntfy message priorities.
var NotifyPriorities = []string{"min", "low", "default", "high", "urgent"}

// NotifyConfig configures ntfy alerts for permanent streaming failures.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`   // required when enabled
	Priority string `mapstructure:"priority"` // one of NotifyPriorities
	Tags     string `mapstructure:"tags"`     // comma-separated emoji tags
	Token    string `mapstructure:"token"`    // access token for private topics
}

func validateNotify(errs *ValidationErrors, n NotifyConfig) {
	if !n.Enabled {
		return
	}
	if n.Topic == "" {
		errs.Missing = append(errs.Missing, "notify.topic (set FLAGSYNC_NOTIFY_TOPIC env var)")
	}
	if !slices.Contains(NotifyPriorities, n.Priority) {
		errs.InvalidValues = append(errs.InvalidValues,
			fmt.Sprintf("notify.priority %q must be one of %v", n.Priority, NotifyPriorities))
	}
	if !isHTTPURL(n.Server) {
		errs.InvalidValues = append(errs.InvalidValues,
			fmt.Sprintf("notify.server %q must be an absolute http or https URL", n.Server))
	}
}
