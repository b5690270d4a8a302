package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
)

var clockPattern = regexp.MustCompile(`^([01]\d|2[0-3]):[0-5]\d$`)

// Validate checks that the fields required by the given mode are present.
// Modes: "run", "serve", "status".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateRun()...)
		if c.Sheet.Path == "" {
			errs = append(errs, "sheet.path is required")
		}
		if len(c.Sheet.Names) == 0 {
			errs = append(errs, "sheet.names must list at least one sheet")
		}
		if c.Sheet.StartRow < 1 {
			errs = append(errs, "sheet.start_row must be >= 1")
		}
		if c.Sheet.WindowRows < 1 {
			errs = append(errs, "sheet.window_rows must be >= 1")
		}
		if c.Batch.TokenBudget < 1 {
			errs = append(errs, "batch.token_budget must be > 0")
		}
		if c.Batch.CharsPerToken <= 0 {
			errs = append(errs, "batch.chars_per_token must be > 0")
		}
		if c.Retry.MaxRetries < 0 {
			errs = append(errs, "retry.max_retries must be >= 0")
		}
		if c.Routing.DailyCap < 1 {
			errs = append(errs, "routing.daily_cap must be > 0")
		}
		if mode == "serve" && c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "status":
		errs = append(errs, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateRun() []string {
	var errs []string
	if c.Run.MaxRows < 1 {
		errs = append(errs, "run.max_rows must be > 0")
	}
	if c.Run.PrimaryCeiling < 1 || c.Run.FallbackCeiling < 1 {
		errs = append(errs, "run.primary_ceiling and run.fallback_ceiling must be > 0")
	}
	if c.Run.WindowStart != "" && !clockPattern.MatchString(c.Run.WindowStart) {
		errs = append(errs, "run.window_start must be HH:MM")
	}
	if c.Run.WindowEnd != "" && !clockPattern.MatchString(c.Run.WindowEnd) {
		errs = append(errs, "run.window_end must be HH:MM")
	}
	if _, err := c.Run.Location(); err != nil {
		errs = append(errs, "run.timezone is invalid")
	}
	return errs
}
