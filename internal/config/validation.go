package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct-tag constraints via go-playground/validator, then
// the cross-field combinations the tags can't express: link parameter
// combinations that are individually valid but jointly nonsensical.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := validateLinks(cfg.Links); err != nil {
		return err
	}

	if err := validateRoutes(cfg.Links, cfg.Routes); err != nil {
		return err
	}

	return nil
}

// validateLinks rejects link parameter combinations that are individually
// valid but jointly nonsensical: a nonzero idle_close_time on an alwayson
// link, and watermark orderings that would make backpressure inconsistent.
func validateLinks(links []LinkConfig) error {
	seen := make(map[string]bool, len(links))

	for _, l := range links {
		if seen[l.Name] {
			return fmt.Errorf("duplicate link name %q", l.Name)
		}
		seen[l.Name] = true

		if l.Type == "alwayson" && l.IdleCloseTime > 0 {
			return fmt.Errorf("link %q: idle_close_time must be zero for an alwayson link", l.Name)
		}

		if l.MinRetryInterval > l.MaxRetryInterval {
			return fmt.Errorf("link %q: min_retry_interval (%s) exceeds max_retry_interval (%s)",
				l.Name, l.MinRetryInterval, l.MaxRetryInterval)
		}

		if l.QlimitEnabled {
			if l.QlimitBundlesLow > l.QlimitBundlesHigh {
				return fmt.Errorf("link %q: qlimit_bundles_low exceeds qlimit_bundles_high", l.Name)
			}
			if l.QlimitBytesLow > l.QlimitBytesHigh {
				return fmt.Errorf("link %q: qlimit_bytes_low exceeds qlimit_bytes_high", l.Name)
			}
		}
	}

	return nil
}

// validateRoutes rejects routes that reference an undeclared link.
func validateRoutes(links []LinkConfig, routes []RouteConfig) error {
	known := make(map[string]bool, len(links))
	for _, l := range links {
		known[l.Name] = true
	}

	for _, r := range routes {
		if !known[r.Link] {
			return fmt.Errorf("route %q: references undeclared link %q", r.Dest, r.Link)
		}
	}

	return nil
}
