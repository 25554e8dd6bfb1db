package modules

import (
	"fmt"
	"time"

	"github.com/asaskevich/govalidator"

	"github.com/priyxstudio/curator/config"
)

// Outcome is the result of validating a single module configuration. It is
// created once and never mutated; the supervisor consumes it to make the
// start-or-skip decision.
type Outcome struct {
	Valid  bool
	Reason string
}

func valid() Outcome {
	return Outcome{Valid: true}
}

func invalidf(format string, args ...interface{}) Outcome {
	return Outcome{Reason: fmt.Sprintf(format, args...)}
}

// Validate inspects a module's configuration and determines whether its
// declared prerequisites are satisfied. It is a pure function: no I/O, and
// deterministic for a given configuration.
//
// A disabled module is reported as invalid with a distinct, non-alarming
// reason since disabling is an intentional operator choice rather than a
// configuration mistake. Only the first unmet prerequisite is reported.
func Validate(cfg config.ModuleConfig) Outcome {
	if !cfg.Enabled {
		return invalidf("module disabled")
	}

	for _, field := range cfg.RequiredFields {
		if cfg.Field(field) != "" {
			continue
		}
		if field == "api_key" {
			return invalidf("missing required API key for module: %s", cfg.Name)
		}
		return invalidf("missing required field %q for module: %s", field, cfg.Name)
	}

	if cfg.RateLimit <= 0 {
		return invalidf("invalid rate_limit %d for module: %s (must be positive)", cfg.RateLimit, cfg.Name)
	}
	if d, err := time.ParseDuration(cfg.RateInterval); err != nil || d <= 0 {
		return invalidf("invalid rate_interval %q for module: %s", cfg.RateInterval, cfg.Name)
	}

	// An explicitly configured endpoint override has to at least look like a
	// URL, otherwise every request the module makes is doomed.
	if endpoint := cfg.Field("endpoint"); endpoint != "" && !govalidator.IsURL(endpoint) {
		return invalidf("invalid endpoint %q for module: %s", endpoint, cfg.Name)
	}

	return valid()
}
