package config

import (
	"time"

	"github.com/core-tools/hsu-sandbox/pkg/audit"
	"github.com/core-tools/hsu-sandbox/pkg/errors"
	"github.com/core-tools/hsu-sandbox/pkg/logging"
	"github.com/core-tools/hsu-sandbox/pkg/resourcelimits"
)

// ResolveProfile returns the profile for path. An empty path means the
// built-in defaults. A payload that cannot be read, parsed or validated
// also yields the defaults, with a warning and a config_fallback event;
// it is never fatal.
func ResolveProfile(resolver Resolver, path string, logger logging.Logger, sink audit.Sink) resourcelimits.Profile {
	if path == "" {
		return resourcelimits.DefaultProfile()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	payload, err := resolver.Resolve(path)
	if err == nil && payload == nil {
		err = errors.NewValidationError("empty configuration payload", nil).WithContext("filename", path)
	}
	if err == nil {
		err = payload.Validate()
	}
	if err != nil {
		profile := resourcelimits.DefaultProfile()
		logger.Warnf("Configuration unusable, falling back to defaults, filename: %s, defaults: %s, error: %v", path, profile, err)
		if recordErr := audit.Record(sink, audit.Event{
			Kind:    audit.EventKindConfigFallback,
			Time:    time.Now(),
			Path:    path,
			Profile: &profile,
			Error:   err.Error(),
			Message: "built-in limits applied",
		}); recordErr != nil {
			logger.Errorf("Failed to record config fallback, error: %v", recordErr)
		}
		return profile.Clone()
	}

	profile := payload.Profile()
	logger.Debugf("Configuration resolved, filename: %s, profile: %s", path, profile)
	return profile
}
