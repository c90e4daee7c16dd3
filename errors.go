package pollinations

import (
	"fmt"
	"strings"
)

// ConfigurationError reports a request that is invalid before any network
// call is made (missing prompt, empty messages, unsupported option value).
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("pollinations: invalid %s: %s", e.Field, e.Reason)
}

// APIError is a non-success HTTP status returned by the Pollinations
// service. StatusCode is preserved as received; Message carries the
// server-provided error text when one could be parsed.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pollinations: upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("pollinations: upstream status %d: %s", e.StatusCode, e.Message)
}

// ModelNotFoundError is returned when a requested model is absent from the
// service's advertised model list, or when a model-scoped call answers 404.
type ModelNotFoundError struct {
	Model     string
	Available []string
}

func (e *ModelNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("pollinations: model %q not found", e.Model)
	}
	return fmt.Sprintf("pollinations: model %q not found, available: %s",
		e.Model, strings.Join(e.Available, ", "))
}
