package config

import (
	"fmt"
	"net/url"
	"strings"
)

// InvalidEndpoint represents an endpoint that is not an absolute http(s) URL
type InvalidEndpoint struct {
	Name  string
	Value string
}

// ValidationErrors collects all validation errors
type ValidationErrors struct {
	Missing          []string
	InvalidValues    []string
	InvalidEndpoints []InvalidEndpoint
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Missing) > 0 || len(e.InvalidValues) > 0 || len(e.InvalidEndpoints) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.Missing) > 0 {
		sb.WriteString("\nMissing required values:\n")
		for _, m := range e.Missing {
			sb.WriteString(fmt.Sprintf("  - %s\n", m))
		}
	}

	if len(e.InvalidValues) > 0 {
		sb.WriteString("\nInvalid values:\n")
		for _, v := range e.InvalidValues {
			sb.WriteString(fmt.Sprintf("  - %s\n", v))
		}
	}

	if len(e.InvalidEndpoints) > 0 {
		sb.WriteString("\nInvalid endpoints:\n")
		for _, ep := range e.InvalidEndpoints {
			sb.WriteString(fmt.Sprintf("  - endpoints.%s: %q (must be an absolute http or https URL)\n", ep.Name, ep.Value))
		}
	}

	return sb.String()
}

func validateEndpoints(errs *ValidationErrors, endpoints EndpointsConfig) {
	checks := []struct {
		name  string
		value string
	}{
		{"sdk", endpoints.SDK},
		{"events", endpoints.Events},
		{"auth", endpoints.Auth},
		{"streaming", endpoints.Streaming},
	}

	for _, c := range checks {
		if !isHTTPURL(c.value) {
			errs.InvalidEndpoints = append(errs.InvalidEndpoints, InvalidEndpoint{Name: c.name, Value: c.value})
		}
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
