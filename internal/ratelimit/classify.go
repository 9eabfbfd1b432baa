// Package ratelimit implements per-client admission control: endpoint
// classification, hourly sliding windows, reputation scaling, concurrency
// caps and a global overload breaker.
package ratelimit

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Class tags an endpoint with its limit profile.
type Class string

// Endpoint classes.
const (
	ClassHealth         Class = "health"
	ClassAuth           Class = "auth"
	ClassAdmin          Class = "admin"
	ClassFileUpload     Class = "file_upload"
	ClassJobApplication Class = "job_application"
	ClassJobView        Class = "job_view"
	ClassStatic         Class = "static"
	ClassGeneral        Class = "general"
)

// Profile is the limit tuple of one endpoint class. BurstAllowance caps
// requests inside any single minute; RequestsPerHour caps the sliding hour.
type Profile struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	ConcurrentLimit int `yaml:"concurrent_limit"`
	BurstAllowance  int `yaml:"burst_allowance"`
	Priority        int `yaml:"priority"`
}

// DefaultProfiles returns the built-in per-class limits.
func DefaultProfiles() map[Class]Profile {
	return map[Class]Profile{
		ClassHealth:         {RequestsPerHour: 3600, ConcurrentLimit: 50, BurstAllowance: 120, Priority: 1},
		ClassAuth:           {RequestsPerHour: 60, ConcurrentLimit: 5, BurstAllowance: 10, Priority: 2},
		ClassAdmin:          {RequestsPerHour: 300, ConcurrentLimit: 10, BurstAllowance: 30, Priority: 2},
		ClassFileUpload:     {RequestsPerHour: 30, ConcurrentLimit: 3, BurstAllowance: 5, Priority: 3},
		ClassJobApplication: {RequestsPerHour: 30, ConcurrentLimit: 5, BurstAllowance: 5, Priority: 3},
		ClassJobView:        {RequestsPerHour: 600, ConcurrentLimit: 20, BurstAllowance: 60, Priority: 1},
		ClassStatic:         {RequestsPerHour: 2000, ConcurrentLimit: 50, BurstAllowance: 200, Priority: 1},
		ClassGeneral:        {RequestsPerHour: 300, ConcurrentLimit: 20, BurstAllowance: 30, Priority: 1},
	}
}

// LoadProfiles merges YAML overrides from path over the defaults. An empty
// path returns the defaults unchanged.
func LoadProfiles(path string) (map[Class]Profile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=ratelimit.LoadProfiles: %w", err)
	}
	var overrides map[Class]Profile
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("op=ratelimit.LoadProfiles: %w", err)
	}
	for class, p := range overrides {
		if _, ok := profiles[class]; !ok {
			return nil, fmt.Errorf("op=ratelimit.LoadProfiles: unknown class %q", class)
		}
		profiles[class] = p
	}
	return profiles, nil
}

// staticSuffixes marks asset-style paths.
var staticSuffixes = []string{".css", ".js", ".png", ".jpg", ".svg", ".ico", ".woff", ".woff2", ".map"}

// Classify tags a request by method and path.
func Classify(method, path string) Class {
	p := strings.ToLower(path)
	switch {
	case p == "/healthz" || p == "/readyz" || p == "/metrics":
		return ClassHealth
	case strings.HasPrefix(p, "/v1/auth"):
		return ClassAuth
	case strings.HasPrefix(p, "/v1/admin"):
		return ClassAdmin
	case strings.Contains(p, "/files") || strings.Contains(p, "/upload"):
		return ClassFileUpload
	case strings.HasPrefix(p, "/v1/applications"):
		if method == "POST" {
			return ClassJobApplication
		}
		return ClassJobView
	case strings.HasPrefix(p, "/static/") || hasStaticSuffix(p):
		return ClassStatic
	default:
		return ClassGeneral
	}
}

func hasStaticSuffix(p string) bool {
	for _, s := range staticSuffixes {
		if strings.HasSuffix(p, s) {
			return true
		}
	}
	return false
}
