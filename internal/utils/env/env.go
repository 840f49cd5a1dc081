package env

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"strings"
)

var keyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses KEY=VALUE specs. A bare KEY takes its value from the host environment.
// Later specs override earlier ones.
func ParseSpecs(specs []string) (map[string]string, error) {
	return parseSpecs(specs, os.LookupEnv)
}

func parseSpecs(specs []string, lookup func(string) (string, bool)) (map[string]string, error) {
	env := make(map[string]string, len(specs))
	for _, spec := range specs {
		key, value, hasValue := strings.Cut(spec, "=")
		if !keyRegexp.MatchString(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}

		if !hasValue {
			v, ok := lookup(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
			value = v
		}
		env[key] = value
	}

	return env, nil
}

// Merge returns a new map with all the maps merged, later maps win.
func Merge(envs ...map[string]string) map[string]string {
	merged := map[string]string{}
	for _, e := range envs {
		maps.Copy(merged, e)
	}
	return merged
}
