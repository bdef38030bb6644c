package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	domainconfig "github.com/felixgeelhaar/merlin-agent/domain/config"
)

// envPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:[-?][^}]*)?\}`)

// envExpander expands environment variables in configuration text.
// A bare $VAR is left alone so secrets and passwords may contain '$'.
type envExpander struct {
	// strict fails when a plain ${VAR} is unset.
	strict  bool
	lookup  func(string) (string, bool)
	missing []string
}

func newEnvExpander(strict bool) *envExpander {
	return &envExpander{strict: strict, lookup: os.LookupEnv}
}

// Expand replaces every reference in input.
//   - ${VAR} expands to VAR, or "" when unset
//   - ${VAR:-default} expands to VAR, or default when unset or empty
//   - ${VAR:?message} fails when VAR is unset or empty
func (e *envExpander) Expand(input string) (string, error) {
	e.missing = nil

	result := envPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		name, modifier := groups[1], groups[2]
		value, ok := e.lookup(name)

		switch {
		case strings.HasPrefix(modifier, ":-"):
			if !ok || value == "" {
				return modifier[2:]
			}
		case strings.HasPrefix(modifier, ":?"):
			if !ok || value == "" {
				msg := modifier[2:]
				if msg == "" {
					msg = "not set"
				}
				e.missing = append(e.missing, fmt.Sprintf("%s: %s", name, msg))
				return match
			}
		default:
			if !ok && e.strict {
				e.missing = append(e.missing, name)
			}
		}
		return value
	})

	if len(e.missing) > 0 {
		return "", fmt.Errorf("%w: %s", domainconfig.ErrMissingEnvVar, strings.Join(e.missing, ", "))
	}
	return result, nil
}

// ExpandEnv expands environment variables, leaving unset ones empty.
func ExpandEnv(input string) string {
	result, _ := newEnvExpander(false).Expand(input)
	return result
}

// ExpandEnvStrict expands environment variables and fails on missing ones.
func ExpandEnvStrict(input string) (string, error) {
	return newEnvExpander(true).Expand(input)
}
