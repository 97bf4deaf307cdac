package config

import (
	"os"
	"regexp"
)

// envRefPattern matches ${env:VAR} and ${env:VAR:default}.
var envRefPattern = regexp.MustCompile(`\$\{env:([^:}]+)(?::([^}]*))?\}`)

// ExpandEnv substitutes ${env:VAR} references in the raw config text with the
// value of the named environment variable. A ${env:VAR:default} form supplies
// a fallback; without one, an unset variable leaves the reference untouched.
func ExpandEnv(input string) string {
	return envRefPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envRefPattern.FindStringSubmatch(match)
		name := groups[1]
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if groups[2] != "" || len(match) > len("${env:"+name+"}") {
			return groups[2]
		}
		return match
	})
}
