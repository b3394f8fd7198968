// Package env identifies the deployment environment.
package env

import (
	"os"
	"strings"

	"github.com/ekisa-team/whisperd/internal/envvar"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
	Test        Environment = "test"
)

// FromEnv reads WHISPERD_ENV. Unset or unknown values mean Development.
func FromEnv() Environment {
	return Parse(os.Getenv(envvar.WhisperdEnv))
}

// Parse maps a name (or common abbreviation) to an Environment.
func Parse(s string) Environment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod":
		return Production
	case "test", "testing":
		return Test
	default:
		return Development
	}
}

// IsProduction reports whether e is Production.
func (e Environment) IsProduction() bool {
	return e == Production
}

func (e Environment) String() string {
	return string(e)
}
