package config

import "strings"

// Environment identifies the runtime environment.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Role selects which side of the bridge this process plays.
type Role string

const (
	// RoleService serves the websocket endpoint and the REST surface.
	RoleService Role = "service"
	// RoleUI dials the service and mirrors its events.
	RoleUI Role = "ui"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func trimAll(values []string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
