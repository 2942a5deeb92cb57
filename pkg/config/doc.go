// Package config loads the gateway configuration from a YAML file, fills
// defaults, validates it and converts its sections into the option types of
// the policy, identity, audit, telemetry and ratelimit packages.
package config
