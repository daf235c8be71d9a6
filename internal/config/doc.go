// Package config handles configuration loading for hago.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from HAGO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hago/config.yaml
//  3. ~/.config/hago/config.yaml
//
// `hago init` writes StarterYAML to the resolved location.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	reply:
//	  api_key: "${GEMINI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	reply:
//	  fragment_delay: "60ms"
//	  timeout: "45s"
//
// # Configuration Sections
//
//	server:         http_addr, grpc_addr
//	database:       path of the audit ledger (empty disables it)
//	auth:           jwt_secret (empty disables API auth)
//	reply:          provider (echo|gemini), model, api_key, fragment_delay, timeout
//	user:           id, name, avatar_url of the local user (id defaults to user-1)
//	conversations:  id, participant {id, name, avatar_url}, messages [...]
//	logging:        level (debug|info|warn|error), format (text|json)
//
// A participant may not reuse the local user's id, and seeded messages must be
// sent by one of the two members of their conversation.
package config
