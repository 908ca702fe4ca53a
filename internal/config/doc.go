// Package config loads the parley YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, duration
// fields are written as Go duration strings, and every unset field falls back to
// the value in Default.
package config
