// Package config resolves, parses, validates, and defaults samplepipe configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by samplepipe.
type Config struct {
	Pipe     PipeConfig
	Security SecurityConfig
	Client   ClientConfig
	Server   ServerConfig
	Log      LogConfig
}

// PipeConfig names the endpoint and bounds each message.
type PipeConfig struct {
	Name            string
	MaxMessageUnits int
}

// SecurityConfig holds the endpoint access descriptor.
type SecurityConfig struct {
	SDDL string
}

// ClientConfig controls the request and busy-wait behavior.
type ClientConfig struct {
	Request     string
	RetryWaitMS int
}

// RetryWait returns the per-attempt busy wait bound.
func (c ClientConfig) RetryWait() time.Duration {
	return time.Duration(c.RetryWaitMS) * time.Millisecond
}

// ServerConfig controls the response text.
type ServerConfig struct {
	Response string
}

// LogConfig controls the JSONL log level.
type LogConfig struct {
	Level string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
