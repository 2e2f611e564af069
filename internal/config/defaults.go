package config

import (
	"github.com/rbright/samplepipe/internal/message"
	"github.com/rbright/samplepipe/internal/security"
)

const (
	DefaultPipeName = "SamplePipe"
	DefaultRequest  = "Default request from client"
	DefaultResponse = "Default response from server"
)

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		Pipe: PipeConfig{
			Name:            DefaultPipeName,
			MaxMessageUnits: message.DefaultMaxUnits,
		},
		Security: SecurityConfig{SDDL: security.DefaultSDDL},
		Client: ClientConfig{
			Request:     DefaultRequest,
			RetryWaitMS: 5000,
		},
		Server: ServerConfig{Response: DefaultResponse},
		Log:    LogConfig{Level: "info"},
	}
}
