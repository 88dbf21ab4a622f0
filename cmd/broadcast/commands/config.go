package commands

import (
	"github.com/carbonforge/broadcast/src/config"
)

//CLIConfig contains configuration for the server and client commands
type CLIConfig struct {
	Broadcast config.Config `mapstructure:",squash"`
	LogFiles  bool          `mapstructure:"log-files"`
	Discard   bool          `mapstructure:"discard"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Broadcast: *config.NewDefaultConfig(),
		LogFiles:  false,
		Discard:   false,
	}
}
