package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FromCobraCmd creates a PTConfig instance from a cobra command object. Flags explicitly set on the
// command line take precedence over the config file and environment. It will exit the process if
// the config cannot be loaded.
func FromCobraCmd(cmd *cobra.Command) *PTConfig {
	var flags *pflag.FlagSet
	if cmd.Name() == "paratest" {
		flags = cmd.PersistentFlags()
	} else {
		flags = cmd.InheritedFlags()
	}

	var conf *PTConfig
	var err error
	if f := flags.Lookup("config"); f != nil && f.Changed {
		conf, err = LoadConfig(f.Value.String())
	} else {
		conf, err = LoadConfig()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config file")
	}

	ApplyFlags(conf, cmd.Flags())
	ApplyFlags(conf, flags)
	return conf
}

// ApplyFlags copies every changed flag that maps onto a config field into conf. Unknown or
// unchanged flags are ignored, so the same function serves every sub command.
func ApplyFlags(conf *PTConfig, flags *pflag.FlagSet) {
	str := func(name string, dst *string) {
		if f := flags.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}

	str("path", &conf.Source.Path)
	str("pattern", &conf.Source.Pattern)
	str("workspace", &conf.WorkspacePath)
	str("output", &conf.OutputPath)
	str("plugin", &conf.Plugin)
	str("schedule", &conf.Schedule)

	if f := flags.Lookup("workers"); f != nil && f.Changed {
		if n, err := flags.GetInt("workers"); err == nil {
			conf.Workers = n
		}
	}
}
