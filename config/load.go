package config

import (
	"os"

	flags "github.com/jessevdk/go-flags"
)

// LoadConfig parses command-line flags over DefaultConfig, then, if a
// config file is named with --config, layers the file's contents
// underneath those flags; a named file that does not exist is skipped,
// and no file is read when none is named. The two-pass
// "parse flags, then ini file, then flags again" load order means
// command-line flags always win.
func LoadConfig() (*Config, error) {
	preCfg := DefaultConfig()
	if _, err := flags.NewParser(preCfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if preCfg.ConfigFile != "" {
		if err := flags.IniParse(preCfg.ConfigFile, cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if _, err := flags.NewParser(cfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	if err := cfg.ConsensusConstants.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
