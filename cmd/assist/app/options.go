// Package app wires the CLI surface and assembles every component via
// explicit dependency injection at one initialization point.
package app

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/kart-io/assist-x/pkg/config"
)

// Options holds the flags accepted by every subcommand. This project
// has no Kubernetes deployment surface, so it uses a plain
// cobra/pflag/viper options struct rather than a k8s.io/apimachinery
// one.
type Options struct {
	ConfigFile string
}

// AddFlags registers the shared flag set.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.ConfigFile, "config", "", "path to a YAML config file")
}

// LoadConfig resolves configuration from file, environment and flags.
func (o *Options) LoadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(o.ConfigFile, fs)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return cfg, nil
}
