package main

import (
	"fmt"
	"os"

	"github.com/esimov/visage/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const helpBanner = `
┬  ┬┬┌─┐┌─┐┌─┐┌─┐
└┐┌┘│└─┐├─┤│ ┬├┤
 └┘ ┴└─┘┴ ┴└─┘└─┘

Face detection, attribute estimation and background removal.
`

// app is the state shared by the subcommands.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	log        *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	root := &cobra.Command{
		Use:           "visage",
		Short:         "Face detection, attribute estimation and background removal",
		Long:          helpBanner,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Configuration file (yaml, json or toml)")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.String("log-format", "text", "Log format (text or json)")
	a.bind(root, "log.level", "log-level")
	a.bind(root, "log.format", "log-format")

	root.AddCommand(
		newAnalyzeCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// bind makes the flag override the configuration key when it is set.
func (a *app) bind(cmd *cobra.Command, key, flag string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(flag)
	}
	if err := a.v.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding %s: %v", flag, err))
	}
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v, a.configFile)
	if err != nil {
		return err
	}
	log, err := cfg.Logger(os.Stderr)
	if err != nil {
		return err
	}
	a.cfg, a.log = cfg, log
	log.WithField("command", cmd.Name()).Debug("configuration loaded")
	return nil
}
