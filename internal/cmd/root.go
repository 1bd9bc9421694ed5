// Package cmd provides the CLI command structure for gansauditor.
package cmd

import (
	appconfig "github.com/Iron-Ham/gansauditor/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "gansauditor",
	Short: "Iterative code-audit server driven by thought submissions",
	Long: `gansauditor is a long-lived JSON-RPC-over-stdio server. Each inbound
thought is classified, optionally routed through an external reviewer
process, and tracked against a per-session completion and stagnation
model until the audit loop concludes.`,
	RunE: runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/gansauditor/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(validateCmd)
}

func initConfig() {
	// Defaults, including the spec's explicit env-var bindings, are set
	// first so the server runs sanely with no config file at all.
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/gansauditor")
		viper.AddConfigPath(".")
	}

	// No AutomaticEnv/SetEnvPrefix here: the recognized environment
	// variables are each bound to an unprefixed name in SetDefaults, and a
	// blanket GANSAUDITOR_ prefix would shadow rather than complement that.
	_ = viper.ReadInConfig()
}
