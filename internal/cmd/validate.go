package cmd

import (
	"fmt"

	"github.com/Iron-Ham/gansauditor/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the effective configuration and exit",
	Long: `Loads configuration from env vars, config file, and defaults the same way
the server does, reports any validation warnings, and exits without
starting the JSON-RPC loop.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	errs := cfg.Validate()
	if len(errs) == 0 {
		fmt.Println("configuration OK")
		return nil
	}
	for _, e := range errs {
		fmt.Println("warning:", e.Error())
	}
	return nil
}
