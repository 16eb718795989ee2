package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/varbus/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Write a fully defaulted configuration file to the default location
(or the path given with --config) as a starting point for edits.

Examples:
  # Create config at $XDG_CONFIG_HOME/varbus/config.yaml
  varbusd init

  # Create config at a custom path
  varbusd init --config /etc/varbus/config.yaml

  # Overwrite an existing file
  varbusd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := GetConfigFile()
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	cfg := config.GetDefaultConfig()
	if err := config.SaveConfig(cfg, path); err != nil {
		return err
	}

	cmd.Printf("Configuration written to %s\n", path)
	return nil
}
