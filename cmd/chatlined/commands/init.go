package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chatline/chatline/pkg/config"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with defaults.

The file is written to the --config path, or to the default location
($XDG_CONFIG_HOME/chatline/config.yaml) when no path is given. An existing
file is preserved unless --force is set.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil && !forceInit {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := config.SaveConfig(config.GetDefaultConfig(), path); err != nil {
		return err
	}

	cmd.Printf("Configuration written to %s\n", path)
	return nil
}
