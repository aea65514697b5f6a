package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/labelscan/internal/config"
)

// configCmd groups configuration helpers. It loads without validation so
// a broken file can still be inspected.
var configCmd = &cobra.Command{
	Use:               "config",
	Short:             "Inspect or create configuration files",
	PersistentPreRunE: setup(false),
}

var configInitCmd = &cobra.Command{
	Use:   "init [FILE]",
	Short: "Write a default configuration file",
	Long: `Write every setting with its default value as YAML. The file defaults
to ./labelscan.yaml and is never overwritten.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.GenerateDefaultConfigFile(path); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		return err
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	Long: `Print the configuration after merging defaults, the config file and
LABELSCAN_* environment variables, followed by where it was loaded from.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := GetConfigLoader()
		out, err := loader.ResolvedYAML()
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		file := loader.GetConfigFileUsed()
		if file == "" {
			file = "(none, defaults and environment only)"
		}
		w := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(w, "# config file: %s\n", file)
		_, _ = fmt.Fprintf(w, "# search paths: %s\n", strings.Join(config.GetConfigSearchPaths(), ", "))
		_, _ = fmt.Fprintf(w, "# environment prefix: %s_\n", config.EnvPrefix)
		_, err = w.Write(out)
		if err == nil && globalConfig != nil {
			if verr := globalConfig.Validate(); verr != nil {
				_, err = fmt.Fprintf(w, "# warning: %v\n", verr)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd)
}
