package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/config"
	"github.com/studysync/studysync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the current settings",
	Long: `Write a config file holding the effective settings (defaults, environment
and flags combined). The format follows the file extension: .toml writes TOML,
anything else YAML.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		path, _ := cmd.Flags().GetString("path")
		format, _ := cmd.Flags().GetString("format")
		force, _ := cmd.Flags().GetBool("force")

		if path == "" {
			path = cfgFile
		}
		if path == "" {
			path = config.DefaultPath()
		}
		switch strings.ToLower(format) {
		case "":
		case "toml":
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".toml"
		case "yaml", "yml":
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
		default:
			return fmt.Errorf("unknown format %q (want yaml or toml)", format)
		}

		if err := cfg.Write(path, force); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		if cfg.File != "" {
			fmt.Fprintf(out, "# %s\n", cfg.File)
		}
		_, err = out.Write(data)
		return err
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "file to write (default --config or ~/.studysync/config.yaml)")
	configInitCmd.Flags().String("format", "", "yaml or toml (default from the extension)")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
