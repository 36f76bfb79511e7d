package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quarrysearch/quarry/configs"
	"github.com/quarrysearch/quarry/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage quarry configuration files.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/quarry/config.yaml)
  3. Project config (.quarry.yaml)
  4. Environment variables (QUARRY_*)`,
		Example: `  # Write a commented .quarry.yaml to the project root
  quarry config init

  # Create the user config instead
  quarry config init --user

  # Show the effective merged configuration
  quarry config show

  # Print the user config file path
  quarry config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		user  bool
		force bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file from the template",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if user {
				return runConfigInitUser(cmd, force)
			}
			return runConfigInitProject(cmd, force)
		},
	}

	cmd.Flags().BoolVar(&user, "user", false, "Create the user config instead of the project config")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		Long: `Show the configuration after merging defaults, user config,
project config and environment variables.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return nil
		},
	}
}

func runConfigInitProject(cmd *cobra.Command, force bool) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	path := filepath.Join(root, ".quarry.yaml")
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(configs.ProjectConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write project config: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	return nil
}

func runConfigInitUser(cmd *cobra.Command, force bool) error {
	out := cmd.OutOrStdout()
	path := config.GetUserConfigPath()

	if config.UserConfigExists() && !force {
		fmt.Fprintf(out, "User configuration already exists at %s\n", path)
		fmt.Fprintln(out, "Use --force to back it up and rewrite with fresh defaults")
		return nil
	}

	if config.UserConfigExists() {
		backup, err := config.BackupUserConfig()
		if err != nil {
			return fmt.Errorf("backup user config: %w", err)
		}
		fmt.Fprintf(out, "Backed up existing config to %s\n", backup)
	}

	if err := os.MkdirAll(config.GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configs.UserConfigTemplate), 0o644); err != nil {
		return fmt.Errorf("write user config: %w", err)
	}
	fmt.Fprintf(out, "Created %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
