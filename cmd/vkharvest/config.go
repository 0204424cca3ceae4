package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vkharvest/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage the vkharvest configuration file.

Configuration is resolved in this order (highest wins):
  - command line flags
  - environment variables (VKHARVEST_*)
  - .env file in the working directory
  - YAML config file
  - built-in defaults`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Example: `  # Create $HOME/.vkharvest.yaml
  vkharvest config init

  # Create a config file at a specific path
  vkharvest config init --config ./vkharvest.yaml`,
	Run: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run:   runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	path := configFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Failed to locate home directory:", err)
			os.Exit(1)
		}
		path = filepath.Join(home, ".vkharvest.yaml")
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Config file already exists: %s\n", path)
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to write config file:", err)
		os.Exit(1)
	}
	fmt.Println("Config file written:", path)
}

func runConfigShow(cmd *cobra.Command, args []string) {
	// Resolve the layered config without validating, so show works
	// before a language has been picked.
	cfg := config.DefaultConfig()
	if err := cfg.LoadFromFile(configFile); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to load configuration:", err)
		os.Exit(1)
	}

	// Never echo the token
	if cfg.VK.AccessToken != "" {
		cfg.VK.AccessToken = "****"
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to render configuration:", err)
		os.Exit(1)
	}
	fmt.Print(string(out))
}
