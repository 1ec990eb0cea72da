// Package cmd provides the CLI commands for Promptgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Prompt-Gate/Promptgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "prompt-gate",
	Short: "Promptgate - AI coding assistant gateway",
	Long: `Promptgate is a local gateway between AI coding assistants and model
providers. Assistants point their OpenAI, Anthropic, Ollama, or Gemini
endpoint at the gateway; Promptgate redacts secrets before they leave the
machine, flags risky package suggestions in responses, and routes model
names to configured backends per workspace.

Quick start:
  1. Create a config file: prompt-gate.yaml
  2. Run: prompt-gate start

Configuration:
  Config is loaded from prompt-gate.yaml in the current directory,
  $HOME/.prompt-gate/, or /etc/prompt-gate/.

  Environment variables can override config values with the PROMPT_GATE_ prefix.
  Example: PROMPT_GATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway server
  hash-key    Generate an Argon2id hash for the admin API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./prompt-gate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
