// Package cmd provides the CLI commands for the Warden gateway.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-warden/warden/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - AI Agent Governance Gateway",
	Long: `Warden is a zero-trust governance gateway for AI agents.

Agents submit every sensitive action (payments, database writes, API calls)
to the gateway, which scrubs PII, evaluates policy rules, scores risk, and
either allows, denies, or suspends the action for human approval. Shadow
mode observes and logs without blocking; enforce mode acts on decisions.

Quick start:
  1. Create a config file: warden.yaml
  2. Run: warden start

Configuration:
  Config is loaded from warden.yaml in the current directory,
  $HOME/.warden/, or /etc/warden/.

  Environment variables can override config values with the WARDEN_ prefix.
  Example: WARDEN_SERVER_HTTP_ADDR=0.0.0.0:9090

Commands:
  start       Start the gateway server
  stop        Stop the running server
  config      Show the effective configuration
  keygen      Generate an agent API key and its hashes
  version     Print version information`,
}

// Execute dispatches to the selected subcommand. It is the only entry
// point main needs.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./warden.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
