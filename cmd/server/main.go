package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFlag string

var rootCmd = &cobra.Command{
	Use:   "runbox",
	Short: "Runbox - sandboxed code execution service",
	Long: `Runbox builds and runs untrusted programs (Node.js, Python, Go, C++) in
ephemeral, resource-limited containers and returns their output.

It serves a REST API and a Model Context Protocol tool over HTTP, or MCP
over stdio.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Path to a config file (default: ./config.yaml or ./config/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
