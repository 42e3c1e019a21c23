// Package main is the entry point for the runbox server.
//
// The root command loads configuration with viper (file, RUNBOX_* environment
// variables and defaults). The serve command wires the sandbox orchestrator,
// the optional manifest generator and the HTTP and MCP transports with fx and
// runs until interrupted. The config command prints the effective
// configuration as YAML.
package main
