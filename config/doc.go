// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and RUNBOX_* environment variables. It
// covers the HTTP server, the container sandbox limits, the optional
// dependency manifest generator, logging, and per-language overrides.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Container runtime: %s\n", cfg.Sandbox.Runtime)
package config
