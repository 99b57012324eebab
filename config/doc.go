// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It supports configuration for server
// settings, execution engine parameters (strategy selection, render wait,
// capture tool), provisioned capabilities, and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Engine strategy: %s\n", cfg.Engine.Strategy)
package config
