// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and environment variables. It covers the
// chat and MCP transports, sandbox execution limits, the images built at
// startup, and logging.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Server transport: %s\n", cfg.Server.Transport)
package config
