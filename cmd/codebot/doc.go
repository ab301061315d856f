// Package main is the entry point for codebot.
//
// codebot runs untrusted scripts and prebuilt images in throwaway Docker
// containers. The serve command builds the configured images and then
// answers requests from a traQ chat bot, or over MCP on stdio or HTTP. The
// exec and image commands perform a single run and print the result.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
