// Package mcpserver exposes the sandbox over the Model Context Protocol (MCP).
//
// The server registers two tools backed by a sandbox.Runner: run_script,
// which executes a Python script in the interpreter image, and run_image,
// which runs a registered image with CLI arguments. Both return the result
// formatted by sandbox.FormatResult. It uses the mark3labs/mcp-go library to
// handle the protocol details.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, manager)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
