// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// sandboxed execution engine as a set of tools. It uses the mark3labs/mcp-go
// library to handle the protocol details. The execute_code tool runs a
// program in the persistent session sandbox; companion tools retrieve and
// clear the captured artifact and reset the session context.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, sandbox)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
