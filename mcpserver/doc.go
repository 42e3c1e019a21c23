// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// execute_code tool. It uses the mark3labs/mcp-go library to handle the
// protocol details. Results are returned as JSON text; any outcome other
// than success is flagged as a tool error.
//
// The server runs over stdio, or over streamable HTTP mounted on the
// httpserver router.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, sandboxExecutor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio(ctx, os.Stdin, os.Stdout)
package mcpserver
