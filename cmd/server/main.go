// Package main is the entry point for the Codeact MCP server.
//
// The Codeact server implements a Model Context Protocol (MCP) server that
// executes untrusted, dynamically supplied scripts inside a constrained
// sandbox with a persistent session context. Module access is gated by a
// capability whitelist, and executions can capture a rendering artifact
// through an injected trailer. Two interchangeable execution strategies are
// available: a tree-walking interpreter and a restricted native runtime.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/codeact/capability"
	"github.com/isdmx/codeact/config"
	"github.com/isdmx/codeact/engine"
	"github.com/isdmx/codeact/logger"
	"github.com/isdmx/codeact/mcpserver"
	"github.com/isdmx/codeact/provision"
)

// newSandbox maps the application configuration onto an engine sandbox.
func newSandbox(cfg *config.Config, log *zap.Logger, caps *capability.Set) (engine.Sandbox, error) {
	return engine.NewSandbox(log, engine.Config{
		Strategy:               cfg.Engine.Strategy,
		PermissiveDeclarations: cfg.Engine.PermissiveDeclarations,
		RenderWait:             cfg.GetRenderWait(),
		Display:                cfg.Engine.Capture.Display,
		CaptureTool:            cfg.Engine.Capture.Tool,
		CaptureTimeout:         cfg.GetCaptureTimeout(),
		PresentCmd:             cfg.Engine.Surface.PresentCmd,
	}, caps)
}

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Session capability set from config
			provision.NewCapabilitySet,

			// Execution sandbox based on config
			newSandbox,

			// MCP Server
			mcpserver.New,
		),

		// Start the appropriate transport based on config
		fx.Invoke(
			func(cfg *config.Config, server *mcpserver.MCPServer) {
				switch cfg.Server.Transport {
				case "stdio":
					// Use fx to run this as a background task
					go func() {
						if err := server.ServeStdio(); err != nil {
							panic(err)
						}
					}()
				case "http":
					go func() {
						if err := server.ServeHTTP(); err != nil {
							panic(err)
						}
					}()
				default:
					panic("unsupported transport: " + cfg.Server.Transport)
				}
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
