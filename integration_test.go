package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/codeact/config"
	"github.com/isdmx/codeact/engine"
	"github.com/isdmx/codeact/logger"
	"github.com/isdmx/codeact/mcpserver"
	"github.com/isdmx/codeact/provision"
)

func integrationConfig(strategy string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Engine: config.EngineConfig{
			Strategy:               strategy,
			PermissiveDeclarations: true,
			RenderWaitMS:           1,
			Capture: config.CaptureConfig{
				Display:    ":99",
				Tool:       "import",
				TimeoutSec: 5,
			},
			Surface: config.SurfaceConfig{PresentCmd: "display"},
		},
		Capabilities: config.CapabilityConfig{Extended: []string{"canvas"}},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "debug",
		},
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Strategy:               cfg.Engine.Strategy,
		PermissiveDeclarations: cfg.Engine.PermissiveDeclarations,
		RenderWait:             cfg.GetRenderWait(),
		Display:                cfg.Engine.Capture.Display,
		CaptureTool:            cfg.Engine.Capture.Tool,
		CaptureTimeout:         cfg.GetCaptureTimeout(),
		PresentCmd:             cfg.Engine.Surface.PresentCmd,
	}
}

// TestIntegrationConfigLoggerEngine tests the integration between config, logger, and engine packages
func TestIntegrationConfigLoggerEngine(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		cfg := integrationConfig("compiled")

		testLogger, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
		require.NoError(t, err)
		require.NotNil(t, testLogger)

		testLogger.Info("Integration test started")
		_ = testLogger.Sync()
	})

	t.Run("ProvisionAndEngineIntegration", func(t *testing.T) {
		for _, strategy := range []string{"interpreted", "compiled"} {
			t.Run(strategy, func(t *testing.T) {
				cfg := integrationConfig(strategy)
				log := zaptest.NewLogger(t)

				caps := provision.NewCapabilitySet(cfg, log)
				sandbox, err := engine.NewSandbox(log, engineConfig(cfg), caps,
					engine.WithSleep(func(time.Duration) {}))
				require.NoError(t, err)

				// provisioned extended module resolves, unknown names fault
				res, err := sandbox.Execute(context.Background(), engine.ExecuteRequest{
					Program: `c = use("canvas"); m = use("math"); print(m.abs(-1));`,
				})
				require.NoError(t, err)
				require.Zero(t, res.ExitCode, res.Stderr)
				assert.Equal(t, "1\n", res.Stdout)

				res, err = sandbox.Execute(context.Background(), engine.ExecuteRequest{
					Program: `use("filesystem")`,
				})
				require.NoError(t, err)
				assert.Equal(t, 1, res.ExitCode)
				assert.Contains(t, res.Stderr, `module "filesystem" is not authorized`)

				// session context survives across the two calls above
				res, err = sandbox.Execute(context.Background(), engine.ExecuteRequest{
					Program: `print(m.floor(2.5))`,
				})
				require.NoError(t, err)
				require.Zero(t, res.ExitCode, res.Stderr)
				assert.Equal(t, "2\n", res.Stdout)
			})
		}
	})

	t.Run("ServerWiring", func(t *testing.T) {
		cfg := integrationConfig("compiled")
		log := zaptest.NewLogger(t)

		caps := provision.NewCapabilitySet(cfg, log)
		sandbox, err := engine.NewSandbox(log, engineConfig(cfg), caps)
		require.NoError(t, err)

		srv, err := mcpserver.New(cfg, log, sandbox)
		require.NoError(t, err)
		require.NotNil(t, srv)
		assert.NotNil(t, srv.GetMCPServer())
	})
}
