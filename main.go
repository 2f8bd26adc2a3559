package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/pyrowatch/pyrowatch/cmd"
	"github.com/pyrowatch/pyrowatch/internal/api"
	"github.com/pyrowatch/pyrowatch/internal/config"
	"github.com/pyrowatch/pyrowatch/internal/detect"
	"github.com/pyrowatch/pyrowatch/internal/device"
	"github.com/pyrowatch/pyrowatch/internal/events"
	"github.com/pyrowatch/pyrowatch/internal/logging"
	"github.com/pyrowatch/pyrowatch/internal/metrics"
	"github.com/pyrowatch/pyrowatch/internal/streams"
	"github.com/pyrowatch/pyrowatch/internal/webui"
)

// Options for the CLI. Flags override the YAML configuration.
type Options struct {
	ConfigDir string `help:"Directory with default.yaml and <APP_ENV>.yaml" short:"c" default:"config" env:"PYROWATCH_CONFIG_DIR"`

	Host string `help:"API bind host, overrides server.host" default:"" env:"PYROWATCH_HOST"`
	Port int    `help:"API port, overrides server.port" short:"p" default:"0" env:"PYROWATCH_PORT"`

	StreamsFile string `help:"Persisted stream definitions file" default:"streams.toml" env:"PYROWATCH_STREAMS_FILE"`

	AuthUsername string `help:"Basic auth username, empty disables auth" default:"" env:"PYROWATCH_AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" env:"PYROWATCH_AUTH_PASSWORD"`

	LoggingLevel  string `help:"Global logging level, overrides logging.level" default:"" env:"PYROWATCH_LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"" env:"PYROWATCH_LOGGING_FORMAT"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		settings, err := config.Load(opts.ConfigDir)
		if err != nil {
			// Logging is not initialized yet
			os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
			os.Exit(1)
		}
		if opts.Host != "" {
			settings.Server.Host = opts.Host
		}
		if opts.Port != 0 {
			settings.Server.Port = opts.Port
		}
		if opts.LoggingLevel != "" {
			settings.Logging.Level = opts.LoggingLevel
		}
		if opts.LoggingFormat != "" {
			settings.Logging.Format = opts.LoggingFormat
		}

		logging.Initialize(logging.Config{
			Level:   settings.Logging.Level,
			Format:  settings.Logging.Format,
			Modules: settings.Logging.Modules,
		})
		logger := logging.GetLogger("main")

		eventBus := events.New()
		m := metrics.New()

		// Forward buffered log entries onto the bus for the SSE endpoint
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Runtime log-level changes without a restart
		configWatcher := config.NewWatcher(opts.ConfigDir, logging.GetLogger("config"))
		configWatcher.OnReload(func(updated *config.Settings) {
			logger.Info("Configuration reloaded, applying log levels")
			logging.ApplyLevels(logging.Config{
				Level:   updated.Logging.Level,
				Modules: updated.Logging.Modules,
			})
		})

		// A missing model is not fatal: the API still serves health, devices,
		// and logs, and stream starts report the model as unavailable
		pool, err := detect.LoadPool(settings.Yolo, settings.App.ModelPoolSize)
		if err != nil {
			logger.Error("Detection model unavailable",
				"model_path", settings.Yolo.ModelPath, "error", err)
			pool = nil
		}

		repo := streams.NewTOMLRepository(opts.StreamsFile)
		if err := repo.Load(); err != nil {
			logger.Warn("Failed to load persisted streams", "error", err)
		}

		streamService := streams.NewService(settings, pool, eventBus, m, repo)

		var monitor *device.Monitor
		if settings.Device.Enabled {
			monitor = device.NewMonitor(settings.Device, settings.DevicePollInterval(), eventBus, m)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			StreamService:     streamService,
			DeviceMonitor:     monitor,
			EventBus:          eventBus,
			PrometheusHandler: m.Handler(),
		})

		var uiServer *webui.Server
		if settings.WebUI.Enabled {
			uiServer, err = webui.NewServer()
			if err != nil {
				logger.Error("Failed to create web UI server", "error", err)
				os.Exit(1)
			}
		}

		hooks.OnStart(func() {
			if monitor != nil {
				monitor.Start()
			}
			if err := configWatcher.Start(); err != nil {
				logger.Warn("Config watcher unavailable", "error", err)
			}

			streamService.RestorePersisted()

			if uiServer != nil {
				go func() {
					addr := settings.WebUI.Addr()
					if startErr := uiServer.Start(addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
						logger.Error("Web UI server failed", "addr", addr, "error", startErr)
					}
				}()
			}

			addr := settings.Server.Addr()
			logger.Info("Starting HTTP server", "addr", addr)
			if startErr := server.Start(addr); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}
			if uiServer != nil {
				if stopErr := uiServer.Stop(); stopErr != nil {
					logger.Error("Error stopping web UI server", "error", stopErr)
				}
			}

			streamService.Shutdown()

			if monitor != nil {
				monitor.Stop()
			}
			if stopErr := configWatcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if pool != nil {
				// All pipelines are stopped, no inference is in flight
				pool.Close()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateValidateCmd())
	cli.Run()
}
