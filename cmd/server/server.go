package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/paularlott/cli"

	"github.com/iotview/sensord/internal/alert"
	"github.com/iotview/sensord/internal/api"
	"github.com/iotview/sensord/internal/authz"
	"github.com/iotview/sensord/internal/config"
	"github.com/iotview/sensord/internal/ingest"
	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/mcp"
	"github.com/iotview/sensord/internal/mqttx"
	"github.com/iotview/sensord/internal/storage"
	"github.com/iotview/sensord/internal/worker"
)

// ServerConfig holds the wired components for running the server
type ServerConfig struct {
	Config     *config.Config
	Store      *storage.SQLiteStorage
	Bridge     *mqttx.Bridge
	Scheduler  *worker.Scheduler
	MCPServer  *mcp.Server
	APIHandler *api.Handler
}

// RunServer starts the sensord server with the given configuration
func RunServer(cfg *ServerConfig) error {
	mux := http.NewServeMux()

	// API routes
	cfg.APIHandler.RegisterRoutes(mux)

	// MCP endpoint
	mux.HandleFunc("/mcp", cfg.MCPServer.GetHTTPHandler())

	// Apply middleware
	var authenticator authz.Authenticator
	if cfg.Config.IsAPIAuthEnabled() {
		authenticator = &authz.StaticTokens{
			AdminToken: cfg.Config.AdminToken,
			UserTokens: cfg.Config.UserTokens,
		}
	} else {
		authenticator = authz.Open{}
	}
	var handler http.Handler = api.AuthMiddleware(authenticator, mux)
	handler = api.SecurityHeadersMiddleware(handler)

	server := &http.Server{
		Addr:    cfg.Config.ListenAddr,
		Handler: handler,
	}

	// Handle shutdown gracefully
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Info("Shutting down server...")
		server.Close()
	}()

	log.Info("Starting sensord server", "addr", cfg.Config.ListenAddr)
	log.Info("API available", "url", "http://localhost"+cfg.Config.ListenAddr+"/api/")
	log.Info("MCP available", "url", "http://localhost"+cfg.Config.ListenAddr+"/mcp")
	if cfg.Config.IsAPIAuthEnabled() {
		log.Info("API authentication enabled")
	} else {
		log.Warn("API authentication disabled, all requests run as admin")
	}
	if cfg.Config.IsIngestEnabled() {
		log.Info("HTTP ingestion enabled")
	}
	cfg.MCPServer.LogStartup()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("Server error", "error", err)
		return err
	}

	log.Info("Server stopped")
	return nil
}

func Command() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "Start the sensord server",
		Description: "Start the HTTP server with telemetry ingestion, device API, and MCP endpoints",
		Flags:       config.GetFlags(),
		Run: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.Load(cmd)

			log.Info("Configuration loaded", "data_dir", cfg.DataDir, "listen_addr", cfg.ListenAddr)

			store, err := storage.NewSQLiteStorage(cfg.DataDir)
			if err != nil {
				log.Error("Failed to initialize storage", "error", err)
				return err
			}
			defer store.Close()
			log.Info("Storage initialized", "backend", "SQLite", "path", cfg.DataDir)

			ingestor := ingest.NewIngestor(store, store, nil)
			recorder := alert.NewRecorder(store, store)

			// MQTT bridge feeds the ingestor and echoes accepted readings
			var bridge *mqttx.Bridge
			if cfg.IsMQTTEnabled() {
				bridge, err = mqttx.NewBridge(mqttx.Options{
					Broker:   cfg.MQTTBroker,
					Username: cfg.MQTTUsername,
					Password: cfg.MQTTPassword,
					ClientID: cfg.MQTTClientID,
				}, ingestor)
				if err != nil {
					log.Error("Failed to start MQTT bridge", "error", err)
					return err
				}
				defer bridge.Close()
				ingestor.SetPublisher(bridge)
				log.Info("MQTT bridge started", "broker", cfg.MQTTBroker)
			} else {
				log.Info("MQTT bridge disabled")
			}

			scheduler, err := worker.NewScheduler(store, recorder)
			if err != nil {
				log.Error("Failed to initialize scheduler", "error", err)
				return err
			}
			scheduler.Start()
			defer scheduler.Stop()

			apiHandler := api.NewHandler(store, ingestor, recorder, cfg.IngestSecret)
			mcpServer := mcp.NewServer(store, cfg.MCPAuthToken)

			return RunServer(&ServerConfig{
				Config:     cfg,
				Store:      store,
				Bridge:     bridge,
				Scheduler:  scheduler,
				MCPServer:  mcpServer,
				APIHandler: apiHandler,
			})
		},
	}
}
