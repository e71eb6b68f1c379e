package config

import (
	"strings"

	"github.com/paularlott/cli"
)

// Config holds the application configuration
type Config struct {
	DataDir    string
	ListenAddr string

	// API auth. AdminToken grants full visibility; UserTokens maps an owner
	// subject to its bearer token. Empty both means open access.
	AdminToken string
	UserTokens map[string]string

	// Shared secret for HMAC-signed HTTP ingestion. Empty disables the
	// ingest endpoint.
	IngestSecret string

	// MQTT bridge. Empty broker disables it.
	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTClientID string

	MCPAuthToken string
}

// GetFlags returns the CLI flags for the server command
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Directory for the SQLite database",
			DefaultValue: "./data",
			EnvVars:      []string{"SENSORD_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:         "listen-addr",
			Usage:        "HTTP listen address",
			DefaultValue: ":8080",
			EnvVars:      []string{"SENSORD_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:         "admin-token",
			Usage:        "Bearer token granting admin access to the API",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:         "user-tokens",
			Usage:        "Owner-scoped bearer tokens as subject:token pairs, comma separated",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_USER_TOKENS"},
		},
		&cli.StringFlag{
			Name:         "ingest-secret",
			Usage:        "Shared secret for HMAC-signed telemetry ingestion (empty disables HTTP ingest)",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_INGEST_SECRET"},
		},
		&cli.StringFlag{
			Name:         "mqtt-broker",
			Usage:        "MQTT broker URL, e.g. tcp://localhost:1883 (empty disables the bridge)",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_MQTT_BROKER"},
		},
		&cli.StringFlag{
			Name:         "mqtt-username",
			Usage:        "MQTT username",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_MQTT_USERNAME"},
		},
		&cli.StringFlag{
			Name:         "mqtt-password",
			Usage:        "MQTT password",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_MQTT_PASSWORD"},
		},
		&cli.StringFlag{
			Name:         "mqtt-client-id",
			Usage:        "MQTT client ID",
			DefaultValue: "sensord",
			EnvVars:      []string{"SENSORD_MQTT_CLIENT_ID"},
		},
		&cli.StringFlag{
			Name:         "mcp-auth-token",
			Usage:        "Bearer token for the MCP endpoint (empty disables MCP auth)",
			DefaultValue: "",
			EnvVars:      []string{"SENSORD_MCP_AUTH_TOKEN"},
		},
	}
}

// Load builds the configuration from the resolved command flags. Flag values
// already carry .env file and environment variable fallbacks.
func Load(cmd *cli.Command) *Config {
	return &Config{
		DataDir:      cmd.GetString("data-dir"),
		ListenAddr:   cmd.GetString("listen-addr"),
		AdminToken:   cmd.GetString("admin-token"),
		UserTokens:   parseUserTokens(cmd.GetString("user-tokens")),
		IngestSecret: cmd.GetString("ingest-secret"),
		MQTTBroker:   cmd.GetString("mqtt-broker"),
		MQTTUsername: cmd.GetString("mqtt-username"),
		MQTTPassword: cmd.GetString("mqtt-password"),
		MQTTClientID: cmd.GetString("mqtt-client-id"),
		MCPAuthToken: cmd.GetString("mcp-auth-token"),
	}
}

// parseUserTokens parses "alice:tok1,bob:tok2" into a subject to token map.
// Malformed pairs are skipped.
func parseUserTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		subject, token, ok := strings.Cut(pair, ":")
		if !ok || subject == "" || token == "" {
			continue
		}
		tokens[subject] = token
	}
	return tokens
}

// IsAPIAuthEnabled checks if any API tokens are configured
func (c *Config) IsAPIAuthEnabled() bool {
	return c.AdminToken != "" || len(c.UserTokens) > 0
}

// IsMCPEnabled checks if MCP authentication is configured
func (c *Config) IsMCPEnabled() bool {
	return c.MCPAuthToken != ""
}

// IsIngestEnabled checks if the HTTP ingest endpoint is configured
func (c *Config) IsIngestEnabled() bool {
	return c.IngestSecret != ""
}

// IsMQTTEnabled checks if the MQTT bridge is configured
func (c *Config) IsMQTTEnabled() bool {
	return c.MQTTBroker != ""
}
