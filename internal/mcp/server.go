package mcp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/paularlott/mcp"

	"github.com/iotview/sensord/internal/log"
	"github.com/iotview/sensord/internal/model"
	"github.com/iotview/sensord/internal/storage"
	"github.com/iotview/sensord/internal/telemetry"
)

// Server wraps the MCP server with device storage. All tools are read-only:
// telemetry enters through ingestion, never through an assistant.
type Server struct {
	mcpServer   *mcp.Server
	storage     storage.Storage
	bearerToken string
}

// NewServer creates a new MCP server for fleet inspection
func NewServer(storage storage.Storage, bearerToken string) *Server {
	s := &Server{
		mcpServer:   mcp.NewServer("sensord", "1.0.0"),
		storage:     storage,
		bearerToken: bearerToken,
	}
	s.registerTools()
	return s
}

// registerTools registers all fleet inspection tools
func (s *Server) registerTools() {
	// device_list - List devices with optional filtering
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_list", "List all devices, optionally filtered by type or owner",
			mcp.String("type", "Filter by device type (e.g., temperature, humidity)"),
			mcp.String("owner_id", "Filter by owner ID"),
		),
		s.handleDeviceList,
	)

	// device_get - Get a device by ID
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_get", "Get a device by ID, including its online status",
			mcp.String("id", "Device ID", mcp.Required()),
		),
		s.handleDeviceGet,
	)

	// device_readings - Recent readings for a device
	s.mcpServer.RegisterTool(
		mcp.NewTool("device_readings", "Get the most recent sensor readings for a device",
			mcp.String("id", "Device ID", mcp.Required()),
			mcp.String("limit", "Maximum number of readings to return (default 10)"),
		),
		s.handleDeviceReadings,
	)

	// alert_list - List alerts
	s.mcpServer.RegisterTool(
		mcp.NewTool("alert_list", "List device alerts, optionally filtered by device or unread status",
			mcp.String("device_id", "Filter by device ID"),
			mcp.String("unread", "Set to 'true' to return only unread alerts"),
		),
		s.handleAlertList,
	)

	// fleet_status - Fleet-wide health summary
	s.mcpServer.RegisterTool(
		mcp.NewTool("fleet_status", "Get a fleet-wide summary: device counts, online/offline split, unread alerts"),
		s.handleFleetStatus,
	)
}

// HandleRequest handles MCP HTTP requests with optional bearer token authentication
func (s *Server) HandleRequest(w http.ResponseWriter, r *http.Request) {
	log.Debug("MCP request received", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)

	// Check bearer token if configured
	if s.bearerToken != "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			log.Warn("MCP request missing Authorization header", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Missing Authorization header", http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(auth, "Bearer ") {
			log.Warn("MCP request invalid Authorization format", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid Authorization format", http.StatusUnauthorized)
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")
		if token != s.bearerToken {
			log.Warn("MCP request invalid token", "remote_addr", r.RemoteAddr)
			http.Error(w, "Unauthorized: Invalid token", http.StatusUnauthorized)
			return
		}
	}

	s.mcpServer.HandleRequest(w, r)
}

// Tool handlers

func (s *Server) handleDeviceList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	deviceType := req.StringOr("type", "")
	ownerID := req.StringOr("owner_id", "")

	log.Debug("MCP device list request", "type", deviceType, "owner_id", ownerID)

	devices, err := s.storage.ListDevices(&model.DeviceFilter{Type: deviceType, OwnerID: ownerID})
	if err != nil {
		log.Error("MCP device list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}

	if len(devices) == 0 {
		return mcp.NewToolResponseText("No devices found"), nil
	}

	now := time.Now().UTC()
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d devices:\n\n", len(devices)))
	for i := range devices {
		result.WriteString(s.formatDeviceSummary(&devices[i], now))
		result.WriteString("\n")
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleDeviceGet(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	log.Debug("MCP device get request", "id", id)
	device, err := s.storage.GetDevice(id)
	if err != nil {
		log.Error("MCP device get failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	return mcp.NewToolResponseText(s.formatDeviceSummary(device, time.Now().UTC())), nil
}

func (s *Server) handleDeviceReadings(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	readingStore, ok := s.storage.(storage.ReadingStorage)
	if !ok {
		return mcp.NewToolResponseText("Readings are not supported by the current storage backend."), nil
	}

	id, err := req.String("id")
	if err != nil {
		return nil, mcp.NewToolErrorInvalidParams("id is required: " + err.Error())
	}

	limit := 10
	if raw := req.StringOr("limit", ""); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit < 1 {
			return nil, mcp.NewToolErrorInvalidParams("limit must be a positive integer")
		}
	}

	log.Debug("MCP device readings request", "id", id, "limit", limit)

	device, err := s.storage.GetDevice(id)
	if err != nil {
		log.Error("MCP device readings failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("device not found: " + err.Error())
	}

	readings, err := readingStore.LatestReadings(&model.ReadingQuery{
		DeviceIDs: []string{device.ID},
		Limit:     limit,
	})
	if err != nil {
		log.Error("MCP device readings failed", "error", err, "id", id)
		return nil, mcp.NewToolErrorInternal("failed to load readings: " + err.Error())
	}

	if len(readings) == 0 {
		return mcp.NewToolResponseText(fmt.Sprintf("No readings recorded for %s", device.Name)), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Last %d readings for %s:\n\n", len(readings), device.Name))
	for _, reading := range readings {
		result.WriteString(fmt.Sprintf("  %s  %.2f", reading.Timestamp.Format(time.RFC3339), reading.Value))
		if reading.Unit != "" {
			result.WriteString(" " + reading.Unit)
		}
		if reading.Temperature != nil {
			result.WriteString(fmt.Sprintf("  temp=%.1f", *reading.Temperature))
		}
		if reading.Humidity != nil {
			result.WriteString(fmt.Sprintf("  humidity=%.1f", *reading.Humidity))
		}
		result.WriteString("\n")
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleAlertList(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	alertStore, ok := s.storage.(storage.AlertStorage)
	if !ok {
		return mcp.NewToolResponseText("Alerts are not supported by the current storage backend."), nil
	}

	deviceID := req.StringOr("device_id", "")
	unread := req.StringOr("unread", "") == "true"

	log.Debug("MCP alert list request", "device_id", deviceID, "unread", unread)

	alerts, err := alertStore.ListAlerts(&model.AlertFilter{DeviceID: deviceID, UnreadOnly: unread})
	if err != nil {
		log.Error("MCP alert list failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list alerts: " + err.Error())
	}

	if len(alerts) == 0 {
		return mcp.NewToolResponseText("No alerts found"), nil
	}

	var result strings.Builder
	result.WriteString(fmt.Sprintf("Found %d alerts:\n\n", len(alerts)))
	for _, a := range alerts {
		status := "unread"
		if a.IsRead {
			status = "read"
		}
		result.WriteString(fmt.Sprintf("  [%s] %s  device=%s  type=%s  (%s)\n    %s\n",
			a.Severity, a.CreatedAt.Format(time.RFC3339), a.DeviceID, a.Type, status, a.Message))
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) handleFleetStatus(ctx context.Context, req *mcp.ToolRequest) (*mcp.ToolResponse, error) {
	devices, err := s.storage.ListDevices(&model.DeviceFilter{})
	if err != nil {
		log.Error("MCP fleet status failed", "error", err)
		return nil, mcp.NewToolErrorInternal("failed to list devices: " + err.Error())
	}

	now := time.Now().UTC()
	online := 0
	for i := range devices {
		if telemetry.IsOnline(&devices[i], now) {
			online++
		}
	}

	var result strings.Builder
	result.WriteString("Fleet status:\n")
	result.WriteString(fmt.Sprintf("  Devices: %d\n", len(devices)))
	result.WriteString(fmt.Sprintf("  Online: %d\n", online))
	result.WriteString(fmt.Sprintf("  Offline: %d\n", len(devices)-online))

	if alertStore, ok := s.storage.(storage.AlertStorage); ok {
		alerts, err := alertStore.ListAlerts(&model.AlertFilter{UnreadOnly: true})
		if err != nil {
			log.Error("MCP fleet status failed", "error", err)
			return nil, mcp.NewToolErrorInternal("failed to list alerts: " + err.Error())
		}
		result.WriteString(fmt.Sprintf("  Unread alerts: %d\n", len(alerts)))
	}

	return mcp.NewToolResponseText(result.String()), nil
}

func (s *Server) formatDeviceSummary(device *model.Device, now time.Time) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("Name: %s\n", device.Name))
	result.WriteString(fmt.Sprintf("ID: %s\n", device.ID))
	result.WriteString(fmt.Sprintf("Type: %s\n", device.Type))
	if device.Location != "" {
		result.WriteString(fmt.Sprintf("Location: %s\n", device.Location))
	}
	status := "offline"
	if telemetry.IsOnline(device, now) {
		status = "online"
	}
	result.WriteString(fmt.Sprintf("Status: %s\n", status))
	if device.LastUpdate != nil {
		result.WriteString(fmt.Sprintf("Last update: %s\n", device.LastUpdate.Format(time.RFC3339)))
	}
	if device.Battery != nil {
		result.WriteString(fmt.Sprintf("Battery: %d%%\n", *device.Battery))
	}
	if device.Signal != nil {
		result.WriteString(fmt.Sprintf("Signal: %d%%\n", *device.Signal))
	}
	return result.String()
}

// GetHTTPHandler returns the HTTP handler for the MCP server
func (s *Server) GetHTTPHandler() http.HandlerFunc {
	return s.HandleRequest
}

// LogStartup logs MCP server startup information
func (s *Server) LogStartup() {
	log.Info("MCP Server initialized", "version", "1.0.0")
	if s.bearerToken != "" {
		log.Info("MCP authentication enabled", "type", "Bearer token")
	} else {
		log.Info("MCP authentication disabled")
	}
	tools := s.mcpServer.ListTools()
	log.Info("MCP tools registered", "count", len(tools))
	for _, tool := range tools {
		log.Debug("MCP tool registered", "name", tool.Name, "description", tool.Description)
	}
}
