package mcp

import "github.com/mark3labs/mcp-go/mcp"

const linkParamDescription = "Link ID or device name"

// registerTools registers all MCP tools with the server
func (s *Server) registerTools() {
	// Health check
	s.mcpServer.AddTool(
		mcp.NewTool("get_health",
			mcp.WithDescription("Check the sync state of every configured AmbiSense device"),
		),
		s.handleGetHealth,
	)

	// List links
	s.mcpServer.AddTool(
		mcp.NewTool("list_links",
			mcp.WithDescription("List all configured AmbiSense device links with their sync state and cached settings"),
		),
		s.handleListLinks,
	)

	// Get settings
	s.mcpServer.AddTool(
		mcp.NewTool("get_settings",
			mcp.WithDescription("Get the cached settings of a device, optionally re-reading them from the device first"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
			mcp.WithBoolean("refresh",
				mcp.Description("Read the settings from the device before returning (default false)"),
			),
		),
		s.handleGetSettings,
	)

	// Describe schema
	s.mcpServer.AddTool(
		mcp.NewTool("describe_schema",
			mcp.WithDescription("Describe every AmbiSense setting: type, range, step, unit and the light mode names"),
		),
		s.handleDescribeSchema,
	)

	// Update settings
	s.mcpServer.AddTool(
		mcp.NewTool("update_settings",
			mcp.WithDescription("Validate and write a partial settings update to a device. Out-of-range values are rejected, not clamped. On device failure the cached settings are left unchanged."),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
			mcp.WithObject("settings",
				mcp.Required(),
				mcp.Description("Settings to change (e.g. {\"brightness\": 200, \"light_mode\": \"rainbow\"})"),
			),
		),
		s.handleUpdateSettings,
	)

	// Apply settings
	s.mcpServer.AddTool(
		mcp.NewTool("apply_settings",
			mcp.WithDescription("Write the full cached settings back to a device, e.g. after it rebooted"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
		),
		s.handleApplySettings,
	)

	// Refresh settings
	s.mcpServer.AddTool(
		mcp.NewTool("refresh_settings",
			mcp.WithDescription("Re-read all settings from a device and replace the cached snapshot"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
		),
		s.handleRefreshSettings,
	)

	// Distance
	s.mcpServer.AddTool(
		mcp.NewTool("get_distance",
			mcp.WithDescription("Read the live radar distance of a device in centimeters"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
		),
		s.handleGetDistance,
	)

	// Entities
	s.mcpServer.AddTool(
		mcp.NewTool("list_entities",
			mcp.WithDescription("List the automation entities of a device with their current state"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
		),
		s.handleListEntities,
	)

	// Discovery
	s.mcpServer.AddTool(
		mcp.NewTool("discover_devices",
			mcp.WithDescription("Scan the local network for AmbiSense devices via mDNS and well-known hostnames"),
			mcp.WithBoolean("verify",
				mcp.Description("Contact each device to confirm it responds (default false)"),
			),
		),
		s.handleDiscoverDevices,
	)

	// Turn on (convenience)
	s.mcpServer.AddTool(
		mcp.NewTool("turn_on",
			mcp.WithDescription("Turn on a device's light, optionally setting brightness, color and light mode"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
			mcp.WithNumber("brightness",
				mcp.Description("Brightness 0-255 (optional)"),
			),
			mcp.WithArray("rgb_color",
				mcp.Description("Color as [r, g, b], each 0-255 (optional)"),
				mcp.Items(map[string]any{"type": "integer"}),
			),
			mcp.WithString("effect",
				mcp.Description("Light mode name (optional)"),
			),
		),
		s.handleTurnOn,
	)

	// Turn off (convenience)
	s.mcpServer.AddTool(
		mcp.NewTool("turn_off",
			mcp.WithDescription("Turn off a device's light"),
			mcp.WithString("link",
				mcp.Required(),
				mcp.Description(linkParamDescription),
			),
		),
		s.handleTurnOff,
	)
}
