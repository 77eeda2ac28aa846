package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urmzd/ambisense/pkg/device/schema"
	"github.com/urmzd/ambisense/pkg/discovery"
	"github.com/urmzd/ambisense/pkg/entity"
	"github.com/urmzd/ambisense/pkg/link"
)

// Links is the link registry the tools read. *link.Manager satisfies it.
type Links interface {
	Get(id string) (*link.Synchronizer, error)
	List() []*link.Synchronizer
}

// Lights turns reflected light entities on and off. *entity.Services
// satisfies it.
type Lights interface {
	TurnOn(ctx context.Context, entityID string, req entity.TurnOnRequest) error
	TurnOff(ctx context.Context, entityID string) error
}

// Scanner finds AmbiSense devices on the network. *discovery.Scanner
// satisfies it.
type Scanner interface {
	Scan(ctx context.Context, verify bool) ([]discovery.Device, error)
}

// Server wraps the MCP server with AmbiSense settings sync functionality
type Server struct {
	mcpServer *server.MCPServer
	links     Links
	lights    Lights
	scanner   Scanner
	validator *schema.Validator
}

// NewServer creates a new MCP server over the given links
func NewServer(links Links, lights Lights, scanner Scanner, validator *schema.Validator) *Server {
	s := &Server{
		links:     links,
		lights:    lights,
		scanner:   scanner,
		validator: validator,
	}

	s.mcpServer = server.NewMCPServer(
		"ambisense",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools()

	return s
}

// MCPServer exposes the underlying server, e.g. for in-process clients
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the MCP server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
