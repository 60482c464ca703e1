// Package mcpserver exposes apitap's operations as MCP tools over
// stdio, so AI assistants can list, search, replay, and browse
// captured APIs directly.
package mcpserver

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"apitap/internal/app"
	"apitap/pkg/logging"
)

// Server wraps the application graph behind an MCP stdio server.
type Server struct {
	app       *app.Application
	mcpServer *server.MCPServer
	// domain scopes the server to one domain's endpoints when set
	// (the serve <domain> mode).
	domain string
}

// New creates an MCP server over the wired application. domain may be
// empty for an unscoped server.
func New(application *app.Application, version, domain string) *Server {
	mcpServer := server.NewMCPServer(
		"apitap",
		version,
		server.WithToolCapabilities(false),
	)

	s := &Server{app: application, mcpServer: mcpServer, domain: domain}
	s.registerTools()
	return s
}

// Start serves MCP over stdio until the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	if s.domain != "" {
		logging.Info("mcpserver", "Serving MCP tools scoped to %s", s.domain)
	} else {
		logging.Info("mcpserver", "Serving MCP tools")
	}
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("list_skills",
		mcp.WithDescription("List captured domains and their endpoint counts"),
	), s.handleListSkills)

	s.mcpServer.AddTool(mcp.NewTool("show_skill",
		mcp.WithDescription("Show the full skill file for a domain"),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Domain of the skill file")),
	), s.handleShowSkill)

	s.mcpServer.AddTool(mcp.NewTool("search_endpoints",
		mcp.WithDescription("Search captured endpoints across all domains"),
		mcp.WithString("query", mcp.Required(), mcp.Description("Substring matched against endpoint id, path, and domain")),
	), s.handleSearchEndpoints)

	s.mcpServer.AddTool(mcp.NewTool("replay_endpoint",
		mcp.WithDescription("Replay a captured endpoint with live credentials"),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Domain of the skill file")),
		mcp.WithString("endpoint_id", mcp.Required(), mcp.Description("Endpoint to replay")),
		mcp.WithObject("params", mcp.Description("Path, body, and query parameter values by name")),
		mcp.WithBoolean("fresh", mcp.Description("Force a credential refresh before dispatch")),
		mcp.WithNumber("max_bytes", mcp.Description("Response payload size cap")),
	), s.handleReplayEndpoint)

	s.mcpServer.AddTool(mcp.NewTool("replay_batch",
		mcp.WithDescription("Replay several endpoints concurrently; each request fails independently"),
		mcp.WithArray("requests", mcp.Required(), mcp.Description("Requests as {domain, endpoint_id, params?} objects")),
		mcp.WithNumber("concurrency", mcp.Description("Maximum requests in flight (default 4)")),
	), s.handleReplayBatch)

	s.mcpServer.AddTool(mcp.NewTool("browse_url",
		mcp.WithDescription("Resolve a URL to a known API and replay its best endpoint"),
		mcp.WithString("url", mcp.Required(), mcp.Description("Page URL to browse")),
	), s.handleBrowseURL)

	s.mcpServer.AddTool(mcp.NewTool("refresh_domain",
		mcp.WithDescription("Refresh stored credentials for a domain"),
		mcp.WithString("domain", mcp.Required(), mcp.Description("Domain to refresh")),
	), s.handleRefreshDomain)

	s.mcpServer.AddTool(mcp.NewTool("peek_url",
		mcp.WithDescription("Fetch a short text preview of a page"),
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to peek at")),
	), s.handlePeekURL)

	s.mcpServer.AddTool(mcp.NewTool("read_url",
		mcp.WithDescription("Fetch the visible text of a page"),
		mcp.WithString("url", mcp.Required(), mcp.Description("URL to read")),
		mcp.WithNumber("max_bytes", mcp.Description("Text size cap")),
	), s.handleReadURL)

	s.mcpServer.AddTool(mcp.NewTool("stats",
		mcp.WithDescription("Aggregate endpoint and tier counts per domain"),
	), s.handleStats)
}
