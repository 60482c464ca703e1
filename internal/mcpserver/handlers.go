package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"apitap/internal/replay"
)

func (s *Server) handleListSkills(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.app.Skills.Stats()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.domain != "" {
		scoped := stats[:0]
		for _, ds := range stats {
			if ds.Domain == s.domain {
				scoped = append(scoped, ds)
			}
		}
		stats = scoped
	}
	return jsonResult(stats)
}

func (s *Server) handleShowSkill(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.checkScope(domain); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := s.app.Skills.Load(domain)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(f)
}

func (s *Server) handleSearchEndpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	matches, err := s.app.Skills.Search(query)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.domain != "" {
		scoped := matches[:0]
		for _, m := range matches {
			if m.Domain == s.domain {
				scoped = append(scoped, m)
			}
		}
		matches = scoped
	}
	return jsonResult(matches)
}

func (s *Server) handleReplayEndpoint(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	endpointID, err := request.RequireString("endpoint_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.checkScope(domain); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	req := replay.Request{
		Domain:     domain,
		EndpointID: endpointID,
		Params:     stringParams(args["params"]),
	}
	if fresh, ok := args["fresh"].(bool); ok {
		req.Fresh = fresh
	}
	if maxBytes, ok := args["max_bytes"].(float64); ok {
		req.MaxBytes = int(maxBytes)
	}

	outcome, err := s.app.Engine.Do(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(outcome)
}

func (s *Server) handleReplayBatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	rawRequests, ok := args["requests"].([]interface{})
	if !ok || len(rawRequests) == 0 {
		return mcp.NewToolResultError("requests must be a non-empty array"), nil
	}

	reqs := make([]replay.Request, 0, len(rawRequests))
	for i, raw := range rawRequests {
		item, ok := raw.(map[string]interface{})
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("request %d is not an object", i)), nil
		}
		domain, _ := item["domain"].(string)
		endpointID, _ := item["endpoint_id"].(string)
		if domain == "" || endpointID == "" {
			return mcp.NewToolResultError(fmt.Sprintf("request %d needs domain and endpoint_id", i)), nil
		}
		if err := s.checkScope(domain); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reqs = append(reqs, replay.Request{
			Domain:     domain,
			EndpointID: endpointID,
			Params:     stringParams(item["params"]),
		})
	}

	concurrency := 0
	if v, ok := args["concurrency"].(float64); ok {
		concurrency = int(v)
	}
	return jsonResult(s.app.Engine.DoBatch(ctx, reqs, concurrency))
}

func (s *Server) handleBrowseURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.app.Browse.Browse(ctx, url)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handleRefreshDomain(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	domain, err := request.RequireString("domain")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := s.checkScope(domain); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	f, err := s.app.Skills.Load(domain)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	result, err := s.app.Refresher.Refresh(ctx, f)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (s *Server) handlePeekURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text, err := s.app.Content.Peek(ctx, url)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleReadURL(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	url, err := request.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxBytes := 0
	if v, ok := request.GetArguments()["max_bytes"].(float64); ok {
		maxBytes = int(v)
	}
	text, err := s.app.Content.Read(ctx, url, maxBytes)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.app.Skills.Stats()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func (s *Server) checkScope(domain string) error {
	if s.domain != "" && domain != s.domain {
		return fmt.Errorf("this server is scoped to %s", s.domain)
	}
	return nil
}

func stringParams(value interface{}) map[string]string {
	raw, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	params := make(map[string]string, len(raw))
	for name, v := range raw {
		switch typed := v.(type) {
		case string:
			params[name] = typed
		case float64, bool, nil:
			params[name] = fmt.Sprintf("%v", typed)
		default:
			encoded, err := json.Marshal(typed)
			if err == nil {
				params[name] = string(encoded)
			}
		}
	}
	return params
}

func jsonResult(value interface{}) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}
