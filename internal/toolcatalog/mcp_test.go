package toolcatalog

import (
	"context"
	"errors"
	"testing"
)

type fakeMCPCaller struct {
	tools      []string
	listErr    error
	callErr    map[string]error
	lastServer string
	lastTool   string
}

func (f *fakeMCPCaller) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (map[string]any, error) {
	f.lastServer, f.lastTool = serverID, toolName
	if err, ok := f.callErr[toolName]; ok {
		return nil, err
	}
	return map[string]any{"tool": toolName}, nil
}

func (f *fakeMCPCaller) ListTools(ctx context.Context, serverID string) ([]string, error) {
	return f.tools, f.listErr
}

func TestSlugify(t *testing.T) {
	if got := Slugify("GitHub MCP Server!"); got != "github_mcp_server" {
		t.Errorf("Slugify = %q", got)
	}
}

func TestMCPAliasName(t *testing.T) {
	if got := MCPAliasName("GitHub", "search repos"); got != "mcp_github_search_repos" {
		t.Errorf("MCPAliasName = %q", got)
	}
}

func TestRegisterMCPServer_RegistersAliasesAndGenericDispatcher(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	caller := &fakeMCPCaller{tools: []string{"search_repositories", "get_issue"}}

	if err := c.RegisterMCPServer(context.Background(), caller, "srv-1", "GitHub"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := c.Lookup("mcp_github_search_repositories"); !ok {
		t.Error("expected search_repositories alias registered")
	}
	if _, ok := c.Lookup("mcp_call"); !ok {
		t.Error("expected generic mcp_call dispatcher registered")
	}
}

func TestMCPAliasTool_Execute_WrapsCallerError(t *testing.T) {
	caller := &fakeMCPCaller{callErr: map[string]error{"search_repositories": errors.New("boom")}}
	tool := &mcpAliasTool{caller: caller, serverID: "srv-1", serverName: "GitHub", toolName: "search_repositories"}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if result.Status != "error" || result.Error != "boom" {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPCallTool_Execute_RequiresToolName(t *testing.T) {
	tool := &mcpCallTool{caller: &fakeMCPCaller{}}
	result, err := tool.Execute(context.Background(), map[string]any{})
	if err != nil || result.Status != "error" {
		t.Fatalf("result = %+v, err = %v", result, err)
	}
}

func TestMCPCallTool_Execute_CorrectiveRetryOnUnknownTool(t *testing.T) {
	caller := &fakeMCPCaller{
		tools:   []string{"search_repositories"},
		callErr: map[string]error{"search_repos": errors.New("unknown tool")},
	}
	tool := &mcpCallTool{caller: caller}

	result, err := tool.Execute(context.Background(), map[string]any{"server": "srv-1", "tool": "search_repos"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "ok" {
		t.Fatalf("result = %+v", result)
	}
	if caller.lastTool != "search_repositories" {
		t.Errorf("lastTool = %q, want corrective retry against search_repositories", caller.lastTool)
	}
}

func TestMCPCallTool_Execute_RejectsNonJSONContent(t *testing.T) {
	tool := &mcpCallTool{caller: &fakeMCPCaller{}}
	result, err := tool.Execute(context.Background(), map[string]any{"tool": "x", "content": "not json"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "error" {
		t.Fatalf("result = %+v", result)
	}
}

func TestClosestName_PicksSmallestLevenshteinDistance(t *testing.T) {
	got := closestName("search_repos", []string{"search_repositories", "get_issue"})
	if got != "search_repositories" {
		t.Errorf("closestName = %q", got)
	}
}
