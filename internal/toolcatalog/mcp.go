package toolcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// MCPCaller is the narrow contract an MCP-backed tool uses to actually
// invoke a tool on a connected MCP server. Kept separate from
// toolcatalog.Tool so transport concerns (connection pooling, protocol
// framing) stay outside this package.
type MCPCaller interface {
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (map[string]any, error)
	ListTools(ctx context.Context, serverID string) ([]string, error)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses runs of non-alphanumeric characters
// into a single underscore, trimming leading/trailing underscores.
func Slugify(s string) string {
	lower := strings.ToLower(s)
	slug := slugPattern.ReplaceAllString(lower, "_")
	return strings.Trim(slug, "_")
}

// MCPAliasName builds the synthesized per-tool alias name
// mcp_<slugify(server)>_<slugify(tool)>.
func MCPAliasName(server, tool string) string {
	return fmt.Sprintf("mcp_%s_%s", Slugify(server), Slugify(tool))
}

// mcpAliasTool is a one-to-one alias for a single MCP server tool,
// registered under MCPAliasName(server, tool).
type mcpAliasTool struct {
	caller     MCPCaller
	serverID   string
	serverName string
	toolName   string
}

func (t *mcpAliasTool) Descriptor() orchestration.ToolDescriptor {
	return orchestration.ToolDescriptor{
		Name:          MCPAliasName(t.serverName, t.toolName),
		Description:   fmt.Sprintf("MCP tool %q on server %q.", t.toolName, t.serverName),
		Origin:        orchestration.ToolOriginMCP,
		MCPServerID:   t.serverID,
		MCPServerName: t.serverName,
		MCPToolName:   t.toolName,
	}
}

func (t *mcpAliasTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	name := MCPAliasName(t.serverName, t.toolName)
	out, err := t.caller.CallTool(ctx, t.serverID, t.toolName, args)
	if err != nil {
		return errorResult(name, err.Error()), nil
	}
	extra := map[string]any{}
	for k, v := range out {
		extra[k] = v
	}
	return okResult(name, extra), nil
}

// mcpCallTool is the generic dispatcher: callers name the server and tool
// explicitly rather than relying on a synthesized alias, for tools not
// worth registering individually.
type mcpCallTool struct {
	caller MCPCaller
}

func (t *mcpCallTool) Descriptor() orchestration.ToolDescriptor {
	return orchestration.ToolDescriptor{
		Name:        "mcp_call",
		Description: "Call an MCP tool by server and tool name, passing a JSON body.",
		Origin:      orchestration.ToolOriginNative,
		Schema: json.RawMessage(`{"type":"object","properties":{
			"server":{"type":"string"},"server_id":{"type":"string"},
			"tool":{"type":"string"},"content":{"type":"string"}
		},"required":["tool"]}`),
	}
}

func (t *mcpCallTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	serverID := stringArg(args, "server_id")
	if serverID == "" {
		serverID = stringArg(args, "server")
	}
	toolName := stringArg(args, "tool")
	if toolName == "" {
		return errorResult("mcp_call", "tool is required"), nil
	}

	var body map[string]any
	if raw := stringArg(args, "content"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return errorResult("mcp_call", fmt.Sprintf("content must be a JSON object: %v", err)), nil
		}
	}

	out, err := t.caller.CallTool(ctx, serverID, toolName, body)
	if err == nil {
		return okResult("mcp_call", out), nil
	}

	// Unknown-tool-name failures get one corrective retry against the
	// closest known tool name for this server before failing outright.
	known, listErr := t.caller.ListTools(ctx, serverID)
	if listErr != nil || len(known) == 0 {
		return errorResult("mcp_call", err.Error()), nil
	}
	closest := closestName(toolName, known)
	if closest == "" || closest == toolName {
		return errorResult("mcp_call", err.Error()), nil
	}

	out, retryErr := t.caller.CallTool(ctx, serverID, closest, body)
	if retryErr != nil {
		return errorResult("mcp_call", fmt.Sprintf("%v (retry against %q also failed: %v)", err, closest, retryErr)), nil
	}
	return okResult("mcp_call", out), nil
}

// closestName picks the candidate with the smallest Levenshtein distance
// to name; ties keep the first candidate encountered.
func closestName(name string, candidates []string) string {
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := levenshtein(name, c)
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = c
		}
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// RegisterMCPServer synthesizes a per-tool alias for every tool a server
// exposes, plus the shared generic mcp_call dispatcher (registered once,
// idempotently).
func (c *Catalog) RegisterMCPServer(ctx context.Context, caller MCPCaller, serverID, serverName string) error {
	if _, ok := c.Lookup("mcp_call"); !ok {
		c.Register(&mcpCallTool{caller: caller})
	}
	tools, err := caller.ListTools(ctx, serverID)
	if err != nil {
		return fmt.Errorf("list mcp tools for server %q: %w", serverName, err)
	}
	for _, name := range tools {
		c.Register(&mcpAliasTool{caller: caller, serverID: serverID, serverName: serverName, toolName: name})
	}
	return nil
}
