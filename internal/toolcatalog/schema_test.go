package toolcatalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

type schemaFakeTool struct {
	name   string
	schema json.RawMessage
}

func (t schemaFakeTool) Descriptor() orchestration.ToolDescriptor {
	return orchestration.ToolDescriptor{Name: t.name, Schema: t.schema}
}

func (t schemaFakeTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return okResult(t.name, map[string]any{"received": args}), nil
}

func TestCatalog_Dispatch_RejectsMissingRequiredArg(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(schemaFakeTool{
		name:   "needs_tool",
		schema: json.RawMessage(`{"type":"object","properties":{"tool":{"type":"string"}},"required":["tool"]}`),
	})

	result := c.Dispatch(context.Background(), orchestration.Invocation{Tool: "needs_tool"})
	if result.Status != "error" {
		t.Fatalf("result = %+v, want a schema validation error", result)
	}
}

func TestCatalog_Dispatch_CoercesIntegerAttribute(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(schemaFakeTool{
		name:   "needs_int",
		schema: json.RawMessage(`{"type":"object","properties":{"max_bytes":{"type":"integer"}},"required":["max_bytes"]}`),
	})

	result := c.Dispatch(context.Background(), orchestration.Invocation{
		Tool:       "needs_int",
		Attributes: map[string]string{"max_bytes": "2048"},
	})
	if result.Status != "ok" {
		t.Fatalf("result = %+v, want ok", result)
	}
	if got, ok := result.Extra["received"].(map[string]any)["max_bytes"].(float64); !ok || got != 2048 {
		t.Errorf("max_bytes = %+v, want 2048", result.Extra["received"])
	}
}

func TestCatalog_Dispatch_CoercesBooleanAttribute(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(schemaFakeTool{
		name:   "needs_bool",
		schema: json.RawMessage(`{"type":"object","properties":{"many":{"type":"boolean"}}}`),
	})

	result := c.Dispatch(context.Background(), orchestration.Invocation{
		Tool:       "needs_bool",
		Attributes: map[string]string{"many": "yes"},
	})
	if result.Status != "ok" {
		t.Fatalf("result = %+v, want ok", result)
	}
	if got, ok := result.Extra["received"].(map[string]any)["many"].(bool); !ok || !got {
		t.Errorf("many = %+v, want true", result.Extra["received"])
	}
}

func TestCatalog_Dispatch_McpCallRequiresTool(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(&mcpCallTool{caller: fakeMCPCaller{}})

	result := c.Dispatch(context.Background(), orchestration.Invocation{Tool: "mcp_call"})
	if result.Status != "error" {
		t.Fatalf("result = %+v, want schema-enforced error for missing tool", result)
	}
}

type fakeMCPCaller struct{}

func (fakeMCPCaller) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func (fakeMCPCaller) ListTools(ctx context.Context, serverID string) ([]string, error) {
	return nil, nil
}

func TestWebFetchTool_BlocksPrivateHostname(t *testing.T) {
	tool := &webFetchTool{}
	args := map[string]any{"commentary": "c", "url": "http://127.0.0.1:9999/secret"}

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "error" {
		t.Fatalf("result = %+v, want blocked as SSRF", result)
	}
}

func TestWebFetchTool_BlocksNonHTTPScheme(t *testing.T) {
	tool := &webFetchTool{}
	args := map[string]any{"commentary": "c", "url": "file:///etc/passwd"}

	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != "error" {
		t.Fatalf("result = %+v, want rejected scheme", result)
	}
}
