package toolcatalog

import (
	"context"
	"testing"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

type fakeTool struct {
	name   string
	result Result
	err    error
}

func (f fakeTool) Descriptor() orchestration.ToolDescriptor {
	return orchestration.ToolDescriptor{Name: f.name}
}

func (f fakeTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return f.result, f.err
}

func TestCatalog_RegisterAndLookup(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(fakeTool{name: "echo", result: okResult("echo", nil)})

	tool, ok := c.Lookup("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	if tool.Descriptor().Name != "echo" {
		t.Errorf("Descriptor().Name = %q", tool.Descriptor().Name)
	}
	if _, ok := c.Lookup("missing"); ok {
		t.Error("expected missing to be unregistered")
	}
}

func TestCatalog_Dispatch_UnknownToolIsStructuredError(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	result := c.Dispatch(context.Background(), orchestration.Invocation{Tool: "nope"})
	if result.Status != "error" || result.Tool != "nope" {
		t.Errorf("result = %+v", result)
	}
}

func TestCatalog_Dispatch_RunsRegisteredTool(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(fakeTool{name: "echo", result: okResult("echo", map[string]any{"reply": "hi"})})

	result := c.Dispatch(context.Background(), orchestration.Invocation{Tool: "echo"})
	if result.Status != "ok" || result.Extra["reply"] != "hi" {
		t.Errorf("result = %+v", result)
	}
}

func TestCatalog_Descriptors_ReturnsAllRegistered(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(fakeTool{name: "a"})
	c.Register(fakeTool{name: "b"})

	descs := c.Descriptors()
	if len(descs) != 2 {
		t.Fatalf("len(descs) = %d, want 2", len(descs))
	}
}

func TestInvocationArgs_MergesAttributesChildrenAndBody(t *testing.T) {
	inv := orchestration.Invocation{
		Attributes: map[string]string{"path": "/tmp/x"},
		Children:   map[string]string{"note": "hello"},
		Body:       "body text",
	}
	args := invocationArgs(inv)
	if args["path"] != "/tmp/x" || args["note"] != "hello" || args["content"] != "body text" {
		t.Errorf("args = %+v", args)
	}
}

func TestInvocationArgs_DoesNotOverwriteExplicitContentChild(t *testing.T) {
	inv := orchestration.Invocation{
		Children: map[string]string{"content": "from child"},
		Body:     "from body",
	}
	args := invocationArgs(inv)
	if args["content"] != "from child" {
		t.Errorf("content = %v, want from child", args["content"])
	}
}
