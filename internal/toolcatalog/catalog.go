// Package toolcatalog implements the closed set of native sandbox tools,
// MCP alias resolution, and the advisory intent router / pre-loop planner
// the task executor consults before each inference turn.
package toolcatalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/pkg/orchestration"
)

// Result is the structured outcome every tool returns. Tools never panic
// or propagate a Go error for a domain failure — status/error fields carry
// it instead, so the executor can always append a step to the task trace.
type Result struct {
	Status string         `json:"status"`
	Tool   string         `json:"tool"`
	Error  string         `json:"error,omitempty"`
	Extra  map[string]any `json:"-"`
}

// MarshalJSON flattens Extra alongside the fixed fields, matching the
// original tools' `json!({"status": ..., "tool": ..., <extra fields>})`
// shape.
func (r Result) MarshalJSON() ([]byte, error) {
	m := map[string]any{"status": r.Status, "tool": r.Tool}
	if r.Error != "" {
		m["error"] = r.Error
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	return json.Marshal(m)
}

func errorResult(tool, msg string) Result {
	return Result{Status: "error", Tool: tool, Error: msg}
}

func okResult(tool string, extra map[string]any) Result {
	return Result{Status: "ok", Tool: tool, Extra: extra}
}

// Tool is one entry in the catalog: native or MCP-backed.
type Tool interface {
	Descriptor() orchestration.ToolDescriptor
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// Catalog resolves invocation tag names (native tools, MCP aliases, and
// the generic mcp_call dispatcher) to a Tool and runs it.
type Catalog struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics *observability.Metrics
}

// NewCatalog returns a Catalog preloaded with the 10 native tools.
func NewCatalog(root string) *Catalog {
	if root == "" {
		root = defaultSandboxRoot
	}
	c := &Catalog{tools: make(map[string]Tool)}
	for _, t := range nativeTools(root) {
		c.Register(t)
	}
	return c
}

// WithMetrics attaches Prometheus metrics recording to every Dispatch call.
// The zero-value Catalog records nothing.
func (c *Catalog) WithMetrics(m *observability.Metrics) *Catalog {
	c.metrics = m
	return c
}

// Register adds or replaces a tool under its descriptor's name.
func (c *Catalog) Register(t Tool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[t.Descriptor().Name] = t
}

// Lookup returns the tool registered under name, if any.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tools[name]
	return t, ok
}

// Descriptors returns every registered tool's descriptor, used to build
// the system prompt's tool catalog section.
func (c *Catalog) Descriptors() []orchestration.ToolDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]orchestration.ToolDescriptor, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t.Descriptor())
	}
	return out
}

// Dispatch resolves inv.Tool to a registered tool and runs it. An
// unregistered name is itself a structured error result, not a Go error,
// so the executor can append it to the task trace like any other tool
// outcome.
func (c *Catalog) Dispatch(ctx context.Context, inv orchestration.Invocation) Result {
	t, ok := c.Lookup(inv.Tool)
	if !ok {
		c.recordToolCall("", inv.Tool, "error", 0)
		return errorResult(inv.Tool, fmt.Sprintf("unknown tool %q", inv.Tool))
	}

	desc := t.Descriptor()
	server := desc.MCPServerName
	start := time.Now()

	args, err := validateArgs(desc, invocationArgs(inv))
	if err != nil {
		c.recordToolCall(server, inv.Tool, "error", time.Since(start).Seconds())
		return errorResult(inv.Tool, err.Error())
	}

	result, err := t.Execute(ctx, args)
	if err != nil {
		c.recordToolCall(server, inv.Tool, "error", time.Since(start).Seconds())
		return errorResult(inv.Tool, err.Error())
	}
	status := "success"
	if result.Status == "error" {
		status = "error"
	}
	c.recordToolCall(server, inv.Tool, status, time.Since(start).Seconds())
	return result
}

func (c *Catalog) recordToolCall(server, tool, status string, durationSeconds float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordToolCall(server, tool, status, durationSeconds)
}

// invocationArgs flattens an Invocation's attributes, body, and named
// children into a single argument map the way the wire format's XML tag
// maps onto a tool's JSON parameters.
func invocationArgs(inv orchestration.Invocation) map[string]any {
	args := make(map[string]any, len(inv.Attributes)+len(inv.Children)+1)
	for k, v := range inv.Attributes {
		args[k] = v
	}
	for k, v := range inv.Children {
		args[k] = v
	}
	if inv.Body != "" {
		if _, exists := args["content"]; !exists {
			args["content"] = inv.Body
		}
	}
	return args
}
