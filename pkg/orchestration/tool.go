package orchestration

import "encoding/json"

// ToolOrigin distinguishes the fixed native catalog from dynamically
// registered MCP-backed tools.
type ToolOrigin string

const (
	ToolOriginNative ToolOrigin = "native"
	ToolOriginMCP    ToolOrigin = "mcp"
)

// ToolDescriptor advertises one callable tool to the Task Executor's
// inference prompt and to the dispatcher's validation layer.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Origin      ToolOrigin      `json:"origin"`

	// MCP-only fields; empty for native tools.
	MCPServerID   string `json:"mcp_server_id,omitempty"`
	MCPServerName string `json:"mcp_server_name,omitempty"`
	MCPToolName   string `json:"mcp_tool_name,omitempty"`
}

// Invocation is a parsed tool call: a tag name, its attributes, an optional
// body, and any named child elements, as produced by the XML wire-format
// parser before dispatch.
type Invocation struct {
	Tool       string            `json:"tool"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Body       string            `json:"body,omitempty"`
	Children   map[string]string `json:"children,omitempty"`
}

// Plan is the pre-loop planner's advisory output: a suggested
// (server, tool, args) triple for the first inference turn of a task, plus
// an optional rationale, pagination hint, and "missing tool" flag. It is
// never auto-executed — the executor only ever surfaces it as a system
// prompt hint.
type Plan struct {
	// Candidates mirrors the single suggestion below as an Invocation, for
	// callers that want the wire-format shape directly. Empty when Missing
	// is true or no tool was proposed.
	Candidates []Invocation `json:"candidates"`

	// Server is the MCP server name the suggested tool belongs to; empty
	// for native tools.
	Server string `json:"server,omitempty"`
	// Tool is the suggested tool's name.
	Tool string `json:"tool,omitempty"`
	// Args are the suggested tool's arguments, already validated against
	// its descriptor's JSON schema.
	Args map[string]any `json:"args,omitempty"`
	// Rationale is a short human-readable explanation of why this tool (or
	// why no tool) was suggested.
	Rationale string `json:"rationale,omitempty"`
	// Pagination signals the suggested call is likely the first of
	// several (e.g. a paged search); advisory only, never auto-issued.
	Pagination bool `json:"pagination,omitempty"`
	// Missing indicates no tool in the ranked candidate subset suitably
	// matches the task, or the winning candidate couldn't be proposed with
	// schema-valid arguments.
	Missing bool `json:"missing,omitempty"`
}
