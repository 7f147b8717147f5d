package toolcatalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

const (
	// planMaxTools caps the ranked candidate subset the planner considers,
	// per spec: "a ranked subset of tool descriptors (capped at ~50 tools)".
	planMaxTools = 50
	// planMaxPayloadBytes caps the candidate subset's JSON size, dropping
	// schemas first and then truncating the list, per spec: "payload
	// capped at ~60 KB by dropping schemas then truncating".
	planMaxPayloadBytes = 60 * 1024
	// recentSuccessBias reinforces a tool that recently succeeded for this
	// sandbox over one with an equal token-overlap score.
	recentSuccessBias = 3
	// proposedArgTextLimit bounds how much of the task text gets folded
	// into a proposed string argument.
	proposedArgTextLimit = 500
)

// PlanInput is everything the pre-loop planner is given ahead of the first
// inference turn for a task.
type PlanInput struct {
	// TaskText is the task's input text.
	TaskText string
	// ForcedServer restricts candidates to one MCP server's tools, when set.
	ForcedServer string
	// RecentSuccessTool biases ranking toward a tool that recently
	// succeeded for this sandbox.
	RecentSuccessTool string
	// PreviousError is the prior turn's tool error, if any, folded into
	// the plan's rationale.
	PreviousError string
}

// Plan ranks the registered tool descriptors against in.TaskText, caps the
// candidate subset, and proposes a single (server, tool, args) triple
// validated against that tool's schema and the forced-server constraint.
// Missing is set when no candidate suitably matches, the forced-server
// constraint rules out the winner, or no schema-valid arguments could be
// proposed. The result is advisory only; callers format it into a system
// prompt hint and never auto-execute it.
func (c *Catalog) Plan(in PlanInput) orchestration.Plan {
	ranked := rankDescriptors(in.TaskText, c.Descriptors(), in.ForcedServer, in.RecentSuccessTool)
	if len(ranked) == 0 {
		return orchestration.Plan{Missing: true, Rationale: "no candidate tools available"}
	}
	ranked = capDescriptors(ranked)

	candidates := make([]candidateTool, 0, len(ranked))
	for _, d := range ranked {
		candidates = append(candidates, candidateTool{Name: d.Name, Description: d.Description})
	}
	hint := routeWithBias(in.TaskText, candidates, in.RecentSuccessTool)
	if hint == nil || hint.Kind != HintDirect {
		return orchestration.Plan{Missing: true, Rationale: "no single tool in the ranked candidate set directly matches the task"}
	}

	tool, ok := c.Lookup(hint.Tool)
	if !ok {
		return orchestration.Plan{Missing: true, Rationale: fmt.Sprintf("routed tool %q is no longer registered", hint.Tool)}
	}
	desc := tool.Descriptor()

	if in.ForcedServer != "" && desc.MCPServerName != in.ForcedServer {
		return orchestration.Plan{Missing: true, Rationale: fmt.Sprintf("best match %q belongs to server %q, not the forced server %q", desc.Name, desc.MCPServerName, in.ForcedServer)}
	}

	args := proposeArgs(desc.Schema, in.TaskText)
	validated, err := validateArgs(desc, args)
	if err != nil {
		return orchestration.Plan{Missing: true, Rationale: fmt.Sprintf("could not propose schema-valid arguments for %q: %v", desc.Name, err)}
	}

	rationale := fmt.Sprintf("%q scored highest against the task text", desc.Name)
	if in.RecentSuccessTool == desc.Name {
		rationale += "; reinforced by its recent success"
	}
	if in.PreviousError != "" {
		rationale += fmt.Sprintf("; previous turn's error was: %s", in.PreviousError)
	}

	return orchestration.Plan{
		Server:     desc.MCPServerName,
		Tool:       desc.Name,
		Args:       validated,
		Rationale:  rationale,
		Pagination: schemaHasPaginationHint(desc.Schema),
		Candidates: []orchestration.Invocation{invocationFor(desc.Name, validated)},
	}
}

// rankDescriptors filters to the forced server (when set), scores the
// remainder against taskText, applies the recent-success bias, and sorts
// descending by score with a deterministic name-order tie-break.
func rankDescriptors(taskText string, descriptors []orchestration.ToolDescriptor, forcedServer, recentSuccessTool string) []orchestration.ToolDescriptor {
	filtered := make([]orchestration.ToolDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if forcedServer != "" && d.MCPServerName != forcedServer {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 0 {
		return nil
	}

	candidates := make([]candidateTool, 0, len(filtered))
	for _, d := range filtered {
		candidates = append(candidates, candidateTool{Name: d.Name, Description: d.Description})
	}
	scores := scoreCandidates(taskText, candidates)
	if recentSuccessTool != "" {
		scores[recentSuccessTool] += recentSuccessBias
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		si, sj := scores[filtered[i].Name], scores[filtered[j].Name]
		if si != sj {
			return si > sj
		}
		return filtered[i].Name < filtered[j].Name
	})
	return filtered
}

// capDescriptors enforces planMaxTools, then planMaxPayloadBytes by
// dropping schemas before truncating the (already rank-ordered) list.
func capDescriptors(ranked []orchestration.ToolDescriptor) []orchestration.ToolDescriptor {
	if len(ranked) > planMaxTools {
		ranked = ranked[:planMaxTools]
	}
	if payloadSize(ranked) <= planMaxPayloadBytes {
		return ranked
	}

	stripped := make([]orchestration.ToolDescriptor, len(ranked))
	for i, d := range ranked {
		d.Schema = nil
		stripped[i] = d
	}
	if payloadSize(stripped) <= planMaxPayloadBytes {
		return stripped
	}

	for len(stripped) > 0 && payloadSize(stripped) > planMaxPayloadBytes {
		stripped = stripped[:len(stripped)-1]
	}
	return stripped
}

func payloadSize(descriptors []orchestration.ToolDescriptor) int {
	raw, err := json.Marshal(descriptors)
	if err != nil {
		return 0
	}
	return len(raw)
}

// proposeArgs fills the schema's required properties with best-guess
// values: the task text (truncated) for a required string property, zero
// values for numeric/boolean ones. It's a heuristic stand-in for an actual
// model-authored argument set, grounded in the common single-query-param
// shape of search-style MCP tools (e.g. "query", "q", "text").
func proposeArgs(schema json.RawMessage, taskText string) map[string]any {
	args := map[string]any{}
	if len(schema) == 0 {
		return args
	}
	var shape struct {
		Required   []string `json:"required"`
		Properties map[string]struct {
			Type string `json:"type"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schema, &shape); err != nil {
		return args
	}

	text := strings.TrimSpace(taskText)
	if len(text) > proposedArgTextLimit {
		text = text[:proposedArgTextLimit]
	}

	for _, name := range shape.Required {
		prop, ok := shape.Properties[name]
		if !ok {
			continue
		}
		switch prop.Type {
		case "string":
			args[name] = text
		case "boolean":
			args[name] = false
		case "integer", "number":
			args[name] = 0
		}
	}
	return args
}

// schemaHasPaginationHint reports whether the schema declares a
// conventional paging parameter, signalling the proposed call is likely
// the first of several.
func schemaHasPaginationHint(schema json.RawMessage) bool {
	if len(schema) == 0 {
		return false
	}
	var shape struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(schema, &shape); err != nil {
		return false
	}
	for _, key := range []string{"page", "cursor", "offset", "per_page", "limit"} {
		if _, ok := shape.Properties[key]; ok {
			return true
		}
	}
	return false
}

// routeWithBias mirrors Route's synonym-then-token-overlap scoring, but
// reinforces recentSuccessTool (when it's one of the candidates) before
// picking a winner, so a tool that just succeeded wins ties against one
// with equal token overlap.
func routeWithBias(taskText string, candidates []candidateTool, recentSuccessTool string) *Hint {
	lower := strings.ToLower(taskText)
	present := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		present[c.Name] = true
	}
	for _, entry := range mcpSynonyms {
		if !present[entry.tool] {
			continue
		}
		if lowerContainsAll(lower, entry.phrases) {
			return &Hint{Kind: HintDirect, Tool: entry.tool}
		}
	}

	scores := scoreCandidates(taskText, candidates)
	if recentSuccessTool != "" && present[recentSuccessTool] {
		scores[recentSuccessTool] += recentSuccessBias
	}
	return bestHint(scores)
}

func invocationFor(name string, args map[string]any) orchestration.Invocation {
	attrs := make(map[string]string, len(args))
	for k, v := range args {
		attrs[k] = fmt.Sprintf("%v", v)
	}
	return orchestration.Invocation{Tool: name, Attributes: attrs}
}
