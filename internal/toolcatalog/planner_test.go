package toolcatalog

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus/pkg/orchestration"
)

type mcpFakeTool struct {
	name   string
	server string
	schema json.RawMessage
}

func (m mcpFakeTool) Descriptor() orchestration.ToolDescriptor {
	return orchestration.ToolDescriptor{
		Name: m.name, Origin: orchestration.ToolOriginMCP,
		MCPServerName: m.server, Schema: m.schema,
	}
}

func (m mcpFakeTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	return Result{}, nil
}

func TestPlan_NoMatchReturnsMissing(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(fakeTool{name: "read_file"})

	plan := c.Plan(PlanInput{TaskText: "send an invoice to finance"})
	if !plan.Missing {
		t.Errorf("plan = %+v, want Missing", plan)
	}
}

func TestPlan_DirectHintProposesCandidate(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(mcpFakeTool{name: "search_repositories", server: "github"})

	plan := c.Plan(PlanInput{TaskText: "show me my repos"})
	if plan.Missing {
		t.Fatalf("plan = %+v, want a match", plan)
	}
	if plan.Tool != "search_repositories" || plan.Server != "github" {
		t.Fatalf("plan = %+v", plan)
	}
	if len(plan.Candidates) != 1 || plan.Candidates[0].Tool != "search_repositories" {
		t.Fatalf("plan.Candidates = %+v", plan.Candidates)
	}
}

func TestPlan_AmbiguousHintReturnsMissing(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(mcpFakeTool{name: "search_repositories", server: "github"})

	plan := c.Plan(PlanInput{TaskText: "xyz totally unrelated gibberish"})
	if !plan.Missing {
		t.Errorf("plan = %+v, want Missing", plan)
	}
}

func TestPlan_ForcedServerExcludesOtherServers(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(mcpFakeTool{name: "search_repositories", server: "github"})

	plan := c.Plan(PlanInput{TaskText: "show me my repos", ForcedServer: "gitlab"})
	if !plan.Missing {
		t.Errorf("plan = %+v, want Missing when forced server excludes the only match", plan)
	}
}

func TestPlan_RecentSuccessBiasBreaksTie(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(mcpFakeTool{name: "search_issues", server: "github"})
	c.Register(mcpFakeTool{name: "search_repositories", server: "github"})

	plan := c.Plan(PlanInput{TaskText: "search for something", RecentSuccessTool: "search_issues"})
	if plan.Missing || plan.Tool != "search_issues" {
		t.Fatalf("plan = %+v, want search_issues favored by recent success", plan)
	}
}

func TestPlan_ProposesArgsFromTaskTextAndValidatesSchema(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(mcpFakeTool{
		name:   "search_repositories",
		server: "github",
		schema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"required":["query"]}`),
	})

	plan := c.Plan(PlanInput{TaskText: "show me my repos"})
	if plan.Missing {
		t.Fatalf("plan = %+v, want a match", plan)
	}
	if plan.Args["query"] != "show me my repos" {
		t.Errorf("plan.Args = %+v, want query filled from task text", plan.Args)
	}
}

func TestPlan_UnsatisfiableRequiredArgIsMissing(t *testing.T) {
	c := &Catalog{tools: make(map[string]Tool)}
	c.Register(mcpFakeTool{
		name:   "search_repositories",
		server: "github",
		schema: json.RawMessage(`{"type":"object","properties":{"limit":{"type":"string","enum":["one"]}},"required":["limit"]}`),
	})

	plan := c.Plan(PlanInput{TaskText: "show me my repos"})
	if !plan.Missing {
		t.Errorf("plan = %+v, want Missing when proposed args can't satisfy the schema", plan)
	}
}
