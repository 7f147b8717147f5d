package toolcatalog

import "testing"

func TestTokenize_StemsPluralsAndDropsEmpty(t *testing.T) {
	got := tokenize("Repositories, Issues! a")
	want := []string{"repository", "issue", "a"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tokenize[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNormalizeToken_ShortWordsUnstemmed(t *testing.T) {
	if got := normalizeToken("bus"); got != "bus" {
		t.Errorf("normalizeToken(bus) = %q, want bus (len<=3 unstemmed)", got)
	}
}

func TestRoute_SynonymMatchIsDirect(t *testing.T) {
	candidates := []candidateTool{{Name: "search_repositories", Description: "Search repositories"}}
	hint := Route("show me my repos", candidates, mcpSynonyms)
	if hint == nil || hint.Kind != HintDirect || hint.Tool != "search_repositories" {
		t.Fatalf("hint = %+v", hint)
	}
}

func TestRoute_BelowThresholdYieldsNil(t *testing.T) {
	candidates := []candidateTool{{Name: "deploy_service", Description: "Deploys a service"}}
	hint := Route("what is the weather", candidates, nil)
	if hint != nil {
		t.Fatalf("hint = %+v, want nil", hint)
	}
}

func TestRoute_TieYieldsAmbiguous(t *testing.T) {
	candidates := []candidateTool{
		{Name: "toola", Description: "list repository"},
		{Name: "toolb", Description: "list repository"},
	}
	hint := Route("list my repos", candidates, nil)
	if hint == nil || hint.Kind != HintAmbiguous {
		t.Fatalf("hint = %+v, want ambiguous", hint)
	}
	if len(hint.Candidates) != 2 {
		t.Errorf("candidates = %v, want both tools", hint.Candidates)
	}
}

func TestSlugify(t *testing.T) {
	if got := Slugify("My GitHub Server!!"); got != "my_github_server" {
		t.Errorf("Slugify = %q", got)
	}
}

func TestMCPAliasName(t *testing.T) {
	if got := MCPAliasName("GitHub", "search_repositories"); got != "mcp_github_search_repositories" {
		t.Errorf("MCPAliasName = %q", got)
	}
}

func TestLevenshtein(t *testing.T) {
	if d := levenshtein("kitten", "sitting"); d != 3 {
		t.Errorf("levenshtein = %d, want 3", d)
	}
	if d := levenshtein("same", "same"); d != 0 {
		t.Errorf("levenshtein identical = %d, want 0", d)
	}
}

func TestClosestName(t *testing.T) {
	got := closestName("serch_issues", []string{"search_issues", "get_me", "search_repositories"})
	if got != "search_issues" {
		t.Errorf("closestName = %q", got)
	}
}
