package toolcatalog

import (
	"strings"
)

// HintKind distinguishes a confident single-tool suggestion from a tie
// between distinct candidates.
type HintKind string

const (
	HintDirect    HintKind = "direct"
	HintAmbiguous HintKind = "ambiguous"
)

// Hint is the intent router's advisory output, injected into the system
// prompt but never enforced by the dispatcher.
type Hint struct {
	Kind       HintKind
	Tool       string
	Candidates []string
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "can": true, "for": true,
	"give": true, "how": true, "i": true, "in": true, "is": true, "it": true,
	"me": true, "my": true, "of": true, "on": true, "please": true, "show": true,
	"some": true, "tell": true, "that": true, "the": true, "this": true, "to": true,
	"what": true, "with": true, "you": true,
}

// tokenize lowercases input, splits on non-alphanumeric runs, and applies
// naive stemming (trailing "ies" -> "y", trailing "s" dropped when the
// token is longer than 3 runes), discarding tokens that normalize empty.
func tokenize(input string) []string {
	fields := strings.FieldsFunc(strings.ToLower(input), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := normalizeToken(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeToken(token string) string {
	if token == "" {
		return ""
	}
	if strings.HasSuffix(token, "ies") && len(token) > 3 {
		return token[:len(token)-3] + "y"
	}
	if strings.HasSuffix(token, "s") && len(token) > 3 {
		return token[:len(token)-1]
	}
	return token
}

func tokenMatch(a, b string) bool {
	return a == b || strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// synonymEntry maps an exact-phrase match (all phrases must appear, case
// insensitively) to a canonical tool name.
type synonymEntry struct {
	phrases []string
	tool    string
}

// candidateTool is what Route scores utterances against: a tool name plus
// the text corpus (its own name and description) to score token overlap
// against.
type candidateTool struct {
	Name        string
	Description string
}

// Route scores utterance against candidates, using synonyms first, falling
// back to token-overlap plus a substring-phrase bonus. Returns nil when no
// candidate scores at least 2.
func Route(utterance string, candidates []candidateTool, synonyms []synonymEntry) *Hint {
	lower := strings.ToLower(utterance)

	present := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		present[c.Name] = true
	}
	for _, entry := range synonyms {
		if !present[entry.tool] {
			continue
		}
		if lowerContainsAll(lower, entry.phrases) {
			return &Hint{Kind: HintDirect, Tool: entry.tool}
		}
	}

	return bestHint(scoreCandidates(utterance, candidates))
}

// scoreCandidates scores each candidate's token overlap (plus a
// substring-phrase bonus) against utterance. Zero-score candidates are
// omitted, matching Route's original inlined behavior.
func scoreCandidates(utterance string, candidates []candidateTool) map[string]int {
	lower := strings.ToLower(utterance)

	userTokens := tokenize(utterance)
	filtered := make([]string, 0, len(userTokens))
	for _, t := range userTokens {
		if !stopwords[t] {
			filtered = append(filtered, t)
		}
	}

	scores := make(map[string]int, len(candidates))
	for _, c := range candidates {
		score := 0
		namePhrase := strings.ReplaceAll(c.Name, "_", " ")
		if namePhrase != "" && strings.Contains(lower, namePhrase) {
			score += 2
		}

		corpus := tokenize(c.Name)
		corpus = append(corpus, tokenize(c.Description)...)
		for _, token := range filtered {
			for _, c2 := range corpus {
				if tokenMatch(token, c2) {
					score++
					break
				}
			}
		}
		if score > 0 {
			scores[c.Name] = score
		}
	}
	return scores
}

func bestHint(scores map[string]int) *Hint {
	best := -1
	var winners []string
	for name, score := range scores {
		switch {
		case score > best:
			best = score
			winners = []string{name}
		case score == best:
			winners = append(winners, name)
		}
	}
	if best < 2 || len(winners) == 0 {
		return nil
	}
	if len(winners) > 1 {
		return &Hint{Kind: HintAmbiguous, Candidates: winners}
	}
	return &Hint{Kind: HintDirect, Tool: winners[0]}
}

func lowerContainsAll(lowerText string, phrases []string) bool {
	for _, p := range phrases {
		if !strings.Contains(lowerText, p) {
			return false
		}
	}
	return true
}

// mcpSynonyms mirrors the common-phrase shortcuts for frequently used MCP
// tools (e.g. a GitHub server's repository/issue search), so a direct hint
// fires even when the phrasing doesn't share tokens with the tool name.
var mcpSynonyms = []synonymEntry{
	{[]string{"list repos"}, "search_repositories"},
	{[]string{"list repositories"}, "search_repositories"},
	{[]string{"my repos"}, "search_repositories"},
	{[]string{"github repos"}, "search_repositories"},
	{[]string{"github repositories"}, "search_repositories"},
	{[]string{"who am i"}, "get_me"},
	{[]string{"whoami"}, "get_me"},
	{[]string{"my profile"}, "get_me"},
	{[]string{"list issues"}, "search_issues"},
	{[]string{"search issues"}, "search_issues"},
	{[]string{"my prs"}, "search_pull_requests"},
	{[]string{"my pull requests"}, "search_pull_requests"},
	{[]string{"issue details"}, "issue_read"},
	{[]string{"get issue"}, "issue_read"},
	{[]string{"read issue"}, "issue_read"},
}

// RouteHint scores utterance against every currently registered tool,
// using the shared MCP synonym table.
func (c *Catalog) RouteHint(utterance string) *Hint {
	descriptors := c.Descriptors()
	candidates := make([]candidateTool, 0, len(descriptors))
	for _, d := range descriptors {
		candidates = append(candidates, candidateTool{Name: d.Name, Description: d.Description})
	}
	return Route(utterance, candidates, mcpSynonyms)
}
