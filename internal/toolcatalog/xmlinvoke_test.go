package toolcatalog

import "testing"

func TestParseInvocation_AttributesAndBody(t *testing.T) {
	inv, ok := ParseInvocation(`<run_bash commentary="list files" exec_dir="src">ls -la</run_bash>`)
	if !ok {
		t.Fatal("expected ok")
	}
	if inv.Tool != "run_bash" {
		t.Errorf("tool = %q", inv.Tool)
	}
	if inv.Attributes["commentary"] != "list files" || inv.Attributes["exec_dir"] != "src" {
		t.Errorf("attrs = %+v", inv.Attributes)
	}
	if inv.Body != "ls -la" {
		t.Errorf("body = %q", inv.Body)
	}
}

func TestParseInvocation_CDATABody(t *testing.T) {
	inv, ok := ParseInvocation(`<mcp_call tool="search_issues"><![CDATA[{"q":"bug"}]]></mcp_call>`)
	if !ok || inv.Body != `{"q":"bug"}` {
		t.Fatalf("inv = %+v ok=%v", inv, ok)
	}
}

func TestParseInvocation_NamedChildren(t *testing.T) {
	inv, ok := ParseInvocation(`<output><items>[{"type":"text","content":"hi"}]</items></output>`)
	if !ok {
		t.Fatal("expected ok")
	}
	if inv.Children["items"] != `[{"type":"text","content":"hi"}]` {
		t.Errorf("children = %+v", inv.Children)
	}
}

func TestParseInvocation_NoTagReturnsFalse(t *testing.T) {
	if _, ok := ParseInvocation("just some plain text, no tags here"); ok {
		t.Fatal("expected ok=false")
	}
}

func TestParseInvocation_UnclosedTagReturnsFalse(t *testing.T) {
	if _, ok := ParseInvocation(`<run_bash commentary="x">echo hi`); ok {
		t.Fatal("expected ok=false for unclosed tag")
	}
}
