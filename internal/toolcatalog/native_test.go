package toolcatalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureUnderRoot_RejectsEscape(t *testing.T) {
	root := t.TempDir()
	if _, err := ensureUnderRoot(root, "../outside"); err == nil {
		t.Fatal("expected error for path outside root")
	}
}

func TestEnsureUnderRoot_AllowsRelative(t *testing.T) {
	root := t.TempDir()
	got, err := ensureUnderRoot(root, "sub/file.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(root, "sub/file.txt") {
		t.Errorf("got %q", got)
	}
}

func TestCreateFileTool_ErrorsIfExists(t *testing.T) {
	root := t.TempDir()
	tool := &createFileTool{root: root}
	args := map[string]any{"commentary": "c", "path": "a.txt", "content": "hi"}

	res, err := tool.Execute(context.Background(), args)
	if err != nil || res.Status != "ok" {
		t.Fatalf("first create failed: %+v %v", res, err)
	}

	res, err = tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "error" {
		t.Errorf("expected error status on duplicate create, got %+v", res)
	}
}

func TestCreateFileTool_RequiresCommentary(t *testing.T) {
	tool := &createFileTool{root: t.TempDir()}
	res, _ := tool.Execute(context.Background(), map[string]any{"path": "a.txt", "content": "hi"})
	if res.Status != "error" || res.Error != "commentary is required" {
		t.Errorf("res = %+v", res)
	}
}

func TestStrReplaceTool_RequiresExactlyOneMatchByDefault(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	os.WriteFile(path, []byte("foo foo"), 0o644)

	tool := &strReplaceTool{root: root}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"commentary": "c", "path": "f.txt", "old_str": "foo", "new_str": "bar",
	})
	if res.Status != "error" {
		t.Fatalf("expected error for ambiguous match, got %+v", res)
	}
}

func TestStrReplaceTool_ManyReplacesAll(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	os.WriteFile(path, []byte("foo foo"), 0o644)

	tool := &strReplaceTool{root: root}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"commentary": "c", "path": "f.txt", "old_str": "foo", "new_str": "bar", "many": true,
	})
	if res.Status != "ok" || res.Extra["replaced"] != 2 {
		t.Fatalf("res = %+v", res)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "bar bar" {
		t.Errorf("content = %q", data)
	}
}

func TestStrReplaceTool_SingleMatchSucceeds(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	os.WriteFile(path, []byte("foo bar"), 0o644)

	tool := &strReplaceTool{root: root}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"commentary": "c", "path": "f.txt", "old_str": "foo", "new_str": "baz",
	})
	if res.Status != "ok" {
		t.Fatalf("res = %+v", res)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "baz bar" {
		t.Errorf("content = %q", data)
	}
}

func TestOpenFileTool_WindowsLines(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "f.txt")
	os.WriteFile(path, []byte("a\nb\nc\nd"), 0o644)

	tool := &openFileTool{root: root}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"commentary": "c", "path": "f.txt", "start_line": 2, "end_line": 3,
	})
	if res.Status != "ok" || res.Extra["content"] != "b\nc" {
		t.Fatalf("res = %+v", res)
	}
}

func TestFindFilenameTool_CaseInsensitiveSemicolonPatterns(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "Main.GO"), []byte(""), 0o644)
	os.WriteFile(filepath.Join(root, "readme.md"), []byte(""), 0o644)
	os.MkdirAll(filepath.Join(root, "node_modules"), 0o755)
	os.WriteFile(filepath.Join(root, "node_modules", "x.go"), []byte(""), 0o644)

	tool := &findFilenameTool{root: root}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"commentary": "c", "path": ".", "pattern": "*.go;*.md",
	})
	matches, _ := res.Extra["matches"].([]string)
	if len(matches) != 2 {
		t.Fatalf("matches = %v, want 2 (node_modules excluded)", matches)
	}
}

func TestOutputTool_RejectsUnsupportedType(t *testing.T) {
	tool := &outputTool{}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"items": `[{"type":"bogus","content":"x"}]`,
	})
	if res.Status != "error" {
		t.Fatalf("res = %+v", res)
	}
}

func TestOutputTool_NormalizesItems(t *testing.T) {
	tool := &outputTool{}
	res, _ := tool.Execute(context.Background(), map[string]any{
		"items": `[{"type":"markdown","content":"hi"}]`,
	})
	if res.Status != "ok" {
		t.Fatalf("res = %+v", res)
	}
}
