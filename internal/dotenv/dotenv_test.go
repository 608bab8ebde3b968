package dotenv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()
	content := "" +
		"# comment\n" +
		"PLAIN=loaded\n" +
		"QUOTED=\"hello world\"\n" +
		"SINGLE='one two'\n" +
		"export EXPORTED=ok\n" +
		"REPEATED=first\n" +
		"REPEATED=second\n" +
		"=no_key\n"
	vars, err := Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	want := map[string]string{
		"PLAIN":    "loaded",
		"QUOTED":   "hello world",
		"SINGLE":   "one two",
		"EXPORTED": "ok",
		"REPEATED": "second",
	}
	if len(vars) != len(want) {
		t.Fatalf("Parse returned %d vars, want %d: %v", len(vars), len(want), vars)
	}
	for key, val := range want {
		if vars[key] != val {
			t.Errorf("%s=%q, want %q", key, vars[key], val)
		}
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "FROM_FILE=loaded\nEXISTING=from_file\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXISTING", "already_set")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	if got := os.Getenv("FROM_FILE"); got != "loaded" {
		t.Fatalf("FROM_FILE=%q, want %q", got, "loaded")
	}
	if got := os.Getenv("EXISTING"); got != "already_set" {
		t.Fatalf("EXISTING=%q, want existing value preserved", got)
	}
}
