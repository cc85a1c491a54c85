package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/solatis/rulekeeper/internal/types"
)

const testDirectory = `{
  "fields": {"1": {"id": 1, "name": "Department", "type": "select"}},
  "users": {
    "1": {"id": 1, "email": "one@example.com", "values": {"1": [10]}},
    "2": {"id": 2, "email": "two@example.com", "values": {"1": [20]}},
    "3": {"id": 3, "email": "three@example.com", "values": {"1": [10]}}
  }
}`

const testRule = `{
  "name": "Department ten",
  "logical_operator": "and",
  "expressions": [
    {"operand_type": "select", "operand": "1", "conditional_operator": "is", "value": "10"}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) string {
	t.Helper()
	runRuleFile, ruleFile, directoryArg, adminID, actorID = "", "-", "", 0, 0

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("rulekeeper %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestCLI_RuleLifecycle(t *testing.T) {
	tmp := t.TempDir()
	dbURL := "--db-url=sqlite://" + filepath.Join(tmp, "cli.db")
	directory := writeFile(t, tmp, "directory.json", testDirectory)
	rulePath := writeFile(t, tmp, "rule.json", testRule)

	run(t, "migrate", "up", dbURL)
	if out := run(t, "migrate", "status", dbURL); strings.Contains(out, "pending") {
		t.Errorf("migrations pending after up:\n%s", out)
	}
	run(t, "import", directory, dbURL)

	var created types.Rule
	if err := json.Unmarshal([]byte(run(t, "rule", "create", "--file", rulePath, "--actor", "2", dbURL)), &created); err != nil {
		t.Fatalf("rule create output: %v", err)
	}
	if created.ID == "" || created.Name != "Department ten" {
		t.Fatalf("unexpected created rule: %+v", created)
	}

	if got := strings.Fields(run(t, "rule", "users", string(created.ID), dbURL)); strings.Join(got, ",") != "1,3" {
		t.Errorf("rule users = %v, want [1 3]", got)
	}

	if out := run(t, "rule", "list", dbURL); !strings.Contains(out, string(created.ID)) {
		t.Errorf("rule list missing %s:\n%s", created.ID, out)
	}

	if out := run(t, "rule", "revisions", string(created.ID), dbURL); !strings.Contains(out, "Created") {
		t.Errorf("rule revisions missing create:\n%s", out)
	}

	sql := run(t, "rule", "sql", "--file", rulePath, "--directory", directory)
	if !strings.HasPrefix(sql, "SELECT users.id FROM users WHERE ") {
		t.Errorf("rule sql output:\n%s", sql)
	}

	var check struct {
		UserID  int64 `json:"user_id"`
		Matched bool  `json:"matched"`
	}
	for user, want := range map[string]bool{"1": true, "2": false} {
		out := run(t, "rule", "check", "--file", rulePath, "--directory", directory, "--user", user)
		if err := json.Unmarshal([]byte(out), &check); err != nil {
			t.Fatalf("rule check output: %v\n%s", err, out)
		}
		if check.Matched != want {
			t.Errorf("rule check user %s = %v, want %v", user, check.Matched, want)
		}
	}

	run(t, "rule", "delete", string(created.ID), dbURL)
	if out := run(t, "rule", "list", dbURL); strings.Contains(out, string(created.ID)) {
		t.Errorf("deleted rule still listed:\n%s", out)
	}
}
