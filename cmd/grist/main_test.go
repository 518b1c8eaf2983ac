package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"grist/internal/store"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	contents := fmt.Sprintf(`[paths]
data_dir = %q
documents_dir = %q
log_dir = %q

[ai]
api_key = "test"
`,
		filepath.Join(base, "data"),
		filepath.Join(base, "documents"),
		filepath.Join(base, "logs"))
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return configPath
}

func runCommand(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", configPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

var idPattern = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)

func TestCLIDocumentAndJobLifecycle(t *testing.T) {
	configPath := writeTestConfig(t)

	csvPath := filepath.Join(t.TempDir(), "invoice.csv")
	if err := os.WriteFile(csvPath, []byte("invoice_number,total_amount\nINV-1,10\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, err := runCommand(t, configPath, "document", "add", csvPath)
	if err != nil {
		t.Fatalf("document add: %v\n%s", err, out)
	}
	docID := idPattern.FindString(out)
	if docID == "" {
		t.Fatalf("no document id in output: %s", out)
	}

	out, err = runCommand(t, configPath, "job", "create", docID)
	if err != nil {
		t.Fatalf("job create: %v\n%s", err, out)
	}
	jobID := idPattern.FindString(out)
	if jobID == "" {
		t.Fatalf("no job id in output: %s", out)
	}

	// A second job for the same document conflicts while one is active.
	if out, err := runCommand(t, configPath, "job", "create", docID); err == nil {
		t.Fatalf("expected conflict, got: %s", out)
	}

	out, err = runCommand(t, configPath, "job", "status", jobID)
	if err != nil {
		t.Fatalf("job status: %v\n%s", err, out)
	}
	if !strings.Contains(out, "pending") {
		t.Fatalf("status output = %s", out)
	}

	out, err = runCommand(t, configPath, "job", "list", "--status", "pending")
	if err != nil {
		t.Fatalf("job list: %v\n%s", err, out)
	}
	if !strings.Contains(out, jobID[:8]) {
		t.Fatalf("list output missing job: %s", out)
	}

	out, err = runCommand(t, configPath, "job", "cancel", jobID)
	if err != nil {
		t.Fatalf("job cancel: %v\n%s", err, out)
	}
	if !strings.Contains(out, "canceled") {
		t.Fatalf("cancel output = %s", out)
	}

	// Terminal jobs refuse another cancel.
	if out, err := runCommand(t, configPath, "job", "cancel", jobID); err == nil {
		t.Fatalf("expected terminal-cancel error, got: %s", out)
	}

	out, err = runCommand(t, configPath, "health")
	if err != nil {
		t.Fatalf("health: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Canceled:    1") {
		t.Fatalf("health output = %s", out)
	}
}

func TestCLIDocumentAddRejectsUnsupported(t *testing.T) {
	configPath := writeTestConfig(t)
	badPath := filepath.Join(t.TempDir(), "scan.pdf")
	if err := os.WriteFile(badPath, []byte("%PDF"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if out, err := runCommand(t, configPath, "document", "add", badPath); err == nil {
		t.Fatalf("expected unsupported-type error, got: %s", out)
	}
}

func TestCLIJobStatusUnknown(t *testing.T) {
	configPath := writeTestConfig(t)
	if out, err := runCommand(t, configPath, "job", "status", "does-not-exist"); err == nil {
		t.Fatalf("expected not-found error, got: %s", out)
	}
}

func TestCLIJobListHelpNamesAllStatuses(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCommand(t, configPath, "job", "list", "--help")
	if err != nil {
		t.Fatalf("job list --help: %v\n%s", err, out)
	}
	for _, status := range store.AllJobStatuses() {
		if !strings.Contains(out, string(status)) {
			t.Errorf("help output missing status %q:\n%s", status, out)
		}
	}
}

func TestCLIConfigValidate(t *testing.T) {
	configPath := writeTestConfig(t)
	out, err := runCommand(t, configPath, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("output = %s", out)
	}
}
