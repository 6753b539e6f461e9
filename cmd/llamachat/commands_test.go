package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llamachat-hq/relay/pkg/cli"
)

// execute runs the root command with args and returns its output. Flag
// variables are reset first since the command tree is package state.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	usersFlags.output = "text"
	usersFlags.password = ""
	usersFlags.admin = false
	validateFlags.checkStore = false
	runFlags.listenAddress = ""
	runFlags.logLevel = ""
	runFlags.dryRun = false
	verbose = false

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func sqliteConfig(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "data", "relay.db")
	return writeConfig(t, "storage:\n  driver: sqlite\n  path: "+db+"\n")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "LlamaChat relay "+Version) || !strings.Contains(out, "Go Version:") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCommand(t *testing.T) {
	cfg := sqliteConfig(t)
	out, err := execute(t, "validate", "--config", cfg, "--check-store")
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "is valid") || !strings.Contains(out, "Store reachable") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCommand_MissingKeyPair(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "server:\n  tls:\n    enabled: true\n    cert_file: "+filepath.Join(dir, "relay.crt")+"\n    key_file: "+filepath.Join(dir, "relay.key")+"\n")
	_, err := execute(t, "validate", "--config", cfg)
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("exit code = %d (%v), want %d", cli.ExitCode(err), err, cli.ExitConfig)
	}
}

func TestValidateCommand_Invalid(t *testing.T) {
	cfg := writeConfig(t, "logging:\n  level: loud\n")
	_, err := execute(t, "validate", "--config", cfg)
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("error = %v", err)
	}
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("exit code = %d", cli.ExitCode(err))
	}
}

func TestValidateCommand_MissingExplicitFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("err = %v", err)
	}
}

func TestRunCommand_DryRun(t *testing.T) {
	out, err := execute(t, "run", "--config", sqliteConfig(t), "--dry-run", "--log-level", "warn")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Errorf("output = %q", out)
	}

	_, err = execute(t, "run", "--config", sqliteConfig(t), "--dry-run", "--log-level", "chatty")
	if cli.ExitCode(err) != cli.ExitConfig {
		t.Errorf("bad --log-level: err = %v", err)
	}
}

func TestUsersCommands(t *testing.T) {
	cfg := sqliteConfig(t)

	out, err := execute(t, "users", "create", "alice", "--config", cfg, "--password", "pw-alice")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if !strings.Contains(out, "admin=true") {
		t.Errorf("first user should be admin: %q", out)
	}

	out, err = execute(t, "users", "create", "bob", "--config", cfg, "--password", "pw-bob")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	if !strings.Contains(out, "admin=false") {
		t.Errorf("second user should not be admin: %q", out)
	}

	if _, err := execute(t, "users", "create", "bob", "--config", cfg, "--password", "x"); err == nil {
		t.Error("duplicate username accepted")
	}

	if _, err := execute(t, "users", "set-quota", "bob", "7", "--config", cfg); err != nil {
		t.Fatalf("set-quota: %v", err)
	}
	if _, err := execute(t, "users", "set-quota", "bob", "-1", "--config", cfg); err == nil {
		t.Error("negative quota accepted")
	}
	if _, err := execute(t, "users", "set-quota", "carol", "5", "--config", cfg); err == nil {
		t.Error("unknown user accepted")
	}

	out, err = execute(t, "users", "list", "--config", cfg, "--output", "json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var rows []map[string]string
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		t.Fatalf("list output %q: %v", out, err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[1]["username"] != "bob" || rows[1]["quota"] != "7" || rows[1]["last login"] != "never" {
		t.Errorf("bob = %v", rows[1])
	}
}

func TestUsersCommands_RejectMemoryStore(t *testing.T) {
	cfg := writeConfig(t, "storage:\n  driver: memory\n")
	if _, err := execute(t, "users", "list", "--config", cfg); err == nil {
		t.Error("memory store accepted")
	}
}
