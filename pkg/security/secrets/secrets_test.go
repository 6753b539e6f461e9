package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"llamachat-hq/relay/pkg/config"
)

func TestEnvProvider(t *testing.T) {
	t.Setenv("TEST_SECRET_SESSION_SECRET", "from-env")
	p := NewEnvProvider("TEST_SECRET_")

	got, err := p.GetSecret(context.Background(), "session-secret")
	if err != nil || got != "from-env" {
		t.Errorf("GetSecret = %q, %v", got, err)
	}
	if _, err := p.GetSecret(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing secret err = %v", err)
	}
	if NewEnvProvider("").prefix != DefaultEnvPrefix {
		t.Error("empty prefix did not default")
	}
}

func TestFileProvider(t *testing.T) {
	dir := t.TempDir()
	write := func(name, value string, mode os.FileMode) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(value), mode); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(filepath.Join(dir, name), mode); err != nil {
			t.Fatal(err)
		}
	}
	write("session-secret", "from-file\n", 0o600)
	write("loose", "x", 0o644)

	p, err := NewFileProvider(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if got, err := p.GetSecret(ctx, "session-secret"); err != nil || got != "from-file" {
		t.Errorf("GetSecret = %q, %v", got, err)
	}
	if _, err := p.GetSecret(ctx, "absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("absent err = %v", err)
	}
	if _, err := p.GetSecret(ctx, "loose"); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("world-readable file err = %v", err)
	}
	if _, err := p.GetSecret(ctx, "../etc/passwd"); err == nil {
		t.Error("traversal accepted")
	}

	if _, err := NewFileProvider(filepath.Join(dir, "nope")); err == nil {
		t.Error("missing directory accepted")
	}
}

func TestResolver_Resolve(t *testing.T) {
	t.Setenv("RESOLVE_TEST_A", "alpha")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b"), []byte("beta"), 0o600); err != nil {
		t.Fatal(err)
	}

	r, err := FromConfig(config.SecretsConfig{EnvPrefix: "RESOLVE_TEST_", Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := r.Resolve(ctx, "${secret:a}-${secret:b}")
	if err != nil || got != "alpha-beta" {
		t.Errorf("Resolve = %q, %v", got, err)
	}

	got, err = r.Resolve(ctx, "${secret:a}/${secret:c}")
	if err == nil || !strings.Contains(err.Error(), "c") {
		t.Errorf("err = %v", err)
	}
	if got != "alpha/${secret:c}" {
		t.Errorf("partial = %q", got)
	}

	if got, err := r.Resolve(ctx, "plain"); err != nil || got != "plain" {
		t.Errorf("plain = %q, %v", got, err)
	}
}

func TestIsReference(t *testing.T) {
	if !IsReference("${secret:x}") || IsReference("secret:x") || IsReference("${secret:}") {
		t.Error("IsReference mismatch")
	}
}
