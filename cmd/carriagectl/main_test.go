package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aodjo/KakaoForge-sub001/internal/auth"
	"github.com/aodjo/KakaoForge-sub001/internal/config"
)

func TestResolveConfigPathPrecedence(t *testing.T) {
	t.Setenv(envConfigPath, "")
	if got := resolveConfigPath(""); got != defaultConfigPath {
		t.Fatalf("expected default path, got %q", got)
	}
	t.Setenv(envConfigPath, "/etc/carriagectl.toml")
	if got := resolveConfigPath(" "); got != "/etc/carriagectl.toml" {
		t.Fatalf("expected env path, got %q", got)
	}
	if got := resolveConfigPath("local.toml"); got != "local.toml" {
		t.Fatalf("expected flag path, got %q", got)
	}
}

func TestStatusGuard(t *testing.T) {
	if statusGuard(config.StatusConfig{}) != nil {
		t.Fatalf("expected open status routes without a token")
	}
	guard := statusGuard(config.StatusConfig{Token: "abc"})
	if guard == nil {
		t.Fatalf("expected a guard")
	}
	if err := guard.Validate("abc"); err != nil {
		t.Fatalf("expected token accepted: %v", err)
	}
	if err := guard.Validate("abd"); err == nil {
		t.Fatalf("expected wrong token rejected")
	}
}

func TestRunFailsOnMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[directory]
addr = "127.0.0.1:1"
[auth]
file = "` + filepath.ToSlash(filepath.Join(dir, "missing.json")) + `"
[status]
addr = ""
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	err := run(options{configPath: path})
	if err == nil || !strings.Contains(err.Error(), "read artifact") {
		t.Fatalf("expected artifact error, got %v", err)
	}
}

func TestRunRejectsIncompleteArtifact(t *testing.T) {
	dir := t.TempDir()
	artifact := filepath.Join(dir, "auth.json")
	if err := os.WriteFile(artifact, []byte(`{"userId":"9007199254740993","deviceUuid":"d-1"}`), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	path := filepath.Join(dir, "config.toml")
	body := `
[directory]
addr = "127.0.0.1:1"
[auth]
file = "` + filepath.ToSlash(artifact) + `"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := run(options{configPath: path}); err == nil || !strings.Contains(err.Error(), auth.ErrCredentialRequired.Error()) {
		t.Fatalf("expected credential error, got %v", err)
	}
}
