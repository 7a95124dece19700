package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8135, cfg.Server.Port)
	assert.Equal(t, "ANTHROPIC_API_KEY", cfg.Model.APIKeyEnv)
	assert.Equal(t, 200000, cfg.Model.ContextWindow)
	assert.Equal(t, 120*time.Second, cfg.Limits.CommandTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
model:
  model: claude-opus-4-20250514
  idle_timeout: 30s
limits:
  deny_patterns:
    - "rm -rf /"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "claude-opus-4-20250514", cfg.Model.Model)
	assert.Equal(t, 30*time.Second, cfg.Model.IdleTimeout)
	assert.Equal(t, []string{"rm -rf /"}, cfg.Limits.DenyPatterns)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host, "unset fields keep defaults")
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("FORGE_TEST_STATE", "/tmp/forge-test-state")
	path := filepath.Join(t.TempDir(), "forge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("state_dir: ${FORGE_TEST_STATE}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/forge-test-state", cfg.StateDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/forge.yaml")
	assert.Error(t, err)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	assert.ErrorContains(t, cfg.Validate(), "invalid port")

	cfg = Default()
	cfg.Workspace.Dir = "/a"
	cfg.Workspace.SSH = "dev@box:/b"
	assert.ErrorContains(t, cfg.Validate(), "mutually exclusive")

	cfg = Default()
	cfg.Workspace.SSH = "not-a-target"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Model.MaxTokens = 0
	assert.ErrorContains(t, cfg.Validate(), "max_tokens")
}

func TestAPIKeyResolution(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKeyEnv = "FORGE_TEST_KEY"
	t.Setenv("FORGE_TEST_KEY", "sk-test")
	assert.Equal(t, "sk-test", cfg.APIKey())
}

func TestParseSSHTarget(t *testing.T) {
	cases := []struct {
		raw  string
		want SSHTarget
		ok   bool
	}{
		{"dev@build-box:/home/dev/app", SSHTarget{User: "dev", Host: "build-box", Port: 22, Dir: "/home/dev/app"}, true},
		{"dev@10.0.0.5:2222:/srv/app", SSHTarget{User: "dev", Host: "10.0.0.5", Port: 2222, Dir: "/srv/app"}, true},
		{"root@host:/", SSHTarget{User: "root", Host: "host", Port: 22, Dir: "/"}, true},
		{"no-user-host", SSHTarget{}, false},
		{"@host:/dir", SSHTarget{}, false},
		{"dev@host", SSHTarget{}, false},
		{"dev@host:bad:/dir", SSHTarget{}, false},
		{"dev@:/dir", SSHTarget{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			got, err := ParseSSHTarget(tc.raw)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSSHTargetStringRoundTrip(t *testing.T) {
	target, err := ParseSSHTarget("dev@box:2200:/srv/app")
	require.NoError(t, err)
	assert.Equal(t, "dev@box:2200:/srv/app", target.String())

	again, err := ParseSSHTarget(target.String())
	require.NoError(t, err)
	assert.Equal(t, target, again)
}
