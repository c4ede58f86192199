// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, RegistryMemory, cfg.RegistryBackend)
	assert.Equal(t, 60*time.Second, cfg.StageTimeout)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("V2D_LISTEN", ":9999")
	t.Setenv("V2D_MAX_UPLOAD_BYTES", "1048576")
	t.Setenv("V2D_STAGE_TIMEOUT", "5s")
	t.Setenv("V2D_JOB_TTL", "1h")
	t.Setenv("V2D_API_TOKENS", "alice:tok-a,bob:tok-b")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, int64(1<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 5*time.Second, cfg.StageTimeout)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Equal(t, "alice", cfg.APITokens["tok-a"])
	assert.Equal(t, "bob", cfg.APITokens["tok-b"])
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listenAddr: \":7070\"\nstageTimeout: 10s\n"), 0o600))

	t.Setenv("V2D_LISTEN", ":7171")

	cfg, err := Load(path)
	require.NoError(t, err)
	// env wins over file
	assert.Equal(t, ":7171", cfg.ListenAddr)
	// file wins over defaults
	assert.Equal(t, 10*time.Second, cfg.StageTimeout)
}

func TestLoadRejectsInvalidBackend(t *testing.T) {
	t.Setenv("V2D_REGISTRY", "etcd")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown registry backend")
}

func TestParseTokenPairs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		want    map[string]string
	}{
		{
			name: "single pair",
			raw:  "alice:secret",
			want: map[string]string{"secret": "alice"},
		},
		{
			name: "multiple with spaces",
			raw:  " alice:a , bob:b ",
			want: map[string]string{"a": "alice", "b": "bob"},
		},
		{
			name:    "missing colon",
			raw:     "alice",
			wantErr: true,
		},
		{
			name:    "empty token",
			raw:     "alice:",
			wantErr: true,
		},
		{
			name:    "duplicate token",
			raw:     "alice:x,bob:x",
			wantErr: true,
		},
		{
			name: "trailing comma",
			raw:  "alice:a,",
			want: map[string]string{"a": "alice"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTokenPairs(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateCollaboratorURLs(t *testing.T) {
	cfg := Defaults()
	cfg.TranscribeBaseURL = "ftp://example.com"
	require.Error(t, cfg.Validate())

	cfg.TranscribeBaseURL = "https://stt.example.com"
	cfg.ExtractBaseURL = "https://ai.example.com/v1"
	require.NoError(t, cfg.Validate())
}
