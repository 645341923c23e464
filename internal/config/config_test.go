package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "LLM_PROVIDER", "OPENAI_API_KEY", "OPENAI_API_KEY_FILE",
		"OPENAI_BASE_URL", "OPENAI_MODEL", "OPENAI_TEMPERATURE", "OPENAI_MAX_TOKENS",
		"COMPLETION_TIMEOUT", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "ARK_MODEL",
		"DEFAULT_PERSONA", "SWITCH_POLICY", "CATALOG_PATH",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	require.Equal(t, "gpt-4", cfg.AI.Model)
	require.Equal(t, "https://api.openai.com/v1", cfg.AI.BaseURL)
	require.Equal(t, 30*time.Second, cfg.AI.Timeout)
	require.Nil(t, cfg.AI.Temperature)
	require.Nil(t, cfg.AI.MaxTokens)
	require.Equal(t, "Helper Bot", cfg.Chat.DefaultPersona)
	require.Equal(t, SwitchRetain, cfg.Chat.SwitchPolicy)
}

func TestLoadMissingCredentialFailsFast(t *testing.T) {
	clearEnv(t)

	_, err := Load()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "OPENAI_API_KEY", cfgErr.Key)
}

func TestLoadCredentialFromSecretFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "openai_api_key")
	require.NoError(t, os.WriteFile(path, []byte("sk-from-file\n"), 0o600))
	t.Setenv("OPENAI_API_KEY_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "sk-from-file", cfg.AI.APIKey)
}

func TestLoadSamplingOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_TEMPERATURE", "0.2")
	t.Setenv("OPENAI_MAX_TOKENS", "512")
	t.Setenv("COMPLETION_TIMEOUT", "5s")
	t.Setenv("PORT", "127.0.0.1:9000")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.AI.Temperature)
	require.InDelta(t, 0.2, *cfg.AI.Temperature, 1e-9)
	require.NotNil(t, cfg.AI.MaxTokens)
	require.Equal(t, 512, *cfg.AI.MaxTokens)
	require.Equal(t, 5*time.Second, cfg.AI.Timeout)
	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
}

func TestLoadRejectsUnknownSwitchPolicy(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SWITCH_POLICY", "forget")

	_, err := Load()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "SWITCH_POLICY", cfgErr.Key)
}

func TestLoadArkRequiresModel(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "ark")
	t.Setenv("ARK_API_KEY", "ark-key")

	_, err := Load()
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	require.Equal(t, "ARK_API_KEY", cfgErr.Key)
}

func TestNormalizeAddr(t *testing.T) {
	cases := []struct {
		port    string
		want    string
		wantErr bool
	}{
		{"8080", ":8080", false},
		{":9090", ":9090", false},
		{"", ":8080", false},
		{"80 80", "", true},
	}
	for _, tc := range cases {
		got, err := normalizeAddr(tc.port)
		if tc.wantErr {
			require.Error(t, err, "port=%q", tc.port)
			continue
		}
		require.NoError(t, err, "port=%q", tc.port)
		require.Equal(t, tc.want, got)
	}
}

func TestLoadCatalogIgnoresCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("CATALOG_PATH", "/tmp/personas.yaml")

	cfg, err := LoadCatalog()
	require.NoError(t, err)
	require.Equal(t, "/tmp/personas.yaml", cfg.Catalog.Path)
	require.Equal(t, "Helper Bot", cfg.Chat.DefaultPersona)
}
