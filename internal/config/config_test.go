package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir moves the process into dir for the duration of the test so Load
// picks up (or misses) config.yaml deterministically.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestLoad(t *testing.T) {
	t.Run("file values survive env processing", func(t *testing.T) {
		dir := t.TempDir()
		content := "" +
			"server:\n" +
			"  port: 9090\n" +
			"security:\n" +
			"  enforce_revocation: true\n" +
			"paths:\n" +
			"  ledger_file: var/ledger.json\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))
		chdir(t, dir)

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.True(t, cfg.Security.EnforceRevocation)
		assert.Equal(t, "var/ledger.json", cfg.Paths.LedgerFile)
		// fields absent from the file keep their defaults
		assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("documented env names bind", func(t *testing.T) {
		chdir(t, t.TempDir())
		t.Setenv("KEYGATE_SECURITY_ADMIN_TOKEN", "env-admin")
		t.Setenv("KEYGATE_SECURITY_DERIVATION_SECRET", "env-secret")
		t.Setenv("KEYGATE_SERVER_PORT", "9191")
		t.Setenv("KEYGATE_SECURITY_ENFORCE_REVOCATION", "true")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "env-admin", cfg.Security.AdminToken)
		assert.Equal(t, "env-secret", cfg.Security.DerivationSecret)
		assert.Equal(t, 9191, cfg.Server.Port)
		assert.True(t, cfg.Security.EnforceRevocation)

		derivation, admin := cfg.UsingDefaultSecrets()
		assert.False(t, derivation)
		assert.False(t, admin)
	})

	t.Run("env wins over file", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
			[]byte("server:\n  port: 9090\n"), 0o644))
		chdir(t, dir)
		t.Setenv("KEYGATE_SERVER_PORT", "9292")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 9292, cfg.Server.Port)
	})

	t.Run("no file, no env yields defaults plus fallback secrets", func(t *testing.T) {
		chdir(t, t.TempDir())

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, DefaultAdminToken, cfg.Security.AdminToken)
		assert.Equal(t, DefaultDerivationSecret, cfg.Security.DerivationSecret)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "data/ledger.json", cfg.Paths.LedgerFile)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "stdout", cfg.Tracing.Exporter)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.False(t, cfg.Security.EnforceRevocation)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.applySecretFallbacks()
		return cfg
	}

	t.Run("defaults pass", func(t *testing.T) {
		require.NoError(t, valid().validate())
	})

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"zero read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }},
		{"zero write timeout", func(c *Config) { c.Server.WriteTimeout = 0 }},
		{"empty ledger path", func(c *Config) { c.Paths.LedgerFile = "" }},
		{"bad logging output", func(c *Config) { c.Logging.Output = "syslog" }},
		{"bad tracing exporter", func(c *Config) { c.Tracing.Exporter = "otlp" }},
		{"sample ratio above one", func(c *Config) { c.Tracing.SampleRatio = 1.5 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestSecretFallbacks(t *testing.T) {
	t.Run("empty secrets fall back to dev defaults", func(t *testing.T) {
		cfg := Default()
		cfg.applySecretFallbacks()

		assert.Equal(t, DefaultDerivationSecret, cfg.Security.DerivationSecret)
		assert.Equal(t, DefaultAdminToken, cfg.Security.AdminToken)

		derivation, admin := cfg.UsingDefaultSecrets()
		assert.True(t, derivation)
		assert.True(t, admin)
	})

	t.Run("configured secrets are kept", func(t *testing.T) {
		cfg := Default()
		cfg.Security.DerivationSecret = "prod-derivation"
		cfg.Security.AdminToken = "prod-admin"
		cfg.applySecretFallbacks()

		derivation, admin := cfg.UsingDefaultSecrets()
		assert.False(t, derivation)
		assert.False(t, admin)
	})
}

func TestMerge(t *testing.T) {
	dst := Default()
	file := &Config{}
	file.Server.Port = 9090
	file.Security.AdminToken = "from-file"
	file.Security.EnforceRevocation = true
	file.Paths.LedgerFile = "var/ledger.json"

	merge(dst, file)

	assert.Equal(t, 9090, dst.Server.Port)
	assert.Equal(t, "from-file", dst.Security.AdminToken)
	assert.True(t, dst.Security.EnforceRevocation)
	assert.Equal(t, "var/ledger.json", dst.Paths.LedgerFile)
	// untouched fields keep defaults
	assert.Equal(t, 15*time.Second, dst.Server.ReadTimeout)
	assert.Equal(t, "info", dst.Logging.Level)
}
