package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.myalii.app/api", cfg.SourceBaseURL)
	assert.Equal(t, ModeAll, cfg.SourceMode)
	assert.Equal(t, "FinalReview", cfg.SourceStage)
	assert.Equal(t, 2000, cfg.SourcePageSize)
	assert.Equal(t, 20, cfg.SourceMaxPages)
	assert.Equal(t, 60*time.Second, cfg.SourceTimeout)
	assert.Equal(t, 12, cfg.BatchWorkers)
	assert.Equal(t, "[Ledger Integration]", cfg.NotifySubjectPrefix)
	assert.False(t, cfg.NotificationsEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SOURCE_BASE_URL", "https://ap.example.test/api/")
	t.Setenv("SOURCE_MODE", ModeReadyForPost)
	t.Setenv("SOURCE_ENTITY_ID", "42")
	t.Setenv("BATCH_WORKERS", "4")
	t.Setenv("SOURCE_TIMEOUT", "5s")
	t.Setenv("SMTP_HOST", "smtp.example.test")
	t.Setenv("SMTP_FROM", "ap-sync@example.test")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://ap.example.test/api", cfg.SourceBaseURL)
	assert.Equal(t, ModeReadyForPost, cfg.SourceMode)
	assert.Equal(t, "42", cfg.SourceEntityID)
	assert.Equal(t, 4, cfg.BatchWorkers)
	assert.Equal(t, 5*time.Second, cfg.SourceTimeout)
	assert.True(t, cfg.NotificationsEnabled())
}

func TestLoadFileWithEnvironmentOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoicesync.yaml")
	content := "source_client_id: file-client\nbatch_workers: 3\nledger_database: /tmp/file.db\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("BATCH_WORKERS", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "file-client", cfg.SourceClientID)
	assert.Equal(t, "/tmp/file.db", cfg.LedgerDatabase)
	assert.Equal(t, 7, cfg.BatchWorkers)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown mode", key: "SOURCE_MODE", val: "everything"},
		{name: "zero workers", key: "BATCH_WORKERS", val: "0"},
		{name: "non numeric page size", key: "SOURCE_PAGE_SIZE", val: "lots"},
		{name: "bad duration", key: "SOURCE_TIMEOUT", val: "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidateSource(t *testing.T) {
	cfg := &Config{SourceMode: ModeAll}
	assert.ErrorContains(t, cfg.ValidateSource(), "SOURCE_CLIENT_ID")

	cfg.SourceClientID = "id"
	assert.ErrorContains(t, cfg.ValidateSource(), "SOURCE_CLIENT_SECRET")

	cfg.SourceClientSecret = "secret"
	assert.NoError(t, cfg.ValidateSource())

	cfg.SourceMode = ModeReadyForPost
	assert.ErrorContains(t, cfg.ValidateSource(), "SOURCE_ENTITY_ID")
}

func TestValidateNotify(t *testing.T) {
	cfg := &Config{}
	assert.NoError(t, cfg.ValidateNotify())

	cfg.NotifyRecipients = "ap@example.test"
	assert.ErrorContains(t, cfg.ValidateNotify(), "SMTP_HOST")

	cfg.SMTPHost = "smtp.example.test"
	assert.ErrorContains(t, cfg.ValidateNotify(), "SMTP_FROM")

	cfg.SMTPFrom = "sync@example.test"
	assert.NoError(t, cfg.ValidateNotify())
}
