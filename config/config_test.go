package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MATCHING_LEDGER_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, LedgerMemory, cfg.Matching.LedgerBackend)
	assert.Equal(t, 10, cfg.Matching.DefaultLimit)
	assert.Equal(t, 100, cfg.Matching.PoolSize)
	assert.True(t, cfg.Matching.FuzzyRoleTier)
	assert.True(t, cfg.Matching.UnrestrictedTier)
	assert.Equal(t, []string{"*"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, time.Minute, cfg.Webhook.RedeliverInterval)
	assert.False(t, cfg.HTTP.TrustProxyHeaders)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MATCHING_LEDGER_BACKEND", "DynamoDB")
	t.Setenv("DYNAMO_TABLE", "pairs")
	t.Setenv("MATCHING_UNRESTRICTED_TIER", "false")
	t.Setenv("MATCHING_PROFILE_CACHE_TTL", "90s")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("WEBHOOK_RATE_LIMIT", "2.5")
	t.Setenv("WEBHOOK_REDELIVER_INTERVAL", "0s")
	t.Setenv("HTTP_TRUST_PROXY_HEADERS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, LedgerDynamoDB, cfg.Matching.LedgerBackend)
	assert.Equal(t, "pairs", cfg.Dynamo.Table)
	assert.False(t, cfg.Matching.UnrestrictedTier)
	assert.Equal(t, 90*time.Second, cfg.Matching.ProfileCacheTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.Webhook.RequestsPerSecond)
	assert.Zero(t, cfg.Webhook.RedeliverInterval)
	assert.True(t, cfg.HTTP.TrustProxyHeaders)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgres ledger without database",
			env:     map[string]string{"MATCHING_LEDGER_BACKEND": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"MATCHING_LEDGER_BACKEND": "sqlite"},
			wantErr: "MATCHING_LEDGER_BACKEND",
		},
		{
			name:    "memory in production",
			env:     map[string]string{"MATCHING_LEDGER_BACKEND": "memory", "APP_ENV": "production"},
			wantErr: "not allowed in production",
		},
		{
			name:    "pool smaller than max limit",
			env:     map[string]string{"MATCHING_LEDGER_BACKEND": "memory", "MATCHING_POOL_SIZE": "20"},
			wantErr: "MATCHING_POOL_SIZE",
		},
		{
			name: "database url from parts",
			env: map[string]string{
				"MATCHING_LEDGER_BACKEND": "postgres",
				"DB_HOST":                 "db",
				"DB_USER":                 "app",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
