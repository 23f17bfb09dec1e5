package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dentameet/matching-engine/config"
	"github.com/dentameet/matching-engine/internal/domain/profile"
	"github.com/dentameet/matching-engine/internal/infrastructure/messaging"
	"github.com/dentameet/matching-engine/internal/infrastructure/persistence/memory"
	"github.com/dentameet/matching-engine/pkg/logger"
)

func TestLoadSeed(t *testing.T) {
	repo := memory.NewProfileRepository()
	input := `[
		{"id": "p1", "role": "seeker", "locality": "Centro", "interest_tags": ["Limpieza"], "onboarding_completed": true},
		{"id": "s1", "role": "provider", "locality": "Centro", "offer_tags": ["limpieza"], "onboarding_completed": true}
	]`

	n, err := loadSeed(context.Background(), strings.NewReader(input), repo)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := repo.GetProfile(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, profile.RoleProvider, got.Role)
}

func TestLoadSeed_Errors(t *testing.T) {
	repo := memory.NewProfileRepository()

	_, err := loadSeed(context.Background(), strings.NewReader(`{"id":"x"}`), repo)
	assert.Error(t, err)

	n, err := loadSeed(context.Background(), strings.NewReader(`[{"id":"ok","role":"seeker"},{"id":""}]`), repo)
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	_, err = loadSeedFile(context.Background(), "/does/not/exist.json", repo)
	assert.Error(t, err)
}

func TestOpenStores_MemoryBackend(t *testing.T) {
	cfg := &config.Config{Matching: config.MatchingConfig{LedgerBackend: config.LedgerMemory}}

	st, err := openStores(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer st.Close()

	assert.True(t, st.inMemoryProfiles)
	assert.Nil(t, st.pg)
	assert.NotNil(t, st.ledger)

	cfg.Matching.LedgerBackend = config.LedgerPostgres
	_, err = openStores(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)

	cfg.Matching.LedgerBackend = "cassandra"
	_, err = openStores(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &config.Config{
		App:           config.AppConfig{Name: "matching-engine"},
		Observability: config.ObservabilityConfig{LogLevel: "warn", LogFormat: "json"},
	}

	log := setupLogger(cfg, &buf)
	log.Info("hidden")
	log.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"service":"matching-engine"`)
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Setenv("MATCHING_LEDGER_BACKEND", "memory")
	err := run(context.Background(), []string{"explode"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestStartJobs(t *testing.T) {
	cfg := &config.Config{Webhook: config.WebhookConfig{RedeliverInterval: time.Minute}}
	d := messaging.NewDispatcher(messaging.DispatcherConfig{})
	defer d.Stop()

	sched, err := startJobs(context.Background(), cfg, d, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer func() { _ = sched.Stop() }()

	names := []string{}
	for _, j := range sched.ListJobs() {
		names = append(names, j.Name+" "+j.Schedule)
	}
	assert.Equal(t, []string{"redeliver_dead_letters @every 1m0s", "report_delivery_stats @every 5m0s"}, names)
	assert.True(t, sched.IsRunning())
}
