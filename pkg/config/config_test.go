package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/docgen")
	t.Setenv("RABBITMQ_URL", "amqp://localhost")
	t.Setenv("RESULT_SIGNING_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.ListenAddr)
	assert.Equal(t, 10, c.WorkerConcurrency)
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, 30*time.Minute, c.JobTTL)
	assert.Equal(t, 24*time.Hour, c.ResultRetention)
	assert.Equal(t, 5*time.Minute, c.GenerationTimeout)
	assert.Equal(t, 10*time.Minute, c.ProcessingCeiling)
	assert.Equal(t, 15*time.Minute, c.ResultHandleTTL)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("JOB_TTL", "2h")
	t.Setenv("GENERATION_TIMEOUT", "10m")
	t.Setenv("PROCESSING_CEILING", "45m")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, c.WorkerConcurrency)
	assert.Equal(t, 2*time.Hour, c.JobTTL)
	assert.Equal(t, 10*time.Minute, c.GenerationTimeout)
	assert.Equal(t, 45*time.Minute, c.ProcessingCeiling)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RABBITMQ_URL", "amqp://localhost")
	t.Setenv("RESULT_SIGNING_SECRET", "secret")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsTTLBelowTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv("JOB_TTL", "2m")
	t.Setenv("GENERATION_TIMEOUT", "5m")

	_, err := Load()
	assert.Error(t, err)
}
