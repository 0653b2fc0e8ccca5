package main

import (
	"bytes"
	"testing"

	"NeuralRoulette/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListStrategies(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"--list-strategies"}, &out, &errOut)

	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "top1")
	assert.Contains(t, out.String(), "top18")
}

func TestUnknownFlagIsUsageError(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, exitUsage, run([]string{"--bogus"}, &out, &errOut))
}

func TestFlagsOverrideConfig(t *testing.T) {
	var errOut bytes.Buffer
	opts, err := parseFlags([]string{"--strategy", "top18", "--simulate", "--spins", "40", "--balance", "25"}, &errOut)
	require.NoError(t, err)

	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Session.AutoTrain = true
	require.NoError(t, opts.apply(cfg))

	assert.Equal(t, "top18", cfg.Strategy)
	assert.Equal(t, "simulate", cfg.Feed.Source)
	assert.Equal(t, 40, cfg.Session.MaxSpins)
	assert.Equal(t, 25.0, cfg.Session.Balance)
	assert.True(t, cfg.Session.AutoTrain, "unset flags keep the configured value")
}

func TestInvalidStrategyIsUsageError(t *testing.T) {
	var errOut bytes.Buffer
	opts, err := parseFlags([]string{"--strategy", "top5"}, &errOut)
	require.NoError(t, err)
	cfg, err := config.Default()
	require.NoError(t, err)
	assert.Error(t, opts.apply(cfg))

	var out bytes.Buffer
	assert.Equal(t, exitUsage, run([]string{"--strategy", "top5", "--config", "testdata/none.yaml"}, &out, &errOut))
}
