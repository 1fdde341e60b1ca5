package model_test

import (
	"strings"
	"testing"
	"time"

	"github.com/CZERTAINLY/scriptd/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SCRIPTD_TEST_PORT", "9191")
	yml := `
version: 0
service:
  verbose: true
  log: discard
  log_format: text
http:
  addr: "127.0.0.1:${SCRIPTD_TEST_PORT}"
executor:
  workers: 2
  log_capacity: 1024
  timeout: PT1M30S
  max_steps: 1000
events:
  kafka:
    enabled: true
    brokers:
      - localhost:9092
`
	cfg, err := model.LoadConfig(t.Context(), strings.NewReader(yml))
	require.NoError(t, err)
	require.True(t, cfg.Service.Verbose)
	require.Equal(t, model.LogDiscard, cfg.Service.Log)
	require.Equal(t, model.LogFormatText, cfg.Service.LogFormat)
	require.Equal(t, 9191, cfg.HTTP.Addr.Port)
	require.Equal(t, 2, cfg.Executor.Workers)
	require.Equal(t, 1024, cfg.Executor.LogCapacity)
	require.Equal(t, 90*time.Second, cfg.Executor.Timeout.Std())
	require.Equal(t, uint64(1000), cfg.Executor.MaxSteps)
	// defaults survive partial documents
	require.Equal(t, model.DefaultMaxNameLength, cfg.Executor.MaxNameLength)
	require.Equal(t, model.DefaultStreamBuffer, cfg.Executor.StreamBuffer)
	require.Equal(t, model.DefaultKafkaTopic, cfg.Events.Kafka.Topic)
	require.Equal(t, []string{"localhost:9092"}, cfg.Events.Kafka.Brokers)
}

func TestLoadConfig_Empty(t *testing.T) {
	cfg, err := model.LoadConfig(t.Context(), strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, model.DefaultConfig(t.Context()), cfg)
}

func TestLoadConfig_Fail(t *testing.T) {
	t.Parallel()
	var testCases = []struct {
		scenario string
		given    string
		then     []string
	}{
		{
			"unsupported version",
			"version: 1",
			[]string{"config version 1 is not supported, expected 0"},
		},
		{
			"unknown field",
			"service:\n  mode: manual",
			[]string{"field mode not found"},
		},
		{
			"negative values",
			"executor:\n  workers: -1\n  log_capacity: -5\n  max_name_length: 0",
			[]string{
				"executor.workers: must be >= 0, got -1",
				"executor.log_capacity: must be >= 1, got -5",
				"executor.max_name_length: must be >= 1, got 0",
			},
		},
		{
			"zero log capacity",
			"executor:\n  log_capacity: 0",
			[]string{"executor.log_capacity: must be >= 1, got 0"},
		},
		{
			"kafka without brokers",
			"events:\n  kafka:\n    enabled: true\n    topic: ''",
			[]string{
				"events.kafka.brokers: at least one broker must be provided",
				"events.kafka.topic: must be set",
			},
		},
		{
			"bad timeout",
			"executor:\n  timeout: P1Y",
			[]string{"invalid ISO8601 duration"},
		},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			_, err := model.LoadConfig(t.Context(), strings.NewReader(tt.given))
			require.Error(t, err)
			for _, msg := range tt.then {
				require.ErrorContains(t, err, msg)
			}
		})
	}
}
