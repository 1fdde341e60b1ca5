package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"gopkg.in/yaml.v3"
)

const (
	LogStderr  = "stderr"
	LogStdout  = "stdout"
	LogDiscard = "discard"

	LogFormatJSON = "json"
	LogFormatText = "text"

	DefaultHTTPAddr      = ":8080"
	DefaultWorkers       = 4
	DefaultLogCapacity   = 256 * 1024
	DefaultMaxNameLength = 64
	DefaultStreamBuffer  = 256
	DefaultKafkaTopic    = "script-events"
)

type Config struct {
	Version  int      `yaml:"version"` // fixed 0 for now
	Service  Service  `yaml:"service"`
	HTTP     HTTP     `yaml:"http"`
	Executor Executor `yaml:"executor"`
	Events   Events   `yaml:"events"`
}

type Service struct {
	Verbose   bool   `yaml:"verbose"`
	Log       string `yaml:"log"`        // "stderr"|"stdout"|"discard"|path
	LogFormat string `yaml:"log_format"` // "json"|"text"
}

type HTTP struct {
	Addr TCPAddr `yaml:"addr"`
}

// Executor configures script execution.
type Executor struct {
	// Workers is the number of scripts executed in parallel, 0 executes
	// every script synchronously inside Submit.
	Workers       int      `yaml:"workers"`
	LogCapacity   int      `yaml:"log_capacity"`
	MaxNameLength int      `yaml:"max_name_length"`
	StreamBuffer  int      `yaml:"stream_buffer"`
	Timeout       Duration `yaml:"timeout"`
	MaxSteps      uint64   `yaml:"max_steps"`
}

type Events struct {
	Kafka Kafka `yaml:"kafka"`
}

type Kafka struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func DefaultConfig(ctx context.Context) Config {
	addr, err := net.ResolveTCPAddr("tcp", DefaultHTTPAddr)
	if err != nil {
		slog.WarnContext(ctx, "resolving default http address", "error", err)
	}
	return Config{
		Version: 0,
		Service: Service{
			Log:       LogStderr,
			LogFormat: LogFormatJSON,
		},
		HTTP: HTTP{Addr: TCPAddr{TCPAddr: addr}},
		Executor: Executor{
			Workers:       DefaultWorkers,
			LogCapacity:   DefaultLogCapacity,
			MaxNameLength: DefaultMaxNameLength,
			StreamBuffer:  DefaultStreamBuffer,
		},
		Events: Events{
			Kafka: Kafka{Topic: DefaultKafkaTopic},
		},
	}
}

// LoadConfig decodes YAML from r on top of DefaultConfig and validates the result.
func LoadConfig(ctx context.Context, r io.Reader) (Config, error) {
	cfg := DefaultConfig(ctx)
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns all the problems of c joined together.
func (c Config) Validate() error {
	var errs []error
	if c.Version != 0 {
		errs = append(errs, fmt.Errorf("config version %d is not supported, expected 0", c.Version))
	}
	switch c.Service.LogFormat {
	case "", LogFormatJSON, LogFormatText:
	default:
		errs = append(errs, fmt.Errorf("service.log_format: unsupported format %q", c.Service.LogFormat))
	}
	if c.HTTP.Addr.TCPAddr == nil {
		errs = append(errs, errors.New("http.addr: must be set"))
	}
	ex := c.Executor
	if ex.Workers < 0 {
		errs = append(errs, fmt.Errorf("executor.workers: must be >= 0, got %d", ex.Workers))
	}
	if ex.LogCapacity < 1 {
		errs = append(errs, fmt.Errorf("executor.log_capacity: must be >= 1, got %d", ex.LogCapacity))
	}
	if ex.MaxNameLength < 1 {
		errs = append(errs, fmt.Errorf("executor.max_name_length: must be >= 1, got %d", ex.MaxNameLength))
	}
	if ex.StreamBuffer < 1 {
		errs = append(errs, fmt.Errorf("executor.stream_buffer: must be >= 1, got %d", ex.StreamBuffer))
	}
	if ex.Timeout < 0 {
		errs = append(errs, fmt.Errorf("executor.timeout: must not be negative, got %s", ex.Timeout.Std()))
	}
	if k := c.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			errs = append(errs, errors.New("events.kafka.brokers: at least one broker must be provided"))
		}
		if k.Topic == "" {
			errs = append(errs, errors.New("events.kafka.topic: must be set"))
		}
	}
	return errors.Join(errs...)
}
