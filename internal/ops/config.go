package ops

import (
	"encoding/json"
	"math/rand/v2"
	"os"
	"time"

	"ibbridge/pkg/exception"
	"ibbridge/pkg/validate"

	"github.com/caarlos0/env/v10"
	"github.com/yanun0323/errors"
)

const (
	defaultHost        = "127.0.0.1"
	defaultPort        = 7496
	defaultReconnect   = 3
	defaultTimeout     = 3 * time.Second
	defaultTimeRefresh = 60 * time.Second
	defaultAccountWait = 10 * time.Second
	defaultQueueSize   = 4096
	defaultKafkaTopic  = "ibbridge.notifications"
	defaultApplication = "ibbridge"
)

// Duration is a time.Duration written as "3s" in JSON and environment values.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return errors.Wrapf(exception.ErrInvalidArgument, "duration %q", string(b))
	}
	*d = Duration(v)
	return nil
}

// FileConfig mirrors the JSON config layout. Every field can be overridden by
// its environment variable.
type FileConfig struct {
	Broker    BrokerConfig       `json:"broker"`
	Session   SessionConfig      `json:"session"`
	Features  FeatureFlagsConfig `json:"features"`
	HTTP      HTTPConfig         `json:"http"`
	Postgres  PostgresConfig     `json:"postgres"`
	Kafka     KafkaConfig        `json:"kafka"`
	Pyroscope PyroscopeConfig    `json:"pyroscope"`
}

// BrokerConfig locates the broker session.
type BrokerConfig struct {
	Host string `json:"host" env:"IBBRIDGE_HOST"`
	Port int    `json:"port" env:"IBBRIDGE_PORT" validate:"gte=0,lte=65535"`
	// ClientID 0 picks a random id.
	ClientID int    `json:"clientId" env:"IBBRIDGE_CLIENT_ID" validate:"gte=0,lte=65535"`
	Account  string `json:"account" env:"IBBRIDGE_ACCOUNT"`
	Paper    bool   `json:"paper" env:"IBBRIDGE_PAPER"`
}

// SessionConfig is the reconnect and timing policy.
type SessionConfig struct {
	Reconnect   *int     `json:"reconnect" env:"IBBRIDGE_RECONNECT" validate:"omitempty,gte=-1"`
	Timeout     Duration `json:"timeout" env:"IBBRIDGE_TIMEOUT" validate:"gte=0"`
	TimeRefresh Duration `json:"timeRefresh" env:"IBBRIDGE_TIME_REFRESH" validate:"gte=0"`
	AccountWait Duration `json:"accountWait" env:"IBBRIDGE_ACCOUNT_WAIT" validate:"gte=0"`
	QueueSize   int      `json:"queueSize" env:"IBBRIDGE_QUEUE_SIZE" validate:"gte=0"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	TimeOffset     *bool `json:"timeOffset" env:"IBBRIDGE_TIME_OFFSET"`
	IndCash        *bool `json:"indCash" env:"IBBRIDGE_IND_CASH"`
	IntradayRanges *bool `json:"intradayRanges" env:"IBBRIDGE_INTRADAY_RANGES"`
}

type HTTPConfig struct {
	Addr string `json:"addr" env:"IBBRIDGE_HTTP_ADDR"`
}

type PostgresConfig struct {
	Host       string `json:"host" env:"IBBRIDGE_PG_HOST"`
	Port       int    `json:"port" env:"IBBRIDGE_PG_PORT" validate:"gte=0,lte=65535"`
	User       string `json:"user" env:"IBBRIDGE_PG_USER"`
	Password   string `json:"password" env:"IBBRIDGE_PG_PASSWORD"`
	Database   string `json:"database" env:"IBBRIDGE_PG_DATABASE"`
	SSLMode    string `json:"sslMode" env:"IBBRIDGE_PG_SSLMODE"`
	ConnString string `json:"connString" env:"IBBRIDGE_PG_DSN"`
}

// Enabled reports whether a journal database is configured.
func (c PostgresConfig) Enabled() bool {
	return c.Host != "" || c.ConnString != ""
}

type KafkaConfig struct {
	Brokers []string `json:"brokers" env:"IBBRIDGE_KAFKA_BROKERS" envSeparator:","`
	Topic   string   `json:"topic" env:"IBBRIDGE_KAFKA_TOPIC"`
}

func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type PyroscopeConfig struct {
	Address     string `json:"address" env:"IBBRIDGE_PYROSCOPE_ADDR"`
	Application string `json:"application" env:"IBBRIDGE_PYROSCOPE_APP"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	// TimeOffset stamps ticks with server time instead of local time.
	TimeOffset bool
	// IndCash builds index streams from the last price like cash streams.
	IndCash bool
	// IntradayRanges allows two-date range requests with sub-day bars.
	IntradayRanges bool
}

// Session is the resolved reconnect and timing policy.
type Session struct {
	Reconnect   int
	Timeout     time.Duration
	TimeRefresh time.Duration
	AccountWait time.Duration
	QueueSize   int
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Broker    BrokerConfig
	Session   Session
	Features  FeatureFlags
	HTTP      HTTPConfig
	Postgres  PostgresConfig
	Kafka     KafkaConfig
	Pyroscope PyroscopeConfig
}

// Load reads the JSON config file, when path is set, overlays the
// environment and resolves defaults.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrapf(err, "decode config %s", path)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "parse environment")
	}
	return Resolve(cfg)
}

// Resolve validates cfg and fills defaults.
func Resolve(cfg FileConfig) (Loaded, error) {
	if err := validate.Struct(cfg); err != nil {
		return Loaded{}, err
	}

	broker := cfg.Broker
	if broker.Host == "" {
		broker.Host = defaultHost
	}
	if broker.Port == 0 {
		broker.Port = defaultPort
	}
	if broker.ClientID == 0 {
		broker.ClientID = rand.IntN(65535) + 1
	}

	kafka := cfg.Kafka
	if kafka.Topic == "" {
		kafka.Topic = defaultKafkaTopic
	}
	pyroscope := cfg.Pyroscope
	if pyroscope.Application == "" {
		pyroscope.Application = defaultApplication
	}

	return Loaded{
		Broker:    broker,
		Session:   resolveSession(cfg.Session),
		Features:  resolveFeatures(cfg.Features),
		HTTP:      cfg.HTTP,
		Postgres:  cfg.Postgres,
		Kafka:     kafka,
		Pyroscope: pyroscope,
	}, nil
}

func resolveSession(cfg SessionConfig) Session {
	s := Session{
		Reconnect:   defaultReconnect,
		Timeout:     defaultTimeout,
		TimeRefresh: defaultTimeRefresh,
		AccountWait: defaultAccountWait,
		QueueSize:   defaultQueueSize,
	}
	if cfg.Reconnect != nil {
		s.Reconnect = *cfg.Reconnect
	}
	if cfg.Timeout > 0 {
		s.Timeout = time.Duration(cfg.Timeout)
	}
	if cfg.TimeRefresh > 0 {
		s.TimeRefresh = time.Duration(cfg.TimeRefresh)
	}
	if cfg.AccountWait > 0 {
		s.AccountWait = time.Duration(cfg.AccountWait)
	}
	if cfg.QueueSize > 0 {
		s.QueueSize = cfg.QueueSize
	}
	return s
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		TimeOffset: true,
		IndCash:    true,
	}
	if cfg.TimeOffset != nil {
		flags.TimeOffset = *cfg.TimeOffset
	}
	if cfg.IndCash != nil {
		flags.IndCash = *cfg.IndCash
	}
	if cfg.IntradayRanges != nil {
		flags.IntradayRanges = *cfg.IntradayRanges
	}
	return flags
}
