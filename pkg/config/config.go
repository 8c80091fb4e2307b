package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"ArbRelay/pkg/cache"
	pkgch "ArbRelay/pkg/clickhouse"
	xhttp "ArbRelay/pkg/http"
	"ArbRelay/pkg/queue"
	"ArbRelay/pkg/util"
)

// Config is shared by the relay, agent and archiver binaries; each validates only the
// sections it uses.
type Config struct {
	Environment string             `yaml:"environment" default:"development"`
	Log         LogConfig          `yaml:"log"`
	Server      xhttp.ServerConfig `yaml:"server"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Relay       RelayConfig        `yaml:"relay"`
	Agent       AgentConfig        `yaml:"agent"`
	Broker      BrokerConfig       `yaml:"broker"`
	Scan        ScanConfig         `yaml:"scan"`
	Bus         BusConfig          `yaml:"bus"`
	Kafka       KafkaConfig        `yaml:"kafka"`
	ClickHouse  pkgch.Config       `yaml:"clickhouse"`
	Redis       RedisConfig        `yaml:"redis"`
	Archiver    ArchiverConfig     `yaml:"archiver"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"json" validate:"oneof=json console"`
	Output string `yaml:"output" default:"stdout"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" default:"true"`
	Namespace string `yaml:"namespace" default:"arbrelay"`
}

type RelayConfig struct {
	// APIKeys accepted in X-Relay-Key; empty disables the check.
	APIKeys               []string      `yaml:"api_keys"`
	AgentSecret           string        `yaml:"agent_secret" validate:"required,min=16"`
	DefaultDeadline       time.Duration `yaml:"default_deadline" default:"30s" validate:"gt=0"`
	ChainBase             time.Duration `yaml:"chain_base" default:"30s" validate:"gt=0"`
	ChainPerContract      time.Duration `yaml:"chain_per_contract" default:"500ms" validate:"gt=0"`
	ChainDefaultContracts int           `yaml:"chain_default_contracts" default:"60" validate:"gt=0"`
	CacheTTL              time.Duration `yaml:"cache_ttl" default:"0s"`
	HeartbeatInterval     time.Duration `yaml:"heartbeat_interval" default:"15s" validate:"gt=0"`
	StaleAfter            time.Duration `yaml:"stale_after" default:"45s" validate:"gtfield=HeartbeatInterval"`
	WriteTimeout          time.Duration `yaml:"write_timeout" default:"10s" validate:"gt=0"`
	RegisterTimeout       time.Duration `yaml:"register_timeout" default:"10s" validate:"gt=0"`
	MaxFrameBytes         int64         `yaml:"max_frame_bytes" default:"8388608" validate:"gt=0"`
	RateBurst             float64       `yaml:"rate_burst" default:"20" validate:"gte=0"`
	RatePerSecond         float64       `yaml:"rate_per_second" default:"5" validate:"gte=0"`
}

type AgentConfig struct {
	UserID          string        `yaml:"user_id" validate:"required,max=128"`
	AuthToken       string        `yaml:"auth_token" validate:"required"`
	RelayURL        string        `yaml:"relay_url" default:"ws://localhost:8080/agent/connect" validate:"required,url"`
	PingInterval    time.Duration `yaml:"ping_interval" default:"15s" validate:"gt=0"`
	StaleAfter      time.Duration `yaml:"stale_after" default:"45s" validate:"gtfield=PingInterval"`
	ReconnectMin    time.Duration `yaml:"reconnect_min" default:"500ms" validate:"gt=0"`
	ReconnectMax    time.Duration `yaml:"reconnect_max" default:"30s" validate:"gtefield=ReconnectMin"`
	MaxConcurrent   int           `yaml:"max_concurrent" default:"16" validate:"gt=0"`
	MutatingTimeout time.Duration `yaml:"mutating_timeout" default:"2m" validate:"gt=0"`
	Publish         PublishConfig `yaml:"publish"`
	// CollectErrors ships deduplicated error logs to kafka.topics.logs.
	CollectErrors bool `yaml:"collect_errors" default:"true"`
}

type PublishConfig struct {
	BufferSize    int           `yaml:"buffer_size" default:"1000" validate:"gt=0"`
	BatchSize     int           `yaml:"batch_size" default:"50" validate:"gt=0"`
	FlushInterval time.Duration `yaml:"flush_interval" default:"500ms" validate:"gt=0"`
	BackoffMin    time.Duration `yaml:"backoff_min" default:"50ms" validate:"gt=0"`
	BackoffMax    time.Duration `yaml:"backoff_max" default:"5s" validate:"gtefield=BackoffMin"`
	ChainThrottle time.Duration `yaml:"chain_throttle" default:"0s"`
}

type BrokerConfig struct {
	Mode                 string        `yaml:"mode" default:"paper" validate:"oneof=paper gateway"`
	Host                 string        `yaml:"host" default:"127.0.0.1"`
	Port                 int           `yaml:"port" default:"4002" validate:"gt=0,lte=65535"`
	URL                  string        `yaml:"url" validate:"omitempty,url"`
	ClientIDMin          int           `yaml:"client_id_min" default:"1" validate:"gte=0"`
	ClientIDMax          int           `yaml:"client_id_max" default:"10" validate:"gtefield=ClientIDMin"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff" default:"5s" validate:"gt=0"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval" default:"15s" validate:"gt=0"`
	StaleAfter           time.Duration `yaml:"stale_after" default:"45s" validate:"gtfield=HeartbeatInterval"`
	HandshakeTimeout     time.Duration `yaml:"handshake_timeout" default:"10s" validate:"gt=0"`
	WriteTimeout         time.Duration `yaml:"write_timeout" default:"5s" validate:"gt=0"`
	MailboxSize          int           `yaml:"mailbox_size" default:"256" validate:"gt=0"`
	PositionsMailboxSize int           `yaml:"positions_mailbox_size" default:"4096" validate:"gt=0"`
	MsgPerSec            float64       `yaml:"msg_per_sec" default:"40" validate:"gt=0"`
	PositionsTimeout     time.Duration `yaml:"positions_timeout" default:"15s" validate:"gt=0"`
	QuoteTimeout         time.Duration `yaml:"quote_timeout" default:"10s" validate:"gt=0"`
	AckTimeout           time.Duration `yaml:"ack_timeout" default:"10s" validate:"gt=0"`
	PreviewTimeout       time.Duration `yaml:"preview_timeout" default:"10s" validate:"gt=0"`
	CancelTimeout        time.Duration `yaml:"cancel_timeout" default:"10s" validate:"gt=0"`
	PaperLatency         time.Duration `yaml:"paper_latency" default:"5ms"`
}

// GatewayURL is URL when set, otherwise ws://Host:Port/. URL lets the bridge live behind a path.
func (b BrokerConfig) GatewayURL() string {
	if b.URL != "" {
		return b.URL
	}
	return fmt.Sprintf("ws://%s:%d/", b.Host, b.Port)
}

type ScanConfig struct {
	BatchSize               int           `yaml:"batch_size" default:"10" validate:"gt=0,lte=100"`
	RequestDelay            time.Duration `yaml:"request_delay" default:"50ms"`
	BatchDelay              time.Duration `yaml:"batch_delay" default:"250ms"`
	BatchTimeoutBase        time.Duration `yaml:"batch_timeout_base" default:"5s" validate:"gt=0"`
	BatchTimeoutPerContract time.Duration `yaml:"batch_timeout_per_contract" default:"1s" validate:"gte=0"`
	StepTimeout             time.Duration `yaml:"step_timeout" default:"10s" validate:"gt=0"`
	StrikeLowerPct          float64       `yaml:"strike_lower_pct" default:"0.20" validate:"gte=0,lt=1"`
	StrikeUpperPct          float64       `yaml:"strike_upper_pct" default:"0.10" validate:"gte=0,lte=2"`
	LookbackDays            int           `yaml:"lookback_days" default:"0" validate:"gte=0,lte=120"`
	Rights                  []string      `yaml:"rights" default:"[\"C\",\"P\"]" validate:"min=1,dive,oneof=C P"`
	ShortBandLowerPct       float64       `yaml:"short_band_lower_pct" default:"0.10" validate:"gte=0,lt=1"`
	ShortBandUpperPct       float64       `yaml:"short_band_upper_pct" default:"0.20" validate:"gte=0,lte=2"`
	MaxShortStrikes         int           `yaml:"max_short_strikes" default:"4" validate:"gt=0"`
	TopK                    int           `yaml:"top_k" default:"5" validate:"gt=0,lte=50"`
	DealProbability         float64       `yaml:"deal_probability" default:"0.9" validate:"gte=0,lte=1"`
}

// BusConfig selects the output bus. The redis backend reuses the redis connection settings.
type BusConfig struct {
	Backend string       `yaml:"backend" default:"kafka" validate:"oneof=kafka redis"`
	Queue   queue.Config `yaml:"queue"`
}

type KafkaConfig struct {
	Enabled      bool        `yaml:"enabled"`
	Brokers      []string    `yaml:"brokers" validate:"required_if=Enabled true"`
	Topics       KafkaTopics `yaml:"topics"`
	RequiredAcks int         `yaml:"required_acks" default:"-1" validate:"oneof=-1 0 1"`
	Compression  string      `yaml:"compression" default:"gzip" validate:"oneof=none gzip snappy lz4 zstd"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		Linger       time.Duration `yaml:"linger" default:"200ms"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"arbrelay-archiver"`
		Workers    int           `yaml:"workers" default:"4"`
		BufferSize int           `yaml:"buffer_size" default:"64"`
		RetryMax   int           `yaml:"retry_max" default:"5"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"arbrelay.dlq"`
	} `yaml:"consumer"`
}

type KafkaTopics struct {
	Chains string `yaml:"chains" default:"arbrelay.chains" validate:"required"`
	Orders string `yaml:"orders" default:"arbrelay.orders" validate:"required"`
	Logs   string `yaml:"logs" default:"arbrelay.logs"`
}

type RedisConfig struct {
	Enabled bool               `yaml:"enabled"`
	Redis   cache.RedisConfig  `yaml:",inline"`
	Memory  cache.MemoryConfig `yaml:"memory"`
	// L1TTL caps how long the in-process layer holds a value.
	L1TTL time.Duration `yaml:"l1_ttl" default:"5s"`
}

type ArchiverConfig struct {
	Server          xhttp.ServerConfig `yaml:"server"`
	APIKeys         []string           `yaml:"api_keys"`
	HistoryRange    time.Duration      `yaml:"history_range" default:"168h"`
	HistoryMaxLimit int                `yaml:"history_max_limit" default:"1000" validate:"gt=0"`
}

// Load reads path, applies defaults and environment overrides. Validation is left to the
// binary, which knows which sections it needs.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	c.applyEnv(os.Getenv)
	return &c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("RELAY_API_KEY"); v != "" {
		c.Relay.APIKeys = util.SplitList(v)
	}
	if v := getenv("RELAY_AGENT_SECRET"); v != "" {
		c.Relay.AgentSecret = v
	}
	if v := getenv("AGENT_USER_ID"); v != "" {
		c.Agent.UserID = v
	}
	if v := getenv("AGENT_AUTH_TOKEN"); v != "" {
		c.Agent.AuthToken = v
	}
	if v := getenv("AGENT_RELAY_URL"); v != "" {
		c.Agent.RelayURL = v
	}
	if v := getenv("BROKER_HOST"); v != "" {
		c.Broker.Host = v
	}
	if v := getenv("BROKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Broker.Port = p
		}
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
		c.Kafka.Enabled = true
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.Redis.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("BUS_BACKEND"); v != "" {
		c.Bus.Backend = v
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
}
