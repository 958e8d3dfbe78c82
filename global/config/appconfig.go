package config

import (
	"strings"
	"time"
)

// AppConfig is the relay process configuration.
type AppConfig struct {
	NodeId   string `env:"RELAY_NODE_ID" envDefault:"relay-1"`
	NodeNum  int64  `env:"RELAY_NODE_NUM" envDefault:"1"` // snowflake node part
	Secret   string `env:"RELAY_SECRET,required"`
	HTTPAddr string `env:"RELAY_HTTP_ADDR" envDefault:":3001"`
	GRPCAddr string `env:"RELAY_GRPC_ADDR" envDefault:":50052"`
	LogLevel string `env:"RELAY_LOG_LEVEL" envDefault:"info"`

	AllowedOrigins []string `env:"RELAY_ALLOWED_ORIGINS" envSeparator:","` // empty => any

	Conn    ManagerConf
	Redis   RedisConfig
	Nats    NatsConfig
	Kafka   KafkaConfig
	Webhook WebhookConfig
}

// ManagerConf tunes connection lifetimes and queues.
type ManagerConf struct {
	SendQueue    int           `env:"RELAY_SEND_QUEUE" envDefault:"256"`
	PingInterval time.Duration `env:"RELAY_PING_INTERVAL" envDefault:"25s"`
	PongTimeout  time.Duration `env:"RELAY_PONG_TIMEOUT" envDefault:"60s"`
	WriteWait    time.Duration `env:"RELAY_WRITE_WAIT" envDefault:"10s"`
	PollWait     time.Duration `env:"RELAY_POLL_WAIT" envDefault:"25s"`    // long-poll hold time
	PollTimeout  time.Duration `env:"RELAY_POLL_TIMEOUT" envDefault:"60s"` // no poll for this long => closed
	SweepEvery   time.Duration `env:"RELAY_SWEEP_EVERY" envDefault:"10s"`
	MaxFrame     int64         `env:"RELAY_MAX_FRAME" envDefault:"1048576"`
}

type RedisConfig struct {
	Addr     string `env:"RELAY_REDIS_ADDR"`
	Password string `env:"RELAY_REDIS_PASSWORD"`
	DB       int    `env:"RELAY_REDIS_DB" envDefault:"0"`
	PoolSize int    `env:"RELAY_REDIS_POOL" envDefault:"10"`
}

type NatsConfig struct {
	Servers []string `env:"RELAY_NATS_URLS" envSeparator:","`
	Subject string   `env:"RELAY_NATS_SUBJECT" envDefault:"relay.rooms.>"`
	Queue   string   `env:"RELAY_NATS_QUEUE"`
}

type KafkaConfig struct {
	Brokers []string `env:"RELAY_KAFKA_BROKERS" envSeparator:","`
	Topics  []string `env:"RELAY_KAFKA_TOPICS" envSeparator:"," envDefault:"relay-events"`
	GroupID string   `env:"RELAY_KAFKA_GROUP" envDefault:"relay"`
}

type WebhookConfig struct {
	RecentKeep int64 `env:"RELAY_WEBHOOK_RECENT" envDefault:"100"`
}

func (c *AppConfig) norm() {
	c.Secret = strings.TrimSpace(c.Secret)
	c.Conn.norm()
	if c.NodeNum < 0 || c.NodeNum > 1023 {
		c.NodeNum = 1
	}
	if c.Webhook.RecentKeep <= 0 {
		c.Webhook.RecentKeep = 100
	}
}

func (c *ManagerConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = c.PingInterval * 2
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PollWait <= 0 {
		c.PollWait = 25 * time.Second
	}
	if c.PollTimeout <= c.PollWait {
		c.PollTimeout = c.PollWait + 30*time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = 1 << 20
	}
}

// Normalized returns a copy with defaults applied; used by callers that build ManagerConf by hand.
func (c ManagerConf) Normalized() ManagerConf {
	c.norm()
	return c
}

// DiagConfig is shared by the diagnostic CLIs; flags override it.
type DiagConfig struct {
	BaseURL    string        `env:"DIAG_BASE_URL" envDefault:"http://localhost:3001"`
	GatewayURL string        `env:"DIAG_GATEWAY_URL" envDefault:"http://localhost:8080"`
	APIKey     string        `env:"DIAG_APIKEY"`
	Instance   string        `env:"DIAG_INSTANCE"`
	Attempt    time.Duration `env:"DIAG_ATTEMPT_TIMEOUT" envDefault:"5s"`
	Deadline   time.Duration `env:"DIAG_DEADLINE" envDefault:"30s"`
	ProbeWait  time.Duration `env:"DIAG_PROBE_WAIT" envDefault:"5s"`
	Listen     time.Duration `env:"DIAG_LISTEN" envDefault:"0s"`
	Transports []string      `env:"DIAG_TRANSPORTS" envSeparator:"," envDefault:"websocket,polling"`
	LogLevel   string        `env:"DIAG_LOG_LEVEL" envDefault:"warn"`
}

func (c *DiagConfig) norm() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	c.GatewayURL = strings.TrimRight(strings.TrimSpace(c.GatewayURL), "/")
	if len(c.Transports) == 0 {
		c.Transports = []string{"websocket", "polling"}
	}
	if c.Attempt <= 0 {
		c.Attempt = 5 * time.Second
	}
	if c.Deadline < c.Attempt {
		c.Deadline = c.Attempt * time.Duration(len(c.Transports)+1)
	}
	if c.ProbeWait <= 0 {
		c.ProbeWait = 5 * time.Second
	}
}
