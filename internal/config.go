package internal

import (
	"ephemeral-chat/domain"
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	BackendBadger = "badger"
	BackendMemory = "memory"
	BackendNats   = "nats"
)

type Config struct {
	Host     string `env:"HOST,default=localhost"`
	Port     int    `env:"PORT,default=8080" validate:"gt=0,lte=65535"`
	LogLevel string `env:"LOG_LEVEL,default=INFO"`

	StoreBackend   string        `env:"STORE_BACKEND,default=badger" validate:"oneof=badger memory nats"`
	BadgerFilepath string        `env:"BADGER_FILEPATH,default=./data/badger"`
	BadgerInMemory bool          `env:"BADGER_IN_MEMORY,default=false"`
	NatsKVBucket   string        `env:"NATS_KV_BUCKET,default=ephemeral_chat" validate:"required"`
	SweepInterval  time.Duration `env:"SWEEP_INTERVAL,default=30s" validate:"gt=0"`

	MaxMembers      int    `env:"MAX_MEMBERS,default=2" validate:"gt=0"`
	RoomTTLSeconds  int    `env:"ROOM_TTL_SECONDS,default=600" validate:"gt=0"`
	MaxSenderLength int    `env:"MAX_SENDER_LENGTH,default=100" validate:"gt=0"`
	MaxTextLength   int    `env:"MAX_TEXT_LENGTH,default=1000" validate:"gt=0"`
	TokenSecret     string `env:"TOKEN_SECRET,required=true" validate:"min=16"`

	SubscriberBufferSize int           `env:"SUBSCRIBER_BUFFER_SIZE,default=64" validate:"gt=0"`
	SSEKeepAlive         time.Duration `env:"SSE_KEEPALIVE,default=15s" validate:"gt=0"`
	StatsInterval        time.Duration `env:"STATS_INTERVAL,default=1m" validate:"gt=0"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`

	NatsURL           string `env:"NATS_URL" validate:"required_if=StoreBackend nats"`
	NatsSubjectPrefix string `env:"NATS_SUBJECT_PREFIX,default=rooms" validate:"required"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	config.StoreBackend = strings.ToLower(config.StoreBackend)
	return config, config.Validate()
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	// Relayed events are only meaningful when every instance reads the same rooms.
	if c.NatsURL != "" && c.StoreBackend != BackendNats {
		return fmt.Errorf("invalid config: NATS_URL requires STORE_BACKEND=%s, %s rooms are not shared", BackendNats, c.StoreBackend)
	}
	return nil
}

// Relayed reports whether room events are shared with other instances.
func (c Config) Relayed() bool {
	return c.StoreBackend == BackendNats
}

func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c Config) RoomTTL() time.Duration {
	return time.Duration(c.RoomTTLSeconds) * time.Second
}

func (c Config) MessageLimits() domain.MessageLimits {
	return domain.MessageLimits{MaxSenderLength: c.MaxSenderLength, MaxTextLength: c.MaxTextLength}
}
