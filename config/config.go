package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

const (
	defaultListen             = ":9000"
	defaultJobTimeout         = 2 * time.Minute
	defaultSweepInterval      = 15 * time.Second
	defaultStoreTimeout       = 5 * time.Second
	defaultChallengeCacheSize = 1 << 16
	defaultSendQueue          = 64
	defaultMessageRate        = 20
	defaultMessageBurst       = 40
	defaultMaxMessageSize     = 64 << 10
	defaultSigninReplayWindow = 24 * time.Hour
)

// Config defines the configuration options for the dair coordinator.
type Config struct {
	Listen      string   `short:"l" long:"listen" env:"DAIR_LISTEN" description:"HTTP and websocket listen address"`
	RedisURL    string   `long:"redis-url" env:"REDIS_URL" description:"Redis URL; in-memory stores are used when empty"`
	SigningKey  string   `long:"signing-key" env:"DAIR_SIGNING_KEY" description:"PEM encoded ECDSA P-256 key for bearer tokens; generated when empty"`
	CORSOrigins []string `long:"cors-origin" env:"DAIR_CORS_ORIGINS" env-delim:"," description:"Allowed browser origins"`

	DebugLog bool   `long:"debuglog" description:"Enable debug logs"`
	JSONLog  bool   `long:"jsonlog" description:"Whether to log in JSON format"`
	LogFile  string `long:"logfile" description:"Also write logs to this rotated file"`

	Coordinator CoordinatorConfig `group:"Coordinator" namespace:"coord"`
	Socket      SocketConfig      `group:"Websocket" namespace:"ws"`

	SigninReplayWindow time.Duration `long:"signin-replay-window" description:"How long a used sign-in signature is remembered"`
}

type CoordinatorConfig struct {
	JobTimeout         time.Duration `long:"job-timeout" description:"Deadline for a validator to answer a dispatch"`
	SweepInterval      time.Duration `long:"sweep-interval" description:"Interval of the expired job sweep"`
	StoreTimeout       time.Duration `long:"store-timeout" description:"Timeout of a single place store call"`
	ChallengeCacheSize int           `long:"challenge-cache" description:"Number of recent signup attempts remembered in memory"`
}

type SocketConfig struct {
	SendQueue      int     `long:"send-queue" description:"Outbound messages buffered per connection"`
	MessageRate    float64 `long:"rate" description:"Inbound messages per second allowed per connection"`
	MessageBurst   int     `long:"burst" description:"Inbound message burst per connection"`
	MaxMessageSize int64   `long:"max-message" description:"Maximum inbound message size in bytes"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	return &Config{
		Listen: defaultListen,
		Coordinator: CoordinatorConfig{
			JobTimeout:         defaultJobTimeout,
			SweepInterval:      defaultSweepInterval,
			StoreTimeout:       defaultStoreTimeout,
			ChallengeCacheSize: defaultChallengeCacheSize,
		},
		Socket: SocketConfig{
			SendQueue:      defaultSendQueue,
			MessageRate:    defaultMessageRate,
			MessageBurst:   defaultMessageBurst,
			MaxMessageSize: defaultMaxMessageSize,
		},
		SigninReplayWindow: defaultSigninReplayWindow,
	}
}

// ParseFlags reads values from command line arguments and the environment.
func ParseFlags(preCfg *Config, args []string) (*Config, error) {
	if _, err := flags.ParseArgs(preCfg, args); err != nil {
		return nil, err
	}
	if err := preCfg.Validate(); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// Validate checks values that would make the coordinator misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Coordinator.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("job timeout must be positive, got %v", c.Coordinator.JobTimeout))
	}
	if c.Coordinator.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep interval must be positive, got %v", c.Coordinator.SweepInterval))
	}
	if c.Coordinator.ChallengeCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("challenge cache size must be positive, got %d", c.Coordinator.ChallengeCacheSize))
	}
	if c.Socket.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send queue must be positive, got %d", c.Socket.SendQueue))
	}
	return errors.Join(errs...)
}
