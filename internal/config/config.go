package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "ROBOSIGNAL"

var DefaultStunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Signaling SignalingConfig `mapstructure:"signaling"`
	Session   SessionConfig   `mapstructure:"session"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Robot     RobotConfig     `mapstructure:"robot"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Nats      NatsConfig      `mapstructure:"nats"`
	Database  DatabaseConfig  `mapstructure:"database"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RTC       RTCConfig       `mapstructure:"webrtc"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type SignalingConfig struct {
	EnforceSameRoom bool  `mapstructure:"enforce_same_room"`
	InboxSize       int   `mapstructure:"inbox_size"`
	MaxMessageSize  int64 `mapstructure:"max_message_size"`
}

type SessionConfig struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Engine is either "stub" or "pion"
	Engine string `mapstructure:"engine"`
	// Host is advertised by the stub engine
	Host string `mapstructure:"host"`
}

type ProtocolConfig struct {
	RequireValidation bool `mapstructure:"require_validation"`
}

type RobotConfig struct {
	Model        string   `mapstructure:"model"`
	Version      string   `mapstructure:"version"`
	SerialNumber string   `mapstructure:"serial_number"`
	Capabilities []string `mapstructure:"capabilities"`
}

// RedisConfig enables the shared session slot when Addr is set
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Key  string `mapstructure:"key"`
}

// NatsConfig enables the NATS command sink when URL is set
type NatsConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// DatabaseConfig enables the session audit when URL is set
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type RTCConfig struct {
	ICEServers        []string `mapstructure:"ice_servers"`
	ICEPortRangeStart uint16   `mapstructure:"port_range_start"`
	ICEPortRangeEnd   uint16   `mapstructure:"port_range_end"`
}

const (
	StubEngine = "stub"
	PionEngine = "pion"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("signaling.enforce_same_room", false)
	v.SetDefault("signaling.inbox_size", 256)
	v.SetDefault("signaling.max_message_size", 200*1024)

	v.SetDefault("session.idle_timeout", 60*time.Second)
	v.SetDefault("session.sweep_interval", 5*time.Second)
	v.SetDefault("session.engine", StubEngine)
	v.SetDefault("session.host", "127.0.0.1")

	v.SetDefault("protocol.require_validation", false)

	v.SetDefault("robot.model", "Go2")
	v.SetDefault("robot.version", "1.0.0")
	v.SetDefault("robot.serial_number", "")
	v.SetDefault("robot.capabilities", []string{"video", "audio", "light"})

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.key", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "robot.commands")
	v.SetDefault("database.url", "")

	v.SetDefault("cors.allow_origins", []string{"*"})

	v.SetDefault("webrtc.ice_servers", DefaultStunServers)
	v.SetDefault("webrtc.port_range_start", 50000)
	v.SetDefault("webrtc.port_range_end", 60000)
}

// Load reads defaults, then the optional config file, then the environment.
// ROBOSIGNAL_SIGNALING_ENFORCE_SAME_ROOM overrides signaling.enforce_same_room
// and so on; PORT and ALLOW_ORIGINS are honored as well.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("cors.allow_origins", EnvPrefix+"_CORS_ALLOW_ORIGINS", "ALLOW_ORIGINS"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	conf := &Config{}
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv(EnvPrefix+"_SERVER_ADDRESS") == "" {
		conf.Server.Address = ":" + port
	}

	if err := conf.Validate(); err != nil {
		return nil, err
	}

	return conf, nil
}

func (c *Config) Validate() error {
	switch c.Session.Engine {
	case StubEngine, PionEngine:
	default:
		return fmt.Errorf("unknown session engine %q, want one of: stub, pion", c.Session.Engine)
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("session.idle_timeout must be positive")
	}
	if c.RTC.ICEPortRangeStart > c.RTC.ICEPortRangeEnd {
		return fmt.Errorf("webrtc port range %d-%d is empty", c.RTC.ICEPortRangeStart, c.RTC.ICEPortRangeEnd)
	}

	return nil
}
