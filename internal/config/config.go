package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Log      LogConfig      `envPrefix:"LOG_"`
	Auth     AuthConfig     `envPrefix:"AUTH_"`
	Backend  BackendConfig  `envPrefix:"BACKEND_"`
	Socket   SocketConfig   `envPrefix:"SOCKET_"`
	RTC      RTCConfig      `envPrefix:"RTC_"`
	Chat     ChatConfig     `envPrefix:"CHAT_"`
	Session  SessionConfig  `envPrefix:"SESSION_"`
	Database DatabaseConfig `envPrefix:"DATABASE_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
}

type ServerConfig struct {
	Addr          string `env:"ADDR" envDefault:"127.0.0.1:8090"`
	AllowedOrigin string `env:"ALLOWED_ORIGIN" envDefault:"^https?://(localhost|127\\.0\\.0\\.1)(:\\d+)?$"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

type AuthConfig struct {
	// Token is the bearer token of the signed-in user. It can be replaced at
	// runtime through the gateway.
	Token string `env:"TOKEN"`
}

type BackendConfig struct {
	BaseURL string        `env:"BASE_URL,required"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"10s"`
	Retries int           `env:"RETRIES" envDefault:"3"`
	Routes  RoutesConfig  `envPrefix:"ROUTE_"`
}

// RoutesConfig holds the backend paths as templates, rendered with the ids
// of each call.
type RoutesConfig struct {
	DirectHistory string `env:"DIRECT_HISTORY" envDefault:"/api/chat/messages/{{pathEscape .SelfID}}/{{pathEscape .PeerID}}"`
	ForumHistory  string `env:"FORUM_HISTORY" envDefault:"/api/forum/{{pathEscape .CourseID}}/messages"`
	Contacts      string `env:"CONTACTS" envDefault:"/api/chat/contacts?{{query \"role\" .Role}}"`
	Courses       string `env:"COURSES" envDefault:"/api/courses/enrolled"`
	JoinSession   string `env:"JOIN_SESSION" envDefault:"/api/live-sessions/{{pathEscape .SessionID}}/join"`
	Attendance    string `env:"ATTENDANCE" envDefault:"/api/live-sessions/{{pathEscape .SessionID}}/attendance"`
}

type SocketConfig struct {
	URL                  string        `env:"URL,required"`
	ReconnectBaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	ReconnectMaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"30s"`
	MaxReconnectAttempts int           `env:"MAX_RECONNECT_ATTEMPTS" envDefault:"0"`
	PingInterval         time.Duration `env:"PING_INTERVAL" envDefault:"25s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
}

type RTCConfig struct {
	SignalURL  string        `env:"SIGNAL_URL"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"15s"`
	Camera     bool          `env:"CAMERA" envDefault:"true"`
	Microphone bool          `env:"MICROPHONE" envDefault:"true"`
	Screen     bool          `env:"SCREEN" envDefault:"true"`
}

type ChatConfig struct {
	HistoryTTL time.Duration `env:"HISTORY_TTL" envDefault:"1m"`
}

type SessionConfig struct {
	VideoAttachRetries  int           `env:"VIDEO_ATTACH_RETRIES" envDefault:"10"`
	VideoAttachInterval time.Duration `env:"VIDEO_ATTACH_INTERVAL" envDefault:"200ms"`
	StepTimeout         time.Duration `env:"STEP_TIMEOUT" envDefault:"5s"`
	LeftNotice          string        `env:"LEFT_NOTICE" envDefault:"{{default \"A participant\" .Name}} left the session"`
}

type DatabaseConfig struct {
	Enabled  bool     `env:"ENABLED" envDefault:"false"`
	Hosts    []string `env:"HOSTS" envSeparator:"," envDefault:"localhost:27017"`
	Direct   bool     `env:"DIRECT" envDefault:"true"`
	Username string   `env:"USERNAME"`
	Password string   `env:"PASSWORD"`
	AuthDB   string   `env:"AUTH_DB" envDefault:"admin"`
	Database string   `env:"DATABASE" envDefault:"consult_live"`
}

type KafkaConfig struct {
	Enabled         bool     `env:"ENABLED" envDefault:"false"`
	Brokers         []string `env:"BROKERS" envSeparator:","`
	AttendanceTopic string   `env:"ATTENDANCE_TOPIC" envDefault:"live-session.attendance"`
	ClientID        string   `env:"CLIENT_ID" envDefault:"consult-live"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.Kafka.Enabled && len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka enabled without brokers")
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}
