package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// StoreConfig selects the remote document store backend: memory, redis or
// postgres.
type StoreConfig struct {
	Driver  string
	Timeout time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Region    string
}

type TelegramConfig struct {
	BotToken string
	ChatID   string
	APIBase  string
}

type NotifyConfig struct {
	Telegram TelegramConfig
	Archive  bool
	Timeout  time.Duration
}

type SecurityConfig struct {
	JWTSecret     string
	AdminTokenTTL time.Duration
}

// TrackerConfig drives the session and presence tracker.
type TrackerConfig struct {
	HeartbeatInterval      time.Duration
	ActivityThrottle       time.Duration
	SessionRefreshInterval time.Duration
	RevalidateInterval     time.Duration
	RedirectDelay          time.Duration
	BroadcastWindow        time.Duration
	OnlineWindow           time.Duration
	RemoteTimeout          time.Duration
	LoginPath              string
	ReplayBacklog          bool
}

// DeviceConfig overrides host-detected fingerprint signals.
type DeviceConfig struct {
	UserAgent    string
	Platform     string
	Language     string
	Timezone     string
	ScreenWidth  int
	ScreenHeight int
}

type LocalStateConfig struct {
	Dir string
}

type SweeperConfig struct {
	Schedule   string
	StaleAfter time.Duration
	Timeout    time.Duration
}

type LoggingConfig struct {
	Level string
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	AdminHTTP        HTTPConfig
	TLS              TLSConfig
	Store            StoreConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Notify           NotifyConfig
	Security         SecurityConfig
	Tracker          TrackerConfig
	Device           DeviceConfig
	LocalState       LocalStateConfig
	Sweeper          SweeperConfig
	Logging          LoggingConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("sessiontrack")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("SESSIONTRACK")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "0s") // SSE streams stay open
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("adminhttp.host", "0.0.0.0")
	v.SetDefault("adminhttp.port", 8081)
	v.SetDefault("adminhttp.readtimeout", "10s")
	v.SetDefault("adminhttp.writetimeout", "15s")
	v.SetDefault("adminhttp.idletimeout", "60s")

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.timeout", "10s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.keyprefix", "sessiontrack")

	v.SetDefault("storage.bucket", "sessiontrack-notifications")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("notify.telegram.apibase", "https://api.telegram.org")
	v.SetDefault("notify.archive", false)
	v.SetDefault("notify.timeout", "10s")

	v.SetDefault("security.admintokenttl", "12h")

	v.SetDefault("tracker.heartbeatinterval", "2m")
	v.SetDefault("tracker.activitythrottle", "30s")
	v.SetDefault("tracker.sessionrefreshinterval", "60s")
	v.SetDefault("tracker.revalidateinterval", "5m")
	v.SetDefault("tracker.redirectdelay", "3s")
	v.SetDefault("tracker.broadcastwindow", "24h")
	v.SetDefault("tracker.onlinewindow", "5m")
	v.SetDefault("tracker.remotetimeout", "10s")
	v.SetDefault("tracker.loginpath", "register.html")
	v.SetDefault("tracker.replaybacklog", false)

	v.SetDefault("localstate.dir", ".sessiontrack")

	v.SetDefault("sweeper.schedule", "0 */1 * * * *")
	v.SetDefault("sweeper.staleafter", "10m")
	v.SetDefault("sweeper.timeout", "30s")

	v.SetDefault("logging.level", "")
}
