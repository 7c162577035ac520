package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"` // grpc | http
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		Metrics        bool   `mapstructure:"METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Addrs       string `mapstructure:"ADDR"`
		GroupID     string `mapstructure:"GROUP_ID"`
		CreditTopic string `mapstructure:"CREDIT_TOPIC"`
		CycleTopic  string `mapstructure:"CYCLE_TOPIC"`
	} `mapstructure:"KAFKA"`
	Billing Billing `mapstructure:"BILLING"`
}

// Billing holds the timing knobs shared by the embedded scheduler and the
// standalone daemon. Both processes must run with the same values.
type Billing struct {
	NodeID            int64         `mapstructure:"NODE_ID"`
	Currency          string        `mapstructure:"CURRENCY"`
	Interval          time.Duration `mapstructure:"INTERVAL"`
	GraceDelay        time.Duration `mapstructure:"GRACE_DELAY"`
	HeartbeatInterval time.Duration `mapstructure:"HEARTBEAT_INTERVAL"`
	ActiveThreshold   time.Duration `mapstructure:"ACTIVE_THRESHOLD"`
	ChargeTimeout     time.Duration `mapstructure:"CHARGE_TIMEOUT"`
	// ShutdownTimeout bounds the whole fx stop sequence, including the wait
	// for an in-flight billing cycle.
	ShutdownTimeout   time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
}

// DefaultNodeID is the snowflake node used when BILLING.NODE_ID is not set.
const DefaultNodeID int64 = 1

// KafkaBrokers splits the comma separated broker list. Empty means Kafka is disabled.
func (c *Config) KafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.Kafka.Addrs, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

// Options supplies an already loaded config and sizes the fx stop deadline
// from BILLING.SHUTDOWN_TIMEOUT. Long running binaries use it in place of
// Module so an in-flight cycle can drain before the process exits.
func Options(cfg *Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.StopTimeout(cfg.Billing.ShutdownTimeout),
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "reseller-billing")
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")
	v.SetDefault("DATABASE.TIMEZONE", "UTC")
	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 5*time.Second)
	v.SetDefault("KAFKA.ADDR", "")
	v.SetDefault("KAFKA.GROUP_ID", "reseller-billing")
	v.SetDefault("KAFKA.CREDIT_TOPIC", "wallet.credits")
	v.SetDefault("KAFKA.CYCLE_TOPIC", "billing.cycles")
	v.SetDefault("OTEL.ADDR", "")
	v.SetDefault("OTEL.PROTOCOL", "grpc")
	v.SetDefault("PYROSCOPE.ADDR", "")
	v.SetDefault("BILLING.NODE_ID", DefaultNodeID)
	v.SetDefault("BILLING.CURRENCY", "USD")
	v.SetDefault("BILLING.INTERVAL", time.Hour)
	v.SetDefault("BILLING.GRACE_DELAY", 10*time.Second)
	v.SetDefault("BILLING.HEARTBEAT_INTERVAL", time.Minute)
	v.SetDefault("BILLING.ACTIVE_THRESHOLD", 90*time.Minute)
	v.SetDefault("BILLING.CHARGE_TIMEOUT", 30*time.Second)
	v.SetDefault("BILLING.SHUTDOWN_TIMEOUT", 2*time.Minute)
}

// LoadConfig reads config.yaml from the working directory (optional) and
// overlays environment variables, e.g. BILLING_INTERVAL=30m.
func LoadConfig() (*Config, error) {
	return load(viper.New(), ".")
}

func load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Billing.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (b Billing) validate() error {
	switch {
	case b.Interval <= 0:
		return fmt.Errorf("config: BILLING.INTERVAL must be positive")
	case b.HeartbeatInterval <= 0:
		return fmt.Errorf("config: BILLING.HEARTBEAT_INTERVAL must be positive")
	case b.ActiveThreshold <= b.HeartbeatInterval:
		return fmt.Errorf("config: BILLING.ACTIVE_THRESHOLD must exceed BILLING.HEARTBEAT_INTERVAL")
	case b.ChargeTimeout <= 0:
		return fmt.Errorf("config: BILLING.CHARGE_TIMEOUT must be positive")
	case b.ShutdownTimeout < 2*b.ChargeTimeout:
		return fmt.Errorf("config: BILLING.SHUTDOWN_TIMEOUT must be at least twice BILLING.CHARGE_TIMEOUT")
	case b.NodeID < 0 || b.NodeID > 1023:
		return fmt.Errorf("config: BILLING.NODE_ID must be within 0..1023")
	}
	return nil
}
