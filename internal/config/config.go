package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	PublicURL string
	UseSSL    bool
	Region    string
}

type SecurityConfig struct {
	JWTAccessSecret string
}

// IngestConfig bounds the batch pipeline. None of these limits are
// hard-coded in the pipeline itself.
type IngestConfig struct {
	MaxFileSize      int64
	MaxFilesPerBatch int
	AllowedMimeTypes []string
	Concurrency      int
	ThumbSmall       int
	ThumbMedium      int
	ThumbLarge       int
	JPEGQuality      int
	StoreMaxRetries  int
	SweepSchedule    string
	SweepMinAge      time.Duration
}

// ClientConfig drives the uploader CLI.
type ClientConfig struct {
	ServerURL  string
	Token      string
	QueuePath  string
	MaxRetries int
	Timeout    time.Duration
}

type AppConfig struct {
	Environment      string
	HTTP             HTTPConfig
	Postgres         PostgresConfig
	Redis            RedisConfig
	Storage          StorageConfig
	Security         SecurityConfig
	Ingest           IngestConfig
	Client           ClientConfig
	AllowCORSOrigins []string
}

func Load() (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")

	v.SetEnvPrefix("PHOTOFLOW")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

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

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	// a full batch can take minutes to arrive on a slow uplink
	v.SetDefault("http.readtimeout", "5m")
	v.SetDefault("http.writetimeout", "5m")
	v.SetDefault("http.idletimeout", "60s")

	v.SetDefault("postgres.maxopen", 30)
	v.SetDefault("postgres.maxidle", 10)
	v.SetDefault("postgres.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "photos:ingested")

	v.SetDefault("storage.bucket", "photoflow-media")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("ingest.maxfilesize", 50*1024*1024)
	v.SetDefault("ingest.maxfilesperbatch", 100)
	v.SetDefault("ingest.allowedmimetypes", "image/jpeg,image/jpg,image/png,image/webp,image/gif")
	v.SetDefault("ingest.concurrency", 4)
	v.SetDefault("ingest.thumbsmall", 400)
	v.SetDefault("ingest.thumbmedium", 800)
	v.SetDefault("ingest.thumblarge", 1200)
	v.SetDefault("ingest.jpegquality", 85)
	v.SetDefault("ingest.storemaxretries", 3)
	v.SetDefault("ingest.sweepschedule", "0 0 3 * * *")
	v.SetDefault("ingest.sweepminage", "24h")

	v.SetDefault("client.serverurl", "http://127.0.0.1:8080")
	v.SetDefault("client.queuepath", "photoflow-queue.db")
	v.SetDefault("client.maxretries", 3)
	v.SetDefault("client.timeout", "120s")
}
