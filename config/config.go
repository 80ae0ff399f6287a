package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout     time.Duration `mapstructure:"idleTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Key             string `mapstructure:"key"`
	Endpoint        string `mapstructure:"endpoint"`
	PathStyle       bool   `mapstructure:"pathStyle"`
	AccessKeyID     string `mapstructure:"accessKeyID"`
	SecretAccessKey string `mapstructure:"secretAccessKey"`
}

type StoreConfig struct {
	Driver      string   `mapstructure:"driver"`
	FilePath    string   `mapstructure:"filePath"`
	SQLitePath  string   `mapstructure:"sqlitePath"`
	PostgresDSN string   `mapstructure:"postgresDSN"`
	S3          S3Config `mapstructure:"s3"`
}

type MongoConfig struct {
	URI    string `mapstructure:"uri"`
	DBName string `mapstructure:"dbName"`
}

// FabricConfig drives the optional ledger mirror. CAName, OrgName and
// AdminUser are only read by cmd/provision.
type FabricConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	ConnectionProfile    string        `mapstructure:"connectionProfile"`
	WalletPath           string        `mapstructure:"walletPath"`
	MSPID                string        `mapstructure:"mspID"`
	Identity             string        `mapstructure:"identity"`
	ChannelName          string        `mapstructure:"channelName"`
	ChaincodeName        string        `mapstructure:"chaincodeName"`
	DiscoveryAsLocalhost bool          `mapstructure:"discoveryAsLocalhost"`
	Timeout              time.Duration `mapstructure:"timeout"`
	CAName               string        `mapstructure:"caName"`
	OrgName              string        `mapstructure:"orgName"`
	AdminUser            string        `mapstructure:"adminUser"`
	AdminSecret          string        `mapstructure:"adminSecret"`
}

// Active reports whether ledger calls should be attempted at all.
func (f FabricConfig) Active() bool {
	return f.Enabled && f.ConnectionProfile != ""
}

type GeocodeConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Timeout       time.Duration `mapstructure:"timeout"`
	CacheSize     int           `mapstructure:"cacheSize"`
	CacheTTL      time.Duration `mapstructure:"cacheTTL"`
	UserAgent     string        `mapstructure:"userAgent"`
	BigDataCloud  string        `mapstructure:"bigDataCloudURL"`
	MapsCo        string        `mapstructure:"mapsCoURL"`
	Nominatim     string        `mapstructure:"nominatimURL"`
	MapsCoAPIKey  string        `mapstructure:"mapsCoAPIKey"`
	MaxConcurrent int           `mapstructure:"maxConcurrent"`
}

type MirrorConfig struct {
	RetrySchedule string `mapstructure:"retrySchedule"`
	MaxAttempts   int    `mapstructure:"maxAttempts"`
}

type BatchConfig struct {
	AllowPlaceholder bool `mapstructure:"allowPlaceholder"`
	// DemoBatch, when set, is created at startup if missing.
	DemoBatch string `mapstructure:"demoBatch"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwtSecret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Fabric  FabricConfig  `mapstructure:"fabric"`
	Geocode GeocodeConfig `mapstructure:"geocode"`
	Mirror  MirrorConfig  `mapstructure:"mirror"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Log     LogConfig     `mapstructure:"log"`
}

// Store drivers accepted by store.driver.
const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

var envBindings = map[string]string{
	"server.port":                 "SERVER_PORT",
	"store.driver":                "STORE_DRIVER",
	"store.filePath":              "STORE_FILE_PATH",
	"store.sqlitePath":            "STORE_SQLITE_PATH",
	"store.postgresDSN":           "STORE_POSTGRES_DSN",
	"store.s3.bucket":             "S3_BUCKET",
	"store.s3.region":             "S3_REGION",
	"store.s3.key":                "S3_KEY",
	"store.s3.endpoint":           "S3_ENDPOINT",
	"store.s3.pathStyle":          "S3_PATH_STYLE",
	"store.s3.accessKeyID":        "S3_ACCESS_KEY_ID",
	"store.s3.secretAccessKey":    "S3_SECRET_ACCESS_KEY",
	"mongo.uri":                   "MONGO_URI",
	"mongo.dbName":                "MONGO_DBNAME",
	"fabric.enabled":              "FABRIC_ENABLED",
	"fabric.connectionProfile":    "FABRIC_CCP",
	"fabric.walletPath":           "FABRIC_WALLET",
	"fabric.mspID":                "FABRIC_MSPID",
	"fabric.identity":             "FABRIC_IDENTITY",
	"fabric.channelName":          "FABRIC_CHANNEL",
	"fabric.chaincodeName":        "FABRIC_CHAINCODE",
	"fabric.discoveryAsLocalhost": "FABRIC_DISCOVERY_AS_LOCALHOST",
	"fabric.timeout":              "FABRIC_TIMEOUT",
	"fabric.caName":               "FABRIC_CA_NAME",
	"fabric.orgName":              "FABRIC_ORG",
	"fabric.adminUser":            "FABRIC_ADMIN_USER",
	"fabric.adminSecret":          "FABRIC_ADMIN_SECRET",
	"geocode.enabled":             "GEOCODE_ENABLED",
	"geocode.timeout":             "GEOCODE_TIMEOUT",
	"geocode.mapsCoAPIKey":        "GEOCODE_MAPSCO_API_KEY",
	"mirror.retrySchedule":        "MIRROR_RETRY_SCHEDULE",
	"mirror.maxAttempts":          "MIRROR_MAX_ATTEMPTS",
	"batch.allowPlaceholder":      "BATCH_ALLOW_PLACEHOLDER",
	"batch.demoBatch":             "BATCH_DEMO_ID",
	"auth.jwtSecret":              "JWT_SECRET",
	"auth.expiration":             "JWT_EXPIRATION",
	"log.level":                   "LOG_LEVEL",
	"log.development":             "LOG_DEVELOPMENT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "4000")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 60*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.shutdownTimeout", 10*time.Second)

	v.SetDefault("store.driver", DriverFile)
	v.SetDefault("store.filePath", "data/batches.json")
	v.SetDefault("store.sqlitePath", "data/agritrace.db")
	v.SetDefault("store.s3.key", "batches.json")
	v.SetDefault("store.s3.region", "us-east-1")
	v.SetDefault("mongo.dbName", "agritrace")

	v.SetDefault("fabric.enabled", false)
	v.SetDefault("fabric.walletPath", "wallet")
	v.SetDefault("fabric.mspID", "Org1MSP")
	v.SetDefault("fabric.identity", "appUser")
	v.SetDefault("fabric.channelName", "mychannel")
	v.SetDefault("fabric.chaincodeName", "agritrace")
	v.SetDefault("fabric.discoveryAsLocalhost", true)
	v.SetDefault("fabric.timeout", 30*time.Second)
	v.SetDefault("fabric.orgName", "Org1")
	v.SetDefault("fabric.adminUser", "admin")

	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.timeout", 5*time.Second)
	v.SetDefault("geocode.cacheSize", 1024)
	v.SetDefault("geocode.cacheTTL", 24*time.Hour)
	v.SetDefault("geocode.userAgent", "AgriChain/1.0")
	v.SetDefault("geocode.bigDataCloudURL", "https://api.bigdatacloud.net/data/reverse-geocode-client")
	v.SetDefault("geocode.mapsCoURL", "https://geocode.maps.co/reverse")
	v.SetDefault("geocode.nominatimURL", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("geocode.maxConcurrent", 4)

	v.SetDefault("mirror.retrySchedule", "@every 1m")
	v.SetDefault("mirror.maxAttempts", 10)
	v.SetDefault("batch.allowPlaceholder", false)
	v.SetDefault("auth.expiration", 24*time.Hour)
	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yaml from path (optional), then .env, then the
// process environment. Later sources win.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed loading .env: %w", err)
	}

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return cfg, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, err
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return cfg, cfg.Validate()
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverFile, DriverMemory:
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlitePath is required for the sqlite driver"))
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgresDSN is required for the postgres driver"))
		}
	case DriverS3:
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("store.s3.bucket is required for the s3 driver"))
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("mongo.uri is required for the mongo driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if c.Fabric.Enabled && c.Fabric.Timeout <= 0 {
		errs = append(errs, errors.New("fabric.timeout must be positive"))
	}
	if c.Geocode.Enabled && c.Geocode.Timeout <= 0 {
		errs = append(errs, errors.New("geocode.timeout must be positive"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	return errors.Join(errs...)
}
