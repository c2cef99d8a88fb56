package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/go-sql-driver/mysql"
)

const (
	StorageKindFile   = "file"
	StorageKindSQLite = "sqlite"

	TimestampPolicyUTC      = "utc"
	TimestampPolicyPreserve = "preserve"
)

type Config struct {
	Logger    LoggerConfig   `json:"logger" yaml:"logger"`
	Source    DatabaseConfig `json:"source" yaml:"source"`
	Target    DatabaseConfig `json:"target" yaml:"target"`
	Tables    []TablePair    `json:"tables" yaml:"tables"`
	Sync      SyncConfig     `json:"sync" yaml:"sync"`
	Storage   StorageConfig  `json:"storage" yaml:"storage"`
	Metric    MetricConfig   `json:"metric" yaml:"metric"`
	DebugMode bool           `json:"debugMode" yaml:"debugMode"`
}

type DatabaseConfig struct {
	Kind     connector.Kind    `json:"kind" yaml:"kind"`
	Host     string            `json:"host" yaml:"host"`
	Port     int               `json:"port" yaml:"port"`
	Database string            `json:"database" yaml:"database"`
	Schema   string            `json:"schema" yaml:"schema"`
	Username string            `json:"username" yaml:"username"`
	Password string            `json:"password" yaml:"password"`
	Params   map[string]string `json:"params" yaml:"params"`
}

// TablePair maps one source table onto one target table. WatermarkColumn defaults to
// the single-column primary key; KeyColumns overrides the upsert key.
type TablePair struct {
	Source          string   `json:"source" yaml:"source"`
	Target          string   `json:"target" yaml:"target"`
	WatermarkColumn string   `json:"watermarkColumn" yaml:"watermarkColumn"`
	KeyColumns      []string `json:"keyColumns" yaml:"keyColumns"`
}

// ID is the key under which the pair's offset is stored.
func (p TablePair) ID() string {
	return p.Source + "__" + p.Target
}

type SyncConfig struct {
	BatchSize        int           `json:"batchSize" yaml:"batchSize"`
	Concurrency      int           `json:"concurrency" yaml:"concurrency"`
	MaxBatchesPerRun int           `json:"maxBatchesPerRun" yaml:"maxBatchesPerRun"`
	MaxRetries       int           `json:"maxRetries" yaml:"maxRetries"`
	BackoffBase      time.Duration `json:"backoffBase" yaml:"backoffBase"`
	BackoffMax       time.Duration `json:"backoffMax" yaml:"backoffMax"`
	RunTimeout       time.Duration `json:"runTimeout" yaml:"runTimeout"`
	// ReadRateLimit caps batch reads per second across all pipelines, 0 disables it.
	ReadRateLimit   float64 `json:"readRateLimit" yaml:"readRateLimit"`
	Schedule        string  `json:"schedule" yaml:"schedule"`
	TimestampPolicy string  `json:"timestampPolicy" yaml:"timestampPolicy"`
}

type StorageConfig struct {
	Kind       string `json:"kind" yaml:"kind"`
	OffsetPath string `json:"offsetPath" yaml:"offsetPath"`
	SchemaPath string `json:"schemaPath" yaml:"schemaPath"`
	SQLitePath string `json:"sqlitePath" yaml:"sqlitePath"`
}

type MetricConfig struct {
	Port int `json:"port" yaml:"port"`
}

type LoggerConfig struct {
	Logger   logger.Logger `json:"-" yaml:"-"`         // custom logger
	LogLevel slog.Level    `json:"level" yaml:"level"` // if custom logger is nil, set the slog log level
}

// DSN renders the driver data source name for the database kind.
func (c DatabaseConfig) DSN() string {
	switch c.Kind {
	case connector.KindMySQL:
		mc := mysql.NewConfig()
		mc.User = c.Username
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		mc.DBName = c.Database
		mc.ParseTime = true
		mc.Loc = time.UTC
		if len(c.Params) > 0 {
			mc.Params = c.Params
		}
		return mc.FormatDSN()
	case connector.KindPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			Path:     "/" + c.Database,
			RawQuery: encodeParams(c.Params, nil),
		}
		return u.String()
	case connector.KindMSSQL:
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.Username, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			RawQuery: encodeParams(c.Params, map[string]string{"database": c.Database}),
		}
		return u.String()
	case connector.KindSQLite:
		q := encodeParams(c.Params, nil)
		if q == "" {
			q = "_pragma=busy_timeout(5000)"
		}
		return "file:" + c.Database + "?" + q
	}
	return ""
}

func encodeParams(params map[string]string, extra map[string]string) string {
	v := url.Values{}
	for k, val := range extra {
		v.Set(k, val)
	}
	for k, val := range params {
		v.Set(k, val)
	}
	return v.Encode()
}

func (c *Config) SetDefault() {
	c.Source.setDefault()
	c.Target.setDefault()

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 1000
	}

	if c.Sync.Concurrency == 0 {
		c.Sync.Concurrency = 4
	}

	if c.Sync.MaxBatchesPerRun == 0 {
		c.Sync.MaxBatchesPerRun = 1000
	}

	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}

	if c.Sync.BackoffBase == 0 {
		c.Sync.BackoffBase = time.Second
	}

	if c.Sync.BackoffMax == 0 {
		c.Sync.BackoffMax = 30 * time.Second
	}

	if c.Sync.Schedule == "" {
		c.Sync.Schedule = "@every 1m"
	}

	if c.Sync.TimestampPolicy == "" {
		c.Sync.TimestampPolicy = TimestampPolicyUTC
	}

	if c.Storage.Kind == "" {
		c.Storage.Kind = StorageKindFile
	}

	if c.Storage.OffsetPath == "" {
		c.Storage.OffsetPath = "./data/offsets"
	}

	if c.Storage.SchemaPath == "" {
		c.Storage.SchemaPath = "./data/schemas"
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/dbsync.db"
	}

	if c.Metric.Port == 0 {
		c.Metric.Port = 9090
	}

	if c.Logger.Logger == nil {
		level := c.Logger.LogLevel
		if c.DebugMode {
			level = slog.LevelDebug
		}
		c.Logger.Logger = logger.NewSlog(level)
	}

	for i := range c.Tables {
		if c.Tables[i].Target == "" {
			c.Tables[i].Target = c.Tables[i].Source
		}
	}
}

func (c *DatabaseConfig) setDefault() {
	c.Kind = connector.Kind(strings.ToLower(string(c.Kind)))

	if c.Port == 0 {
		switch c.Kind {
		case connector.KindMySQL:
			c.Port = 3306
		case connector.KindPostgres:
			c.Port = 5432
		case connector.KindMSSQL:
			c.Port = 1433
		}
	}

	if c.Schema == "" {
		switch c.Kind {
		case connector.KindPostgres:
			c.Schema = "public"
		case connector.KindMSSQL:
			c.Schema = "dbo"
		}
	}
}

func (c *Config) Validate() error {
	var err error

	if cErr := c.Source.validate("source"); cErr != nil {
		err = errors.Join(err, cErr)
	}

	if cErr := c.Target.validate("target"); cErr != nil {
		err = errors.Join(err, cErr)
	}

	if len(c.Tables) == 0 {
		err = errors.Join(err, errors.New("at least one table must be configured"))
	}

	seen := make(map[string]struct{}, len(c.Tables))
	for i, t := range c.Tables {
		if isEmpty(t.Source) {
			err = errors.Join(err, fmt.Errorf("tables[%d]: source cannot be empty", i))
			continue
		}
		if _, ok := seen[t.ID()]; ok {
			err = errors.Join(err, fmt.Errorf("tables[%d]: duplicate table pair %s", i, t.ID()))
		}
		seen[t.ID()] = struct{}{}
	}

	if c.Sync.BatchSize < 1 {
		err = errors.Join(err, errors.New("sync.batchSize must be at least 1"))
	}

	if c.Sync.Concurrency < 1 {
		err = errors.Join(err, errors.New("sync.concurrency must be at least 1"))
	}

	if c.Sync.MaxBatchesPerRun < 1 {
		err = errors.Join(err, errors.New("sync.maxBatchesPerRun must be at least 1"))
	}

	if c.Sync.MaxRetries < 0 {
		err = errors.Join(err, errors.New("sync.maxRetries cannot be negative"))
	}

	if c.Sync.BackoffBase < 0 || c.Sync.BackoffMax < 0 || c.Sync.RunTimeout < 0 {
		err = errors.Join(err, errors.New("sync durations cannot be negative"))
	}

	if c.Sync.BackoffMax > 0 && c.Sync.BackoffBase > c.Sync.BackoffMax {
		err = errors.Join(err, errors.New("sync.backoffBase cannot exceed sync.backoffMax"))
	}

	if c.Sync.ReadRateLimit < 0 {
		err = errors.Join(err, errors.New("sync.readRateLimit cannot be negative"))
	}

	if !slices.Contains([]string{"", TimestampPolicyUTC, TimestampPolicyPreserve}, c.Sync.TimestampPolicy) {
		err = errors.Join(err, fmt.Errorf("sync.timestampPolicy %q is not supported", c.Sync.TimestampPolicy))
	}

	if !slices.Contains([]string{"", StorageKindFile, StorageKindSQLite}, c.Storage.Kind) {
		err = errors.Join(err, fmt.Errorf("storage.kind %q is not supported", c.Storage.Kind))
	}

	return err
}

func (c *DatabaseConfig) validate(name string) error {
	var err error

	kind := connector.Kind(strings.ToLower(string(c.Kind)))
	if !slices.Contains(connector.Kinds, kind) {
		return fmt.Errorf("%s: kind %q is not supported, expected one of %v", name, c.Kind, connector.Kinds)
	}

	if isEmpty(c.Database) {
		err = errors.Join(err, fmt.Errorf("%s: database cannot be empty", name))
	}

	if kind == connector.KindSQLite {
		return err
	}

	if isEmpty(c.Host) {
		err = errors.Join(err, fmt.Errorf("%s: host cannot be empty", name))
	}

	if isEmpty(c.Username) {
		err = errors.Join(err, fmt.Errorf("%s: username cannot be empty", name))
	}

	if c.Port < 0 || c.Port > 65535 {
		err = errors.Join(err, fmt.Errorf("%s: port %d is out of range", name, c.Port))
	}

	return err
}

func (c *Config) Print() {
	cfg := *c
	if cfg.Source.Password != "" {
		cfg.Source.Password = "*******"
	}
	if cfg.Target.Password != "" {
		cfg.Target.Password = "*******"
	}
	b, _ := json.Marshal(cfg)
	logger.Info("used config: " + string(b))
}

func isEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
