package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/Trendyol/go-db-sync/connector"
	"github.com/Trendyol/go-db-sync/logger"
	"github.com/go-playground/errors"
	"gopkg.in/yaml.v2"
)

func ReadConfigYAML(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read yaml config")
	}

	c := Config{}

	err = yaml.Unmarshal(b, &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "yaml config file parse")
	}

	return c, nil
}

func ReadConfigJSON(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read json config")
	}

	c := Config{}

	err = json.Unmarshal(b, &c)
	if err != nil {
		return Config{}, errors.Wrap(err, "json config file parse")
	}

	return c, nil
}

// ReadConfigFile picks the decoder by file extension, YAML being the default.
func ReadConfigFile(path string) (Config, error) {
	if strings.HasSuffix(path, ".json") {
		return ReadConfigJSON(path)
	}
	return ReadConfigYAML(path)
}

// ReadConfigEnv builds a configuration from SOURCE_DB_*, TARGET_DB_* and the sync
// variables. TABLES_TO_SYNC is a comma separated list of src[:target][@watermark].
func ReadConfigEnv() (Config, error) {
	c := Config{
		Source: readDatabaseEnv("SOURCE_DB_"),
		Target: readDatabaseEnv("TARGET_DB_"),
	}

	for _, entry := range strings.Split(os.Getenv("TABLES_TO_SYNC"), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		c.Tables = append(c.Tables, parseTablePair(entry))
	}

	var err error
	if c.Sync.BatchSize, err = envInt("BATCH_SIZE"); err != nil {
		return Config{}, err
	}
	if c.Sync.MaxRetries, err = envInt("MAX_RETRIES"); err != nil {
		return Config{}, err
	}
	if c.Sync.Concurrency, err = envInt("SYNC_CONCURRENCY"); err != nil {
		return Config{}, err
	}
	if c.Metric.Port, err = envInt("METRICS_PORT"); err != nil {
		return Config{}, err
	}

	c.Sync.Schedule = os.Getenv("SYNC_SCHEDULE")
	c.Storage.OffsetPath = os.Getenv("OFFSET_STORAGE_PATH")
	c.Storage.SchemaPath = os.Getenv("SCHEMA_STORAGE_PATH")
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logger.LogLevel = logger.ParseLevel(level)
	}

	return c, nil
}

func readDatabaseEnv(prefix string) DatabaseConfig {
	port, _ := strconv.Atoi(os.Getenv(prefix + "PORT"))
	return DatabaseConfig{
		Kind:     connector.Kind(strings.ToLower(os.Getenv(prefix + "TYPE"))),
		Host:     os.Getenv(prefix + "HOST"),
		Port:     port,
		Database: os.Getenv(prefix + "NAME"),
		Schema:   os.Getenv(prefix + "SCHEMA"),
		Username: os.Getenv(prefix + "USER"),
		Password: os.Getenv(prefix + "PASSWORD"),
	}
}

func parseTablePair(entry string) TablePair {
	var p TablePair
	entry, p.WatermarkColumn, _ = strings.Cut(entry, "@")
	p.Source, p.Target, _ = strings.Cut(entry, ":")
	p.Source = strings.TrimSpace(p.Source)
	p.Target = strings.TrimSpace(p.Target)
	p.WatermarkColumn = strings.TrimSpace(p.WatermarkColumn)
	return p
}

func envInt(name string) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	return n, nil
}
