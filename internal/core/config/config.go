package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type InfluxCfg struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type RabbitCfg struct {
	Host              string
	Port              int
	User              string
	Pass              string
	QueueRaw          string
	ExchangeBroadcast string
	PoolSize          int
	Prefetch          int
}

// URL assembles the AMQP dial string from the individual parts.
func (r RabbitCfg) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.User, r.Pass, r.Host, r.Port)
}

type Config struct {
	HTTPAddr    string
	MetricsAddr string
	LogLevel    string
	LogConsole  bool
	LogSampleN  int

	Influx InfluxCfg
	Rabbit RabbitCfg

	GeohashPrecision int

	ThresholdPM25 float64
	ThresholdPM10 float64
	ThresholdNO2  float64
	ThresholdSO2  float64
	ThresholdO3   float64

	RedisAddr   string
	CacheTTL    time.Duration
	QueryRowCap int
}

func FromEnv() Config {
	prec := getint("GEOHASH_PRECISION_STORAGE", 7)
	if prec < 1 {
		prec = 1
	}
	if prec > 12 {
		prec = 12
	}

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8000"),
		MetricsAddr: getenv("METRICS_ADDR", ":9090"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogConsole:  getbool("LOG_CONSOLE", false),
		LogSampleN:  getint("LOG_SAMPLE_N", 0),
		Influx: InfluxCfg{
			URL:    getenv("INFLUXDB_URL", "http://localhost:8086"),
			Token:  getenv("INFLUXDB_TOKEN", ""),
			Org:    getenv("INFLUXDB_ORG", "airquality_org"),
			Bucket: getenv("INFLUXDB_BUCKET", "airquality_data"),
		},
		Rabbit: RabbitCfg{
			Host:              getenv("RABBITMQ_HOST", "localhost"),
			Port:              getint("RABBITMQ_PORT", 5672),
			User:              getenv("RABBITMQ_DEFAULT_USER", "guest"),
			Pass:              getenv("RABBITMQ_DEFAULT_PASS", "guest"),
			QueueRaw:          getenv("RABBITMQ_QUEUE_RAW", "raw_air_quality"),
			ExchangeBroadcast: getenv("RABBITMQ_EXCHANGE_BROADCAST", "anomaly_broadcast"),
			PoolSize:          getint("BROKER_POOL_SIZE", 15),
			Prefetch:          getint("WORKER_PREFETCH", 10),
		},
		GeohashPrecision: prec,
		ThresholdPM25:    getfloat("THRESHOLD_PM25_HAZARDOUS", 250),
		ThresholdPM10:    getfloat("THRESHOLD_PM10_HAZARDOUS", 420),
		ThresholdNO2:     getfloat("THRESHOLD_NO2_HAZARDOUS", 200),
		ThresholdSO2:     getfloat("THRESHOLD_SO2_HAZARDOUS", 0),
		ThresholdO3:      getfloat("THRESHOLD_O3_HAZARDOUS", 0),
		RedisAddr:        getenv("REDIS_ADDR", ""),
		CacheTTL:         getduration("CACHE_TTL", 30*time.Second),
		QueryRowCap:      getint("QUERY_ROW_CAP", 10000),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
