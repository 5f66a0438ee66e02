// Package config loads process settings from the environment; cobra flags
// registered with BindFlags override them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Nourkes/iot-project/pkg/messaging"
)

const (
	DefaultTelemetryTopic = "sensors/temperature/data"
	DefaultCommandTopic   = "sensors/temperature/command"
	DefaultDeviceID       = "virtual_sensor_001"
)

type MQTT struct {
	Host           string
	Port           int
	User           string
	Password       string
	ClientID       string
	TLS            bool
	CAFile         string
	ServerName     string
	ConnectTimeout time.Duration
	RetryInterval  time.Duration
	KeepAlive      time.Duration
	PendingLimit   int
}

type Topics struct {
	Telemetry string
	Command   string
}

type Influx struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Enabled reports whether readings should be recorded.
func (i Influx) Enabled() bool { return i.URL != "" && i.Token != "" }

type Config struct {
	MQTT   MQTT
	Topics Topics
	Influx Influx

	DeviceID         string
	SamplingInterval time.Duration
	RebootSettle     time.Duration

	HTTPAddr        string
	GRPCAddr        string
	HistorySize     int
	RefreshInterval time.Duration

	LogLevel string
}

// Load reads the environment, falling back to the defaults of a local
// mosquitto setup.
func Load() Config {
	return Config{
		MQTT: MQTT{
			Host:           env("MQTT_HOST", "localhost"),
			Port:           envInt("MQTT_PORT", 1883),
			User:           env("MQTT_USERNAME", ""),
			Password:       env("MQTT_PASSWORD", ""),
			ClientID:       env("MQTT_CLIENT_ID", ""),
			TLS:            envBool("MQTT_TLS", false),
			CAFile:         env("MQTT_CA_FILE", ""),
			ServerName:     env("MQTT_SERVER_NAME", ""),
			ConnectTimeout: envDuration("CONNECT_TIMEOUT", 10*time.Second),
			RetryInterval:  envDuration("RETRY_INTERVAL", 5*time.Second),
			KeepAlive:      envDuration("KEEPALIVE", 60*time.Second),
			PendingLimit:   envInt("PENDING_LIMIT", 256),
		},
		Topics: Topics{
			Telemetry: env("TOPIC_TELEMETRY", DefaultTelemetryTopic),
			Command:   env("TOPIC_COMMAND", DefaultCommandTopic),
		},
		Influx: Influx{
			URL:    env("INFLUX_URL", ""),
			Token:  env("INFLUX_TOKEN", ""),
			Org:    env("INFLUX_ORG", "iot"),
			Bucket: env("INFLUX_BUCKET", "telemetry"),
		},
		DeviceID:         env("DEVICE_ID", DefaultDeviceID),
		SamplingInterval: envDuration("SAMPLING_INTERVAL", 5*time.Second),
		RebootSettle:     envDuration("REBOOT_SETTLE", 2*time.Second),
		HTTPAddr:         env("HTTP_ADDR", ":8080"),
		GRPCAddr:         env("GRPC_ADDR", ":50051"),
		HistorySize:      envInt("HISTORY_SIZE", 100),
		RefreshInterval:  envDuration("REFRESH_INTERVAL", 2*time.Second),
		LogLevel:         env("LOG_LEVEL", "info"),
	}
}

// BindFlags registers the broker and logging flags on cmd, using the
// current values as defaults.
func (c *Config) BindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&c.MQTT.Host, "mqtt-host", c.MQTT.Host, "MQTT broker host")
	f.IntVar(&c.MQTT.Port, "mqtt-port", c.MQTT.Port, "MQTT broker port")
	f.StringVar(&c.MQTT.User, "mqtt-user", c.MQTT.User, "MQTT username")
	f.StringVar(&c.MQTT.ClientID, "client-id", c.MQTT.ClientID, "MQTT client id (random when empty)")
	f.BoolVar(&c.MQTT.TLS, "tls", c.MQTT.TLS, "connect with TLS (ssl://)")
	f.StringVar(&c.MQTT.CAFile, "ca-file", c.MQTT.CAFile, "PEM bundle used to verify the broker")
	f.StringVar(&c.Topics.Telemetry, "telemetry-topic", c.Topics.Telemetry, "telemetry topic")
	f.StringVar(&c.Topics.Command, "command-topic", c.Topics.Command, "command topic")
	f.StringVar(&c.LogLevel, "log-level", c.LogLevel, "zerolog level")
}

// Session converts the broker settings to a messaging configuration.
func (c Config) Session() (messaging.Config, error) {
	sc := messaging.Config{
		Host:           c.MQTT.Host,
		Port:           c.MQTT.Port,
		User:           c.MQTT.User,
		Password:       c.MQTT.Password,
		ClientID:       c.MQTT.ClientID,
		ConnectTimeout: c.MQTT.ConnectTimeout,
		KeepAlive:      c.MQTT.KeepAlive,
		RetryInterval:  c.MQTT.RetryInterval,
		PendingLimit:   c.MQTT.PendingLimit,
		QoS:            1,
	}
	if c.MQTT.TLS {
		tlsCfg, err := messaging.NewTLSConfig(c.MQTT.CAFile, c.MQTT.ServerName, false)
		if err != nil {
			return messaging.Config{}, fmt.Errorf("tls: %w", err)
		}
		sc.TLS = tlsCfg
	}
	return sc, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// envDuration accepts a Go duration ("1500ms") or a plain number of seconds.
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
		return time.Duration(f * float64(time.Second))
	}
	return def
}
