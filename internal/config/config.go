package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Environment variables that override values from the file.
const (
	EnvMQTTHost     = "MQTT2SERIAL_MQTT_HOST"
	EnvMQTTPort     = "MQTT2SERIAL_MQTT_PORT"
	EnvMQTTUser     = "MQTT2SERIAL_MQTT_USER"
	EnvMQTTPassword = "MQTT2SERIAL_MQTT_PASSWORD"
	EnvWiFiSSID     = "MQTT2SERIAL_WIFI_SSID"
	EnvWiFiPassword = "MQTT2SERIAL_WIFI_PASSWORD"
	EnvSerialDevice = "MQTT2SERIAL_SERIAL_DEVICE"
)

// Config is the settings snapshot. It is built once at startup and only read afterwards.
type Config struct {
	Logger  LogConf     `toml:"logger"`
	WiFi    WiFiConf    `toml:"wifi"`
	MQTT    MQTTConf    `toml:"mqtt"`
	Topics  TopicsConf  `toml:"topics"`
	Serial  SerialConf  `toml:"serial"`
	Bridge  BridgeConf  `toml:"bridge"`
	Metrics MetricsConf `toml:"metrics"`
}

// LogConf holds the logger settings.
type LogConf struct {
	Level string `toml:"log-level"` // Level - debug, info, warn, error.
}

// WiFiConf holds the network link settings.
type WiFiConf struct {
	SSID        string   `toml:"ssid"`         // SSID - network the link is expected to join.
	Password    string   `toml:"password"`     // Password - network passphrase.
	Interface   string   `toml:"interface"`    // Interface - restrict the link check to one interface.
	JoinTimeout Duration `toml:"join-timeout"` // JoinTimeout - how long Join waits for an address.
}

// MQTTConf holds the broker settings.
type MQTTConf struct {
	ClientID       string   `toml:"clientID"`        // ClientID - empty means generated.
	Host           string   `toml:"server"`          // Host - broker address.
	Port           int      `toml:"port"`            // Port - broker port.
	User           string   `toml:"user"`            // User - broker login.
	Password       string   `toml:"password"`        // Password - broker password.
	Qos            byte     `toml:"qos"`             // Qos - subscribe/publish quality of service.
	ConnectTimeout Duration `toml:"connect-timeout"` // ConnectTimeout - initial connect budget.
}

// TopicsConf holds the topic names.
type TopicsConf struct {
	Control      string `toml:"control"`      // Control - ON/OFF commands arrive here.
	Availability string `toml:"availability"` // Availability - retained online/offline.
	Ack          string `toml:"ack"`          // Ack - wire string of every command written.
}

// SerialConf holds the serial link settings.
type SerialConf struct {
	Device     string `toml:"device"`
	Baud       int    `toml:"baud"`
	Terminator string `toml:"terminator"`
}

// BridgeConf sizes the internal queues.
type BridgeConf struct {
	QueueSize   int `toml:"queue-size"`   // QueueSize - relay channel capacity.
	EventBuffer int `toml:"event-buffer"` // EventBuffer - inbound broker events buffered before back-pressure.
}

// MetricsConf configures the optional HTTP endpoint. Empty Listen disables it.
type MetricsConf struct {
	Listen string `toml:"listen"`
}

// Duration lets TOML carry values like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Logger: LogConf{Level: "info"},
		WiFi: WiFiConf{
			JoinTimeout: Duration{30 * time.Second},
		},
		MQTT: MQTTConf{
			Host:           "test.mosquitto.org",
			Port:           1883,
			Qos:            1,
			ConnectTimeout: Duration{10 * time.Second},
		},
		Topics: TopicsConf{
			Control:      "bedroom/projector/switch/set",
			Availability: "bedroom/projector/available",
			Ack:          "bedroom/projector/switch",
		},
		Serial: SerialConf{
			Device:     "/dev/ttyUSB0",
			Baud:       115200,
			Terminator: "\n",
		},
		Bridge: BridgeConf{
			QueueSize:   16,
			EventBuffer: 64,
		},
	}
}

// NewConfig reads path over the defaults, applies env overrides and validates.
func NewConfig(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return &cfg, err
	}
	if err := applyEnv(&cfg); err != nil {
		return &cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return &cfg, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvMQTTHost); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv(EnvMQTTPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %w", ErrInvalidConfig, EnvMQTTPort, v, err)
		}
		cfg.MQTT.Port = port
	}
	if v := os.Getenv(EnvMQTTUser); v != "" {
		cfg.MQTT.User = v
	}
	if v := os.Getenv(EnvMQTTPassword); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv(EnvWiFiSSID); v != "" {
		cfg.WiFi.SSID = v
	}
	if v := os.Getenv(EnvWiFiPassword); v != "" {
		cfg.WiFi.Password = v
	}
	if v := os.Getenv(EnvSerialDevice); v != "" {
		cfg.Serial.Device = v
	}
	return nil
}

// Validate checks values that would otherwise fail late, deep inside a worker.
func (c *Config) Validate() error {
	switch {
	case c.MQTT.Host == "":
		return fmt.Errorf("%w: mqtt.server is empty", ErrInvalidConfig)
	case c.MQTT.Port < 1 || c.MQTT.Port > 65535:
		return fmt.Errorf("%w: mqtt.port %d out of range", ErrInvalidConfig, c.MQTT.Port)
	case c.MQTT.Qos > 2:
		return fmt.Errorf("%w: mqtt.qos %d must be 0, 1 or 2", ErrInvalidConfig, c.MQTT.Qos)
	case c.Topics.Control == "" || c.Topics.Availability == "" || c.Topics.Ack == "":
		return fmt.Errorf("%w: topics must not be empty", ErrInvalidConfig)
	case c.Serial.Device == "":
		return fmt.Errorf("%w: serial.device is empty", ErrInvalidConfig)
	case c.Serial.Baud <= 0:
		return fmt.Errorf("%w: serial.baud %d", ErrInvalidConfig, c.Serial.Baud)
	case c.Bridge.QueueSize <= 0:
		return fmt.Errorf("%w: bridge.queue-size %d", ErrInvalidConfig, c.Bridge.QueueSize)
	case c.Bridge.EventBuffer <= 0:
		return fmt.Errorf("%w: bridge.event-buffer %d", ErrInvalidConfig, c.Bridge.EventBuffer)
	}
	return nil
}
