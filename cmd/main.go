package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"mqtt2serial/internal/bridge"
	"mqtt2serial/internal/clientmqtt"
	"mqtt2serial/internal/config"
	"mqtt2serial/internal/logger"
	"mqtt2serial/internal/metrics"
	"mqtt2serial/internal/network"
	"mqtt2serial/internal/projector"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "configs/conf.toml", "Path to configuration file")
}

func main() {
	flag.Parse()
	cfg, err := config.NewConfig(configFile)
	if err != nil {
		fmt.Printf("configuration file read error: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Printf("failed to create a logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Booting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer cancel()

	if err := run(ctx, log, cfg); err != nil {
		log.Errorf("bridge stopped: %v", err)
		cancel()
		os.Exit(1)
	}

	log.Info("shutdown complete")
}

func run(ctx context.Context, log *logger.Log, cfg *config.Config) error {
	if _, err := network.Join(ctx, log, cfg.WiFi, nil); err != nil {
		return fmt.Errorf("network: %w", err)
	}

	port, err := projector.Open(cfg.Serial)
	if err != nil {
		return err
	}
	defer port.Close()
	log.With(logger.Fields{"module": "serial"}).Infof("opened %s at %d baud", cfg.Serial.Device, cfg.Serial.Baud)

	client := clientmqtt.NewClient(log, ConvertConfigClientMQTT(cfg))
	if err := client.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := client.Stop(); err != nil {
			log.Error("failed to stop MQTT service:", err.Error())
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if cfg.Metrics.Listen != "" {
		metrics.NewServer(log, cfg.Metrics.Listen, reg, client.HealthCheck).Start(ctx)
	}

	handle := bridge.NewHandle(client)
	b := bridge.New(log, bridge.Config{
		ControlTopic:      cfg.Topics.Control,
		AvailabilityTopic: cfg.Topics.Availability,
		AckTopic:          cfg.Topics.Ack,
		QoS:               cfg.MQTT.Qos,
		QueueSize:         cfg.Bridge.QueueSize,
	}, handle, client, projector.NewWriter(log, port, cfg.Serial.Terminator), m)

	client.SetOnReconnect(func() {
		if err := handle.Announce(b.Announcement()); err != nil {
			log.With(logger.Fields{"module": "bridge"}).Errorf("re-announce after reconnect: %v", err)
		}
	})

	return b.Run(ctx)
}

// ConvertConfigClientMQTT builds the client settings from the config file.
func ConvertConfigClientMQTT(cfg *config.Config) clientmqtt.MQTTConf {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "mqtt2serial-" + uuid.NewString()[:8]
	}
	return clientmqtt.MQTTConf{
		ClientID:       clientID,
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		User:           cfg.MQTT.User,
		Password:       cfg.MQTT.Password,
		ConnectTimeout: cfg.MQTT.ConnectTimeout.Duration,
		EventBuffer:    cfg.Bridge.EventBuffer,
		Will: &clientmqtt.Will{
			Topic:    cfg.Topics.Availability,
			Payload:  bridge.PayloadOffline,
			QoS:      cfg.MQTT.Qos,
			Retained: true,
		},
	}
}
