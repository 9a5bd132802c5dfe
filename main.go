package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ha_ocpp/actions"
	"ha_ocpp/centralsystem"
	"ha_ocpp/codec"
	"ha_ocpp/config"
	"ha_ocpp/notifier"
	natsnotifier "ha_ocpp/notifier/nats"
	"ha_ocpp/session"
	"ha_ocpp/storage"
	"ha_ocpp/storage/memory"
	redisstore "ha_ocpp/storage/redis"
)

const shutdownTimeout = 10 * time.Second

var log *logrus.Logger

// setupTLS requires and verifies client certificates signed by the CA in caFile.
func setupTLS(caFile string) (*tls.Config, error) {
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read CA certificate from %v: %w", caFile, err)
	}
	certPool := x509.NewCertPool()
	if !certPool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("couldn't read CA certificate from %v", caFile)
	}
	return &tls.Config{
		ClientAuth: tls.RequireAndVerifyClientCert,
		ClientCAs:  certPool,
	}, nil
}

func setupStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Store != "redis" {
		return memory.New(), nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	redisConfig := cfg.RedisConfig()
	redisConfig.Client = client
	return redisstore.New(redisConfig)
}

// Start function
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	log.SetLevel(level)

	store, err := setupStore(cfg)
	if err != nil {
		log.Fatalf("couldn't open %s store: %v", cfg.Store, err)
	}
	defer store.Close()

	var observer session.Observer
	var publisher *notifier.MetricPublisher
	if cfg.NatsEnabled {
		publisher = notifier.NewMetricPublisher(cfg.NotificationBuffer, log)
		observer = publisher
	}

	ocppCodec := codec.New(!cfg.SkipSchemaValidation)
	registry := centralsystem.NewRegistry(func(identity string) *session.ChargePoint {
		return session.New(identity, session.Config{
			Codec:    ocppCodec,
			Settings: cfg.SessionSettings(identity),
			Observer: observer,
			Store:    store,
			Logger:   log,
		})
	}, log)

	if cfg.NatsEnabled {
		publisher.Bind(registry)
		natsNotifier := natsnotifier.New(cfg.NatsConfig(), log)
		natsNotifier.SetChannel(publisher.NotificationChannel())
		for action, fn := range actions.New(registry, log).Handlers() {
			natsNotifier.AddHandler(action, natsnotifier.Function(fn))
		}
		log.Printf("waiting for command responses up to %v", natsNotifier.Timeout().String())
		if err := natsNotifier.Start(); err != nil {
			log.Fatal(err)
		}
		defer natsNotifier.Stop()
	}

	listenerConfig := cfg.ListenerConfig()
	if cfg.CAFile != "" {
		if listenerConfig.TLSConfig, err = setupTLS(cfg.CAFile); err != nil {
			log.Fatal(err)
		}
	}
	listener := centralsystem.NewListener(listenerConfig, registry, log)

	errs := make(chan error, 1)
	go func() { errs <- listener.ListenAndServe() }()
	log.Infof("starting central system %s on %s", cfg.CSID, listener.Addr())

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-signals:
		log.Infof("received %v, shutting down", sig)
	case err := <-errs:
		if err != nil {
			log.WithError(err).Error("listener failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := listener.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("unclean shutdown")
	}
	log.Info("stopped central system")
}

func init() {
	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// LOG_LEVEL=debug shows every frame exchanged with the charge points
	log.SetLevel(logrus.InfoLevel)
}
