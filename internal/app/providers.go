package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyentranbao-ct/consult-live/internal/config"
	"github.com/nguyentranbao-ct/consult-live/internal/kafka"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/auth"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/backend"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/beacon"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/mongodb"
	"github.com/nguyentranbao-ct/consult-live/internal/repo/socket"
	"github.com/nguyentranbao-ct/consult-live/internal/server"
	"github.com/nguyentranbao-ct/consult-live/internal/usecase"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// MustLogger builds the process logger. Format "console" gives the
// development encoder, anything else JSON.
func MustLogger(conf config.LogConfig) *zap.SugaredLogger {
	level, err := zapcore.ParseLevel(conf.Level)
	if err != nil {
		panic(fmt.Sprintf("parse log level: %v", err))
	}
	zc := zap.NewProductionConfig()
	if conf.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	l, err := zc.Build()
	if err != nil {
		panic(fmt.Sprintf("build logger: %v", err))
	}
	zap.ReplaceGlobals(l)
	return l.Sugar()
}

func newSocketClient(lc fx.Lifecycle, conf *config.Config, session auth.Session, log *zap.SugaredLogger) (socket.Transport, server.Connector) {
	c := socket.NewClient(conf, session, log)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Start()
			return nil
		},
		OnStop: c.Stop,
	})
	return c, c
}

func newStreamHub(conf *config.Config, log *zap.SugaredLogger) (*server.StreamHub, usecase.Notifier, error) {
	hub, err := server.NewStreamHub(conf, log)
	if err != nil {
		return nil, nil, err
	}
	return hub, hub, nil
}

// newBeacon reports attendance through Kafka when enabled and through the
// backend otherwise.
func newBeacon(lc fx.Lifecycle, conf *config.Config, be backend.Client, log *zap.SugaredLogger) (beacon.Beacon, error) {
	if !conf.Kafka.Enabled {
		b := beacon.NewHTTPBeacon(be, conf, log)
		lc.Append(fx.Hook{OnStop: b.Close})
		return b, nil
	}
	producer, err := kafka.NewAsyncProducer(conf.Kafka)
	if err != nil {
		return nil, fmt.Errorf("init kafka producer: %w", err)
	}
	b := beacon.NewKafkaBeacon(producer, conf, log)
	lc.Append(fx.Hook{OnStop: b.Close})
	return b, nil
}

func newSessionLog(lc fx.Lifecycle, conf *config.Config) (mongodb.SessionLogRepository, error) {
	if !conf.Database.Enabled {
		return mongodb.NewMemorySessionLogRepository(), nil
	}
	db, err := newMongoDB(lc, conf)
	if err != nil {
		return nil, err
	}
	return mongodb.NewSessionLogRepository(db), nil
}

func newMongoDB(lc fx.Lifecycle, cfg *config.Config) (*mongodb.DB, error) {
	opts := options.Client().
		SetAppName("consult-live").
		SetDirect(cfg.Database.Direct).
		SetHosts(cfg.Database.Hosts)

	if cfg.Database.Username != "" {
		opts.SetAuth(options.Credential{
			Username:      cfg.Database.Username,
			Password:      cfg.Database.Password,
			AuthSource:    cfg.Database.AuthDB,
			AuthMechanism: "SCRAM-SHA-256",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mongoClient, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("init mongo client: %w", err)
	}

	db := &mongodb.DB{
		Client:   mongoClient,
		Database: mongoClient.Database(cfg.Database.Database),
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return mongoClient.Ping(ctx, nil)
		},
		OnStop: db.Close,
	})
	return db, nil
}
