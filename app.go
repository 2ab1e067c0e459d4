package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"easee-invoicing/internal/audit"
	"easee-invoicing/internal/config"
	consumptionapp "easee-invoicing/internal/consumption/application"
	sqlitecache "easee-invoicing/internal/consumption/infrastructure/sqlite"
	"easee-invoicing/internal/easee"
	invoiceapp "easee-invoicing/internal/invoicing/application"
	invoicing "easee-invoicing/internal/invoicing/domain"
	"easee-invoicing/internal/invoicing/infrastructure/memory"
	"easee-invoicing/internal/invoicing/infrastructure/postgres"
	"easee-invoicing/internal/invoicing/infrastructure/pricing"
	"easee-invoicing/internal/invoicing/interfaces"
	"easee-invoicing/migrations"
)

// app holds the wired collaborators shared by the serve and invoice commands.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	db       *sql.DB
	client   *easee.Client
	invoices *invoiceapp.InvoiceService
	audit    audit.Logger
	closers  []func()
}

func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	client, err := easee.NewClient(cfg.Easee.BaseURL,
		easee.WithTimeout(cfg.Easee.Timeout),
		easee.WithConsumptionPaths(cfg.Easee.ConsumptionPaths))
	if err != nil {
		return nil, err
	}
	a.client = client

	consumptionOpts := []consumptionapp.Option{consumptionapp.WithLogger(logger)}
	if cfg.CachePath != "" {
		cache, err := sqlitecache.Open(ctx, cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("opening consumption cache: %w", err)
		}
		a.closers = append(a.closers, func() { _ = cache.Close() })
		consumptionOpts = append(consumptionOpts, consumptionapp.WithCache(cache))
		logger.Info("consumption cache enabled", zap.String("path", cfg.CachePath))
	}
	reader, err := consumptionapp.NewService(client, consumptionOpts...)
	if err != nil {
		return nil, err
	}

	fixed, err := pricing.NewFixedPriceProvider(cfg.PricePerKWh)
	if err != nil {
		return nil, err
	}
	prices, err := pricing.NewTariffProvider(cfg.Tariffs, fixed)
	if err != nil {
		return nil, err
	}

	var repo invoicing.Repository
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() { _ = db.Close() })
		applied, err := migrations.Apply(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("applying migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", zap.Strings("files", applied))
		}
		repo = postgres.NewInvoiceRepository(db)
		a.audit = audit.NewRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, invoices are kept in memory")
		repo = memory.NewInvoiceRepository()
		a.audit = audit.NewZapLogger(logger)
	}

	publisher, err := a.buildPublisher()
	if err != nil {
		return nil, err
	}

	invoices, err := invoiceapp.NewInvoiceService(repo, reader, prices,
		invoiceapp.WithChargerLister(client),
		invoiceapp.WithPublisher(publisher),
		invoiceapp.WithCurrency(cfg.Currency),
		invoiceapp.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	a.invoices = invoices
	ok = true
	return a, nil
}

func (a *app) buildPublisher() (invoiceapp.InvoicePublisher, error) {
	logging := interfaces.NewLoggingPublisher(a.logger.Named("events"))
	if !a.cfg.MQTT.Enabled() {
		return logging, nil
	}
	mqttPublisher, err := interfaces.NewMQTTPublisher(interfaces.MQTTOptions{
		Broker:      a.cfg.MQTT.Broker,
		ClientID:    a.cfg.MQTT.ClientID,
		Username:    a.cfg.MQTT.Username,
		Password:    a.cfg.MQTT.Password,
		TopicPrefix: a.cfg.MQTT.TopicPrefix,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connecting mqtt publisher: %w", err)
	}
	a.closers = append(a.closers, mqttPublisher.Close)
	return interfaces.NewMultiPublisher(logging, mqttPublisher), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL or PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}
