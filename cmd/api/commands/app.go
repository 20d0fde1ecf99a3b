package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"approvals/internal/alert"
	"approvals/internal/config"
	"approvals/internal/database"
	"approvals/internal/directory"
	"approvals/internal/notify"
	"approvals/internal/repository"
	"approvals/internal/service"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"gorm.io/gorm"
)

// app holds the dependencies shared by the commands. Close releases them in
// reverse order of acquisition.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	workflow service.Workflow
	closers  []func()
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := database.DSN(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode)
	db, err := database.NewConnection(dsn)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	return db, nil
}

// newApp wires the workflow. extra notifiers are fanned out to next to the
// configured brokers.
func newApp(ctx context.Context, cfg *config.Config, extra ...notify.Notifier) (*app, error) {
	a := &app{cfg: cfg, logger: slog.Default()}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.onClose(func() { _ = sqlDB.Close() })
	}
	a.logger.Info("connected to PostgreSQL")

	mongoClient, err := directory.Connect(ctx, directory.MongoConfig{URI: cfg.Mongo.URI, Database: cfg.Mongo.Database})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.onClose(func() { _ = mongoClient.Disconnect(context.Background()) })
	a.logger.Info("connected to MongoDB", "database", cfg.Mongo.Database)

	var alerter alert.Alerter = alert.NewLogAlerter(a.logger)
	if cfg.Rollbar.Token != "" {
		host, _ := os.Hostname()
		ra := alert.NewRollbarAlerter(a.logger, alert.RollbarConfig{
			Token:       cfg.Rollbar.Token,
			Environment: cfg.Rollbar.Environment,
			ServerHost:  host,
			CodeVersion: "1.0",
		})
		a.onClose(ra.Close)
		alerter = ra
	}

	notifiers := notify.Multi(extra)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose(func() { _ = rdb.Close() })
		notifiers = append(notifiers, notify.NewRedisNotifier(rdb, cfg.Redis.Channel))
		a.logger.Info("publishing change events to redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	}
	if cfg.RabbitMQ.URI != "" {
		an, err := notify.NewAMQPNotifier(cfg.RabbitMQ.URI, cfg.RabbitMQ.Exchange)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.onClose(func() { _ = an.Close() })
		notifiers = append(notifiers, an)
		a.logger.Info("publishing change events to rabbitmq", "exchange", cfg.RabbitMQ.Exchange)
	}

	a.workflow = service.Workflow{
		Requests:  repository.NewApprovalRepository(db),
		Audit:     service.NewAuditService(repository.NewAuditRepository(db), nil),
		Directory: newDirectory(mongoClient, cfg.Mongo.Database),
		Notifier:  notifiers,
		Alerter:   alerter,
		Tx:        repository.NewTransactionManager(db),
		Policy:    policyFrom(cfg.Approvals),
		Logger:    a.logger,
	}
	return a, nil
}

func newDirectory(client *mongo.Client, dbName string) service.TargetDirectory {
	return directory.NewMongoDirectory(client.Database(dbName))
}

func policyFrom(c config.ApprovalsConfig) service.Policy {
	return service.Policy{
		TTL:                c.TTL,
		DefaultRequired:    c.DefaultRequired,
		RequiredByType:     c.Required,
		RejectQuorumByType: c.RejectQuorum,
		MaxCASAttempts:     c.MaxCASAttempts,
		SingleUseAccess:    c.SingleUseAccess,
	}
}
