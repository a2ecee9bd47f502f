package storage

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/ident"
	obslogger "github.com/smallbiznis/orgaccess/internal/observability/logger"
	"github.com/smallbiznis/orgaccess/internal/observability/metrics"
	"github.com/smallbiznis/orgaccess/pkg/db"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("storage",
	fx.Provide(NewSnowflakeNode),
	fx.Provide(NewBackend),
	fx.Provide(func(b *Backend) ident.Scheme { return b.IDs }),
)

// Schema describes one collection so migrations can create it. Entity
// modules contribute theirs with AsSchema.
type Schema struct {
	Collection string
	Model      any
	// Indexes lists fields that get a non-unique ascending index.
	Indexes []string
}

const schemaGroup = `group:"storage.schemas"`

// AsSchema annotates a Schema constructor for the storage.schemas group.
func AsSchema(f any) any {
	return fx.Annotate(f, fx.ResultTags(schemaGroup))
}

type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Node    *snowflake.Node
	Metrics *metrics.StoreMetrics `optional:"true"`
}

func NewSnowflakeNode(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}

// NewBackend connects the backend selected by STORE_TYPE. Connections are
// verified on start and closed on stop.
func NewBackend(p Params) (*Backend, error) {
	log := p.Log.Named("storage")

	if p.Cfg.IsMongo() {
		return newMongoBackend(p, log)
	}
	return newSQLBackend(p, log)
}

func newMongoBackend(p Params, log *zap.Logger) (*Backend, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(p.Cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	backend := &Backend{
		Kind:    config.StoreMongo,
		Mongo:   client.Database(p.Cfg.MongoDatabase),
		IDs:     ident.ObjectIDScheme{},
		Metrics: p.Metrics,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := backend.Ping(ctx); err != nil {
				log.Error("mongo ping failed", zap.Error(err))
				return err
			}
			log.Info("mongo connected", zap.String("database", p.Cfg.MongoDatabase))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("disconnecting mongo")
			return client.Disconnect(ctx)
		},
	})

	return backend, nil
}

func newSQLBackend(p Params, log *zap.Logger) (*Backend, error) {
	cfg := db.Config{
		Type:            p.Cfg.StoreType,
		Host:            p.Cfg.DBHost,
		Port:            p.Cfg.DBPort,
		Name:            p.Cfg.DBName,
		User:            p.Cfg.DBUser,
		Password:        p.Cfg.DBPassword,
		SSLMode:         p.Cfg.DBSSLMode,
		MaxIdleConn:     p.Cfg.DBMaxIdleConn,
		MaxOpenConn:     p.Cfg.DBMaxOpenConn,
		ConnMaxLifetime: p.Cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: p.Cfg.DBConnMaxIdleTime,
	}

	conn, err := db.Open(cfg, &gorm.Config{
		Logger: obslogger.NewQueryLogger(log, obslogger.DefaultQueryLoggerConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Type, err)
	}

	if err := conn.Use(otelgorm.NewPlugin(
		otelgorm.WithDBName(cfg.Name),
		otelgorm.WithoutQueryVariables(),
	)); err != nil {
		return nil, fmt.Errorf("register otelgorm: %w", err)
	}
	if err := conn.Use(gormprometheus.New(gormprometheus.Config{
		DBName:          cfg.Name,
		RefreshInterval: 15,
		StartServer:     false,
	})); err != nil {
		return nil, fmt.Errorf("register gorm prometheus: %w", err)
	}

	backend := &Backend{
		Kind:    cfg.Type,
		SQL:     conn,
		IDs:     ident.NewSnowflakeScheme(p.Node),
		Metrics: p.Metrics,
	}

	p.Lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := backend.Ping(ctx); err != nil {
				log.Error("database ping failed", zap.String("type", cfg.Type), zap.Error(err))
				return err
			}
			log.Info("database connected", zap.String("type", cfg.Type), zap.String("name", cfg.Name))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			log.Info("closing database")
			return sqlDB.Close()
		},
	})

	return backend, nil
}
