package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// RunMigrations applies the embedded postgres migrations.
func RunMigrations(db *sql.DB) error {
	if db == nil {
		return errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.

	return nil
}

// EnsureSchema prepares every registered collection on backend. Postgres
// uses the versioned SQL migrations, the other SQL dialects are
// auto-migrated from the models and MongoDB only needs its indexes.
func EnsureSchema(ctx context.Context, backend *storage.Backend, schemas []storage.Schema) error {
	switch {
	case backend.Mongo != nil:
		return ensureMongoIndexes(ctx, backend.Mongo, schemas)
	case backend.Kind == config.StorePostgres:
		sqlDB, err := backend.SQL.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	default:
		for _, schema := range schemas {
			if err := backend.SQL.WithContext(ctx).AutoMigrate(schema.Model); err != nil {
				return fmt.Errorf("auto migrate %s: %w", schema.Collection, err)
			}
		}
		return nil
	}
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database, schemas []storage.Schema) error {
	for _, schema := range schemas {
		for _, field := range schema.Indexes {
			model := mongo.IndexModel{
				Keys:    bson.D{{Key: field, Value: 1}},
				Options: options.Index().SetName(IndexName(schema.Collection, field)),
			}
			if _, err := db.Collection(schema.Collection).Indexes().CreateOne(ctx, model); err != nil {
				return fmt.Errorf("create index %s.%s: %w", schema.Collection, field, err)
			}
		}
	}
	return nil
}

func IndexName(collection, field string) string {
	return "idx_" + collection + "_" + field
}
