package main

import (
	"github.com/smallbiznis/orgaccess/internal/clock"
	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/lock"
	"github.com/smallbiznis/orgaccess/internal/migration"
	"github.com/smallbiznis/orgaccess/internal/observability"
	"github.com/smallbiznis/orgaccess/internal/password"
	"github.com/smallbiznis/orgaccess/internal/server"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		// Core Infrastructure
		config.Module,
		observability.Module,
		storage.Module,
		migration.Module,
		clock.Module,
		lock.Module,
		fx.Provide(password.NewDefaultHasher),

		// Users, organizations and membership routes
		server.Module,
	)
	app.Run()
}
