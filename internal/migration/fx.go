package migration

import (
	"context"

	"github.com/smallbiznis/orgaccess/internal/config"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lc      fx.Lifecycle
	Cfg     config.Config
	Log     *zap.Logger
	Backend *storage.Backend
	Schemas []storage.Schema `group:"storage.schemas"`
}

var Module = fx.Module("migrations",
	fx.Invoke(func(p Params) {
		if !p.Cfg.StoreAutoMigrate {
			p.Log.Named("migration").Info("schema migration disabled")
			return
		}
		p.Lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				log := p.Log.Named("migration")
				if err := EnsureSchema(ctx, p.Backend, p.Schemas); err != nil {
					log.Error("schema migration failed", zap.String("store", p.Backend.Kind), zap.Error(err))
					return err
				}
				log.Info("schema ready", zap.String("store", p.Backend.Kind), zap.Int("collections", len(p.Schemas)))
				return nil
			},
		})
	}),
)
