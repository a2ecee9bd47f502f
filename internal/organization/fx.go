package organization

import (
	"github.com/smallbiznis/orgaccess/internal/organization/repository"
	"github.com/smallbiznis/orgaccess/internal/organization/service"
	"github.com/smallbiznis/orgaccess/internal/storage"
	"go.uber.org/fx"
)

var Module = fx.Module("organization.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(storage.AsSchema(repository.Schema)),
	fx.Provide(service.NewService),
)
