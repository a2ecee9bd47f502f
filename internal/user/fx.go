package user

import (
	"github.com/smallbiznis/orgaccess/internal/storage"
	"github.com/smallbiznis/orgaccess/internal/user/repository"
	"github.com/smallbiznis/orgaccess/internal/user/service"
	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(repository.Provide),
	fx.Provide(storage.AsSchema(repository.Schema)),
	fx.Provide(service.New),
)
