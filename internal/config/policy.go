package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AccessPolicy lists the access levels a membership may carry.
// An empty list leaves access levels opaque: any non-blank tag is accepted.
type AccessPolicy struct {
	Levels []string `mapstructure:"levels"`
}

func DefaultAccessPolicy() AccessPolicy {
	return AccessPolicy{Levels: []string{}}
}

// Allows reports whether level is permitted. level is expected to be trimmed.
func (p AccessPolicy) Allows(level string) bool {
	if level == "" {
		return false
	}
	if len(p.Levels) == 0 {
		return true
	}
	for _, allowed := range p.Levels {
		if allowed == level {
			return true
		}
	}
	return false
}

type AccessPolicyHolder struct {
	current atomic.Value // holds AccessPolicy
	log     *zap.Logger
}

// NewStaticAccessPolicy returns a holder that never reloads.
func NewStaticAccessPolicy(policy AccessPolicy) *AccessPolicyHolder {
	holder := &AccessPolicyHolder{log: zap.NewNop()}
	holder.current.Store(normalizeAccessPolicy(policy))
	return holder
}

func NewAccessPolicyHolder(cfg Config, log *zap.Logger) (*AccessPolicyHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.access_policy")

	v := viper.New()
	if cfg.AccessPolicyPath != "" {
		v.SetConfigFile(cfg.AccessPolicyPath)
	} else {
		v.SetConfigName("access_policy")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/orgaccess")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("ORGACCESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
		v.SetDefault("access_policy.levels", DefaultAccessPolicy().Levels)
	}

	policy, err := decodeAccessPolicy(v)
	if err != nil {
		return nil, err
	}

	holder := &AccessPolicyHolder{log: log}
	holder.current.Store(policy)
	log.Info("access policy loaded",
		zap.Bool("from_file", fileLoaded),
		zap.Strings("levels", policy.Levels),
	)

	if fileLoaded {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			holder.reload(v, e.Name)
		})
	}

	return holder, nil
}

func (h *AccessPolicyHolder) reload(v *viper.Viper, source string) {
	updated, err := decodeAccessPolicy(v)
	if err != nil {
		h.log.Warn("invalid access policy ignored", zap.String("source", source), zap.Error(err))
		return
	}
	h.current.Store(updated)
	h.log.Info("access policy reloaded", zap.String("source", source), zap.Strings("levels", updated.Levels))
}

func (h *AccessPolicyHolder) Get() AccessPolicy {
	return h.current.Load().(AccessPolicy)
}

func (h *AccessPolicyHolder) Allows(level string) bool {
	return h.Get().Allows(level)
}

func decodeAccessPolicy(v *viper.Viper) (AccessPolicy, error) {
	var policy AccessPolicy
	if err := v.UnmarshalKey("access_policy", &policy); err != nil {
		return AccessPolicy{}, err
	}
	if err := validateAccessPolicy(policy); err != nil {
		return AccessPolicy{}, err
	}
	return normalizeAccessPolicy(policy), nil
}

func validateAccessPolicy(policy AccessPolicy) error {
	seen := make(map[string]struct{}, len(policy.Levels))
	for _, level := range policy.Levels {
		trimmed := strings.TrimSpace(level)
		if trimmed == "" {
			return errors.New("access_policy.levels cannot contain blank entries")
		}
		if _, ok := seen[trimmed]; ok {
			return fmt.Errorf("access_policy.levels has duplicate %q", trimmed)
		}
		seen[trimmed] = struct{}{}
	}
	return nil
}

func normalizeAccessPolicy(policy AccessPolicy) AccessPolicy {
	levels := make([]string, 0, len(policy.Levels))
	for _, level := range policy.Levels {
		if trimmed := strings.TrimSpace(level); trimmed != "" {
			levels = append(levels, trimmed)
		}
	}
	return AccessPolicy{Levels: levels}
}
