// Package config loads claimguard configuration with viper.
//
// Precedence, lowest first: tier defaults (domain.DefaultConfig or
// domain.ProConfig), the YAML config file, CLAIMGUARD_* environment
// variables. Nested keys map to env names by replacing dots with
// underscores, e.g. server.port -> CLAIMGUARD_SERVER_PORT.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "CLAIMGUARD"

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration. An empty path searches for claimguard.yaml in
// the working directory and /etc/claimguard; a missing file is not an
// error unless path was given explicitly.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("claimguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/claimguard")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(v.GetString("tier"))) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(base).Elem())

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Tier = domain.Tier(strings.ToLower(string(cfg.Tier)))

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every leaf of the base config so that env
// overrides are visible to Unmarshal.
func setDefaults(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && field.Type != durationType {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	var errs []error

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("tier must be %q or %q, got %q", domain.TierCommunity, domain.TierPro, cfg.Tier))
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}

	switch cfg.Repository.Driver {
	case "sqlite", "postgres", "none":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository.driver: %q", cfg.Repository.Driver))
	}

	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported cache.type: %q", cfg.Cache.Type))
	}

	switch cfg.EventBus.Type {
	case "channel", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported eventBus.type: %q", cfg.EventBus.Type))
	}

	m := cfg.Model
	if m.Trees <= 0 {
		errs = append(errs, fmt.Errorf("model.trees must be positive, got %d", m.Trees))
	}
	if m.SampleSize < 2 {
		errs = append(errs, fmt.Errorf("model.sampleSize must be at least 2, got %d", m.SampleSize))
	}
	if m.Contamination <= 0 || m.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("model.contamination must be in (0, 0.5], got %g", m.Contamination))
	}

	if cfg.History.Shards <= 0 {
		errs = append(errs, fmt.Errorf("history.shards must be positive, got %d", cfg.History.Shards))
	}
	if cfg.History.MaxRecordsPerEntity < 0 {
		errs = append(errs, fmt.Errorf("history.maxRecordsPerEntity must not be negative, got %d", cfg.History.MaxRecordsPerEntity))
	}
	if cfg.History.MaxTimestampsPerShop < 0 {
		errs = append(errs, fmt.Errorf("history.maxTimestampsPerShop must not be negative, got %d", cfg.History.MaxTimestampsPerShop))
	}

	if cfg.Scoring.NoiseMin > cfg.Scoring.NoiseMax {
		errs = append(errs, fmt.Errorf("scoring.noiseMin %g exceeds scoring.noiseMax %g", cfg.Scoring.NoiseMin, cfg.Scoring.NoiseMax))
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unsupported logging.level: %q", cfg.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
