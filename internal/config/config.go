// Package config loads momoguard configuration from a YAML file and
// MOMOGUARD_* environment variables on top of the tier defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/momoguard/internal/domain"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// MOMOGUARD_SERVER_PORT or MOMOGUARD_VERIFY_FORWARDERSECRET.
const EnvPrefix = "MOMOGUARD"

// Load reads configuration. An explicit path must exist; without one,
// momoguard.yaml is searched in the working directory and /etc/momoguard.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("momoguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/momoguard")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	if err := setDefaults(v, base); err != nil {
		return nil, err
	}

	// Secrets are not serialised, so register them by hand.
	v.SetDefault("verify.forwardersecret", "")

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if os.Getenv(EnvPrefix+"_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every field of base as a viper default so that
// environment variables can override keys absent from the file.
func setDefaults(v *viper.Viper, base *domain.Config) error {
	raw, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	flatten(v, "", tree)
	return nil
}

func flatten(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "." + key
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro:
	default:
		errs = append(errs, fmt.Errorf("unknown tier %q", cfg.Tier))
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported repository driver %q", cfg.Repository.Driver))
	}

	m := cfg.Matcher
	if m.TxIDWeight < 0 || m.PhoneWeight < 0 || m.AmountWeight < 0 {
		errs = append(errs, errors.New("matcher weights must not be negative"))
	} else if m.TxIDWeight+m.PhoneWeight+m.AmountWeight == 0 {
		errs = append(errs, errors.New("matcher weights must not all be zero"))
	}
	if m.AcceptThreshold < 0 || m.AcceptThreshold > 1 {
		errs = append(errs, fmt.Errorf("matcher.acceptthreshold %v outside [0,1]", m.AcceptThreshold))
	}

	vc := cfg.Verify
	if vc.FraudThreshold <= 0 || vc.FraudThreshold > 1 {
		errs = append(errs, fmt.Errorf("verify.fraudthreshold %v outside (0,1]", vc.FraudThreshold))
	}
	if vc.ManualReviewThreshold < vc.FraudThreshold {
		errs = append(errs, errors.New("verify.manualreviewthreshold must not be below verify.fraudthreshold"))
	}

	if cfg.Extractor.AcceptConfidence < 0 || cfg.Extractor.AcceptConfidence > 1 {
		errs = append(errs, fmt.Errorf("extractor.acceptconfidence %v outside [0,1]", cfg.Extractor.AcceptConfidence))
	}

	return errors.Join(errs...)
}
