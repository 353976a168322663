// Package config loads an api.Config from a configuration file (YAML, JSON or TOML) and the
// environment, on top of the preset of the configured family.
package config

import (
	"strings"

	"github.com/gomlx/go-subword/tokenizers/api"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"k8s.io/klog/v2"
)

// EnvPrefix is the prefix of the environment variables overriding configuration keys, e.g.
// SUBWORD_NUM_WORKERS for "num_workers".
const EnvPrefix = "SUBWORD"

// Load reads the configuration file at path, if not empty, and the SUBWORD_* environment variables.
//
// The "family" key selects the preset of api.DefaultConfig, and every other key overrides one field of
// it. Precedence, highest first: environment, file, preset.
func Load(path string) (*api.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %q", path)
		}
	}

	family := api.Family(v.GetString("family"))
	if err := setDefaults(v, api.DefaultConfig(family)); err != nil {
		return nil, err
	}
	cfg := &api.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %q", path)
	}
	if err := Validate(cfg); err != nil {
		return nil, errors.WithMessagef(err, "config %q", path)
	}
	klog.V(1).Infof("config: loaded %q, family %q, model %q", path, cfg.Family, cfg.Model)
	return cfg, nil
}

// setDefaults registers every field of preset as a default, which also makes all the keys known to
// the environment lookup.
func setDefaults(v *viper.Viper, preset *api.Config) error {
	values := make(map[string]any)
	if err := mapstructure.Decode(preset, &values); err != nil {
		return errors.Wrap(err, "encode preset")
	}
	for key, value := range values {
		v.SetDefault(key, value)
	}
	return nil
}

// Validate checks the enumerated options of cfg.
func Validate(cfg *api.Config) error {
	switch cfg.Model {
	case api.ModelWordPiece, api.ModelBPE, api.ModelUnigram, "":
	default:
		return errors.Errorf("unknown model %q", cfg.Model)
	}
	switch cfg.OffsetUnit {
	case api.OffsetBytes, api.OffsetRunes, "":
	default:
		return errors.Errorf("unknown offset unit %q", cfg.OffsetUnit)
	}
	if cfg.NumWorkers < 0 || cfg.CacheCapacity < 0 || cfg.MaxVocabSize < 0 {
		return errors.New("num_workers, cache_capacity and max_vocab_size can't be negative")
	}
	return nil
}
