package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "BACKOFFICE"

type Config interface {
	EnvConfig
	ClientConfig
	StorageConfig
}

type EnvConfig interface {
	GetAppName() string
	GetBaseURL() string
	GetEnv() string
	GetVerbose() bool
}

type mainConfig struct {
	EnvVars
	Client
	Storage
}

// New returns the configuration backed by the global viper instance.
func New() Config {
	return NewFromViper(viper.GetViper())
}

// NewFromViper binds defaults and environment variables onto v and returns
// a Config reading from it. Flags bound to v by the caller take precedence.
func NewFromViper(v *viper.Viper) Config {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return mainConfig{
		EnvVars: EnvVars{v: v},
		Client:  Client{v: v},
		Storage: Storage{v: v},
	}
}

// LoadFile merges a config file (yaml, json or toml) into v.
func LoadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config.LoadFile %s: %w", path, err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(appNameKey, "Back Office")
	v.SetDefault(baseURLKey, "http://localhost:9001")
	v.SetDefault(envKey, "DEV")
	v.SetDefault(timeoutKey, defaultTimeout)
	v.SetDefault(rateLimitKey, 0.0)
	v.SetDefault(rateBurstKey, 1)
	v.SetDefault(storeTypeKey, StoreTypeFile)
	v.SetDefault(storePathKey, defaultStorePath())
	v.SetDefault(redisAddrKey, "localhost:6379")
	v.SetDefault(redisPrefixKey, "backoffice:")
	v.SetDefault(redisDBKey, 0)
}
