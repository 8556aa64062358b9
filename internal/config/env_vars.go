package config

import (
	"strings"

	"github.com/spf13/viper"
)

const (
	appNameKey = "app_name"
	baseURLKey = "base_url"
	envKey     = "env"
	verboseKey = "verbose"
)

type EnvVars struct {
	v *viper.Viper
}

var _ EnvConfig = EnvVars{}

func (e EnvVars) GetAppName() string {
	return e.v.GetString(appNameKey)
}

// GetBaseURL returns the API base address without a trailing slash
// (e.g. "http://18.140.210.192:9001").
func (e EnvVars) GetBaseURL() string {
	return strings.TrimRight(e.v.GetString(baseURLKey), "/")
}

func (e EnvVars) GetEnv() string {
	env := e.v.GetString(envKey)
	if env == "" {
		return "DEV"
	}
	return env
}

func (e EnvVars) GetVerbose() bool {
	return e.v.GetBool(verboseKey)
}
