package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	timeoutKey   = "timeout"
	rateLimitKey = "rate_limit"
	rateBurstKey = "rate_burst"

	defaultTimeout = 30 * time.Second
)

type ClientConfig interface {
	GetTimeout() time.Duration
	GetRateLimit() float64
	GetRateBurst() int
}

type Client struct {
	v *viper.Viper
}

var _ ClientConfig = Client{}

func (c Client) GetTimeout() time.Duration {
	d := c.v.GetDuration(timeoutKey)
	if d <= 0 {
		return defaultTimeout
	}
	return d
}

// GetRateLimit returns the client-side request rate in requests per second.
// Zero disables limiting.
func (c Client) GetRateLimit() float64 {
	return c.v.GetFloat64(rateLimitKey)
}

func (c Client) GetRateBurst() int {
	if b := c.v.GetInt(rateBurstKey); b > 0 {
		return b
	}
	return 1
}
