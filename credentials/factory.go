package credentials

import (
	"fmt"

	"github.com/jrsteele09/go-backoffice-client/internal/config"
	"github.com/redis/go-redis/v9"
)

// NewBackend creates the backend selected by the storage configuration.
func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.GetStoreType() {
	case config.StoreTypeMemory:
		return NewMemoryBackend(), nil

	case config.StoreTypeFile, "":
		return NewFileBackend(cfg.GetStorePath(), cfg.GetEncryptionKey())

	case config.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		b, err := NewRedisBackend(client, cfg.GetRedisPrefix())
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		return b, nil

	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.GetStoreType())
	}
}
