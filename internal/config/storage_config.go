package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	storeTypeKey     = "store.type"
	storePathKey     = "store.path"
	storeEncKeyKey   = "store.encryption_key"
	redisAddrKey     = "redis.addr"
	redisPasswordKey = "redis.password"
	redisDBKey       = "redis.db"
	redisPrefixKey   = "redis.prefix"
)

const (
	StoreTypeMemory = "memory"
	StoreTypeFile   = "file"
	StoreTypeRedis  = "redis"
)

type StorageConfig interface {
	GetStoreType() string
	GetStorePath() string
	GetEncryptionKey() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetRedisPrefix() string
}

type Storage struct {
	v *viper.Viper
}

var _ StorageConfig = Storage{}

func (s Storage) GetStoreType() string {
	return s.v.GetString(storeTypeKey)
}

func (s Storage) GetStorePath() string {
	return s.v.GetString(storePathKey)
}

// GetEncryptionKey returns the passphrase for the file store. Empty means
// values are written in clear text.
func (s Storage) GetEncryptionKey() string {
	return s.v.GetString(storeEncKeyKey)
}

func (s Storage) GetRedisAddr() string {
	return s.v.GetString(redisAddrKey)
}

func (s Storage) GetRedisPassword() string {
	return s.v.GetString(redisPasswordKey)
}

func (s Storage) GetRedisDB() int {
	return s.v.GetInt(redisDBKey)
}

func (s Storage) GetRedisPrefix() string {
	return s.v.GetString(redisPrefixKey)
}

func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "credentials.json")
	}
	return filepath.Join(home, ".backoffice", "credentials.json")
}
