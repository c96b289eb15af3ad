package config

type StorageConfig interface {
	GetStorageBackend() string
	GetStoragePrefix() string
	GetStorageKey() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

type Storage struct {
	v values
}

var _ StorageConfig = Storage{}

// GetStorageBackend is one of "file", "redis" or "memory".
func (s Storage) GetStorageBackend() string {
	return s.v.get("CRM_STORAGE_BACKEND", "file")
}

func (s Storage) GetStoragePrefix() string {
	return s.v.get("CRM_STORAGE_PREFIX", "crm_")
}

// GetStorageKey is a hex encoded 32 byte key used to seal the durable file.
func (s Storage) GetStorageKey() string {
	return s.v.get("CRM_STORAGE_KEY", "")
}

func (s Storage) GetRedisAddr() string {
	return s.v.get("CRM_REDIS_ADDR", "localhost:6379")
}

func (s Storage) GetRedisPassword() string {
	return s.v.get("CRM_REDIS_PASSWORD", "")
}

func (s Storage) GetRedisDB() int {
	return s.v.integer("CRM_REDIS_DB", 0)
}
