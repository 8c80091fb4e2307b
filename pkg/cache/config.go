package cache

import "time"

type RedisConfig struct {
	Addr         string        `yaml:"addr" default:"localhost:6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"5s"`
	Prefix       string        `yaml:"prefix" default:"arbrelay"`
}

type MemoryConfig struct {
	MaxEntries      int           `yaml:"max_entries" default:"1000"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"1m"`
}
