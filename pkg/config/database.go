package config

import "time"

// DatabaseConfig configures the Postgres pool.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             mustEnv("DATABASE_URL"),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxIdleTime: getEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", 30*time.Second),
		ConnectTimeout:  getEnvDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
	}
}

// RedisConfig configures the optional Redis client used for the sweeper
// run-lock. An empty Addr disables Redis entirely.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", ""),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

// Enabled reports whether a Redis address was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }
