package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort             string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL          string `env:"DATABASE_URL,required,notEmpty"`
	DBAutoMigrate        bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	DBMaxConns           int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBConnectTimeoutMS   int    `env:"DB_CONNECT_TIMEOUT_MS" envDefault:"5000"`
	RedisAddr            string `env:"REDIS_ADDR"`
	RedisPassword        string `env:"REDIS_PASSWORD"`
	RedisDB              int    `env:"REDIS_DB" envDefault:"0"`
	JWTSecret            string `env:"JWT_SECRET"`
	JWTIssuer            string `env:"JWT_ISSUER" envDefault:"direct-chat"`
	FeedPublishTimeoutMS int    `env:"FEED_PUBLISH_TIMEOUT_MS" envDefault:"500"`

	// Origins permitidos para /chat/ws. Vacio acepta cualquier origin.
	WSAllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envSeparator:","`
}

// DBConnectTimeout expone el timeout de conexion a Postgres.
func (c *Config) DBConnectTimeout() time.Duration {
	if c.DBConnectTimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.DBConnectTimeoutMS) * time.Millisecond
}

// FeedPublishTimeout expone el timeout de publicación como duración.
func (c *Config) FeedPublishTimeout() time.Duration {
	if c.FeedPublishTimeoutMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.FeedPublishTimeoutMS) * time.Millisecond
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
