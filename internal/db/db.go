package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"direct-chat/internal/config"
)

const (
	defaultMaxConns = 10
	minConns        = 1
	maxConnLifetime = 30 * time.Minute
	maxConnIdleTime = 5 * time.Minute
	healthCheck     = 30 * time.Second
)

// PoolConfig traduce la configuracion del servicio a pgxpool sin conectar.
func PoolConfig(cfg *config.Config) (*pgxpool.Config, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = defaultMaxConns
	}
	poolCfg.MinConns = minConns
	poolCfg.MaxConnLifetime = maxConnLifetime
	poolCfg.MaxConnIdleTime = maxConnIdleTime
	poolCfg.HealthCheckPeriod = healthCheck
	poolCfg.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout()
	poolCfg.ConnConfig.RuntimeParams["application_name"] = "direct-chat"
	return poolCfg, nil
}

// NewPool abre el pool de rooms y mensajes.
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := PoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	return pgxpool.NewWithConfig(ctx, poolCfg)
}
