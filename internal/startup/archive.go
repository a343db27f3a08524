package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campuschat/internal/config"
	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/repository"
	"github.com/campuschat/internal/storage"
	"github.com/campuschat/internal/storage/memory"
)

// OpenArchive создаёт архив сообщений по ARCHIVE_BACKEND. Для postgres применяет миграции.
// Для none возвращает nil: архива нет.
func OpenArchive(ctx context.Context, cfg *config.Config, maxWait time.Duration) (storage.Archive, error) {
	switch cfg.Archive.Backend {
	case config.ArchiveNone, "":
		logger.Info("archive: none, history is kept in memory only")
		return nil, nil
	case config.ArchiveRedis:
		c, err := ConnectRedisWithRetry(ctx, cfg.Redis.URL, maxWait)
		if err != nil {
			return nil, err
		}
		logger.Info("archive: redis")
		return c, nil
	case config.ArchivePostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		pool, err := ConnectDBWithRetry(ctx, poolCfg, maxWait)
		if err != nil {
			return nil, err
		}
		migCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := repository.Migrate(migCtx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		logger.Info("archive: postgres")
		return repository.NewMessageRepository(pool), nil
	case config.ArchiveMemory:
		logger.Info("archive: memory (process-local, not persisted across restarts)")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}
