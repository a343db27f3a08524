package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/campuschat/internal/auth"
	"github.com/campuschat/internal/config"
	"github.com/campuschat/internal/handler"
	"github.com/campuschat/internal/logger"
	"github.com/campuschat/internal/metrics"
	"github.com/campuschat/internal/middleware"
	"github.com/campuschat/internal/model"
	"github.com/campuschat/internal/registry"
	"github.com/campuschat/internal/scheduler"
	"github.com/campuschat/internal/startup"
	"github.com/campuschat/internal/storage"
	"github.com/campuschat/internal/store"
	"github.com/campuschat/internal/ws"
)

func main() {
	logger.SetPrefix("relay")
	dev := flag.Bool("dev", false, "archive into an embedded PostgreSQL (no external DB required) and enable /api/auth/token")
	flag.Parse()

	logger.Info("starting relay")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		os.Exit(1)
	}
	logger.SetLevel(cfg.LogLevel)

	if *dev {
		embeddedDB, err := startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	rooms, err := registry.Load(cfg.RoomsPath)
	if err != nil {
		logger.Errorf("rooms: %v", err)
		os.Exit(1)
	}
	logger.Infof("rooms: %d loaded", len(rooms.IDs()))

	m := metrics.New(prometheus.DefaultRegisterer)
	st := store.New(store.Options{
		MaxAttachments: cfg.MaxAttachments,
		OnProbableRetry: func(msg model.Message) {
			m.ProbableRetry()
			logger.Debugf("probable retry room=%s user=%s id=%s", msg.Room, msg.User.Username, msg.ID)
		},
	})

	openCtx, openCancel := context.WithTimeout(context.Background(), 90*time.Second)
	archive, err := startup.OpenArchive(openCtx, cfg, 60*time.Second)
	if err != nil {
		openCancel()
		logger.Errorf("archive: %v", err)
		os.Exit(1)
	}
	var (
		writer  *storage.Writer
		backlog func() int
	)
	writerCtx, writerCancel := context.WithCancel(context.Background())
	defer writerCancel()
	if archive != nil {
		restoreHistory(openCtx, archive, st, rooms, cfg.Archive.RestoreLimit)
		defer func() {
			if err := archive.Close(); err != nil {
				logger.Errorf("archive close: %v", err)
			}
		}()
		writer = storage.NewWriter(archive, cfg.Archive.QueueSize, storage.Hooks{
			OnDrop:  m.ArchiveDropped,
			OnError: m.ArchiveFailed,
		})
		backlog = writer.Pending
		go writer.Run(writerCtx)
	}
	openCancel()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(rooms, st, writer, m, ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		ActionRate:     cfg.ActionRate,
		ActionBurst:    cfg.ActionBurst,
		TypingTimeout:  cfg.TypingTimeout,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	limiter := middleware.NewLimiterPool(cfg.HTTPRateLimit, cfg.HTTPRateBurst)
	sched, err := scheduler.New()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	for _, job := range []struct {
		name     string
		interval time.Duration
		fn       func()
	}{
		{"room-stats", cfg.StatsInterval, scheduler.RoomStats(hub, m, backlog)},
		{"ratelimit-sweep", 5 * time.Minute, scheduler.SweepLimiters(limiter, 10*time.Minute)},
	} {
		if err := sched.Every(job.name, job.interval, job.fn); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}
	sched.Start()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	srv := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: handler.NewRouter(handler.RouterDeps{
			Config:    cfg,
			Rooms:     rooms,
			Store:     st,
			Hub:       hub,
			Verifier:  verifier,
			Limiter:   limiter,
			Metrics:   promhttp.Handler(),
			DevTokens: *dev,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	if err := sched.Stop(); err != nil {
		logger.Errorf("%v", err)
	}
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	// После остановки хаба новых сообщений нет: дописываем очередь архива.
	if writer != nil {
		writerCancel()
		writer.Wait()
		logger.Info("archive flushed")
	}
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// restoreHistory поднимает хвост истории каждой комнаты из архива.
func restoreHistory(ctx context.Context, archive storage.Archive, st *store.Store, rooms *registry.Registry, limit int) {
	if limit <= 0 {
		return
	}
	defer logger.DeferLogDuration("restore history", time.Now())()
	total := 0
	for _, id := range rooms.IDs() {
		msgs, err := archive.LoadMessages(ctx, id, limit)
		if err != nil {
			logger.Errorf("restore %s: %v", id, err)
			continue
		}
		total += st.Restore(id, msgs)
	}
	logger.Infof("restored %d messages from archive", total)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "campus"
		password = "campus_secret"
		database = "campuschat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	cfg.Archive.Backend = config.ArchivePostgres
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
