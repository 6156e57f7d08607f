package main // Entry point package

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/token-queue/internal/cache"
	"github.com/iliyamo/token-queue/internal/clock"
	"github.com/iliyamo/token-queue/internal/config"
	"github.com/iliyamo/token-queue/internal/database"
	"github.com/iliyamo/token-queue/internal/handler"
	"github.com/iliyamo/token-queue/internal/logging"
	"github.com/iliyamo/token-queue/internal/metrics"
	"github.com/iliyamo/token-queue/internal/middleware"
	"github.com/iliyamo/token-queue/internal/model"
	"github.com/iliyamo/token-queue/internal/queue"
	"github.com/iliyamo/token-queue/internal/realtime"
	"github.com/iliyamo/token-queue/internal/repository"
	"github.com/iliyamo/token-queue/internal/router"
	"github.com/iliyamo/token-queue/internal/scheduling"
	"github.com/iliyamo/token-queue/internal/service"
	"github.com/iliyamo/token-queue/internal/utils"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrate := flag.Bool("migrate", true, "create missing tables on startup (mysql store)")
	seed := flag.String("seed-units", "", "JSON file of capacity units to load (memory store)")
	consume := flag.Bool("consume", true, "run the booking event consumer when RabbitMQ is configured")
	issue := flag.String("issue-token", "", "print an access token for role:subject and exit")
	issueTTL := flag.Duration("token-ttl", 12*time.Hour, "lifetime of tokens printed by --issue-token")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *issue != "" {
		role, subject, err := utils.ParseGrant(*issue)
		if err == nil {
			var tok utils.AccessToken
			if tok, err = utils.NewAccessToken(cfg.JWTSecret, subject, role, *issueTTL); err == nil {
				fmt.Println(tok.Token)
				return
			}
		}
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *migrate, *seed, *consume); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger, migrate bool, seed string, consume bool) error {
	checks := map[string]handler.Check{}

	var store scheduling.Store
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err := database.Open(database.Params{
			User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		})
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if migrate {
			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
		}
		checks["mysql"] = func(ctx context.Context) error { return db.PingContext(ctx) }
		store = repository.NewMySQLStore(db)
		logger.Info("using mysql store", zap.String("host", cfg.DBHost), zap.String("db", cfg.DBName))
	default:
		mem := repository.NewMemoryStore()
		if seed != "" {
			n, err := seedUnits(mem, seed)
			if err != nil {
				return err
			}
			logger.Info("seeded capacity units", zap.Int("count", n))
		}
		store = mem
		logger.Warn("using in-memory store; bookings are lost on restart")
	}

	rdb := config.NewRedisClient()
	if rdb != nil {
		defer rdb.Close()
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		logger.Warn("redis unavailable; rate limits, snapshot cache and realtime fan-out stay local")
	}

	g, gctx := errgroup.WithContext(ctx)

	snapshots := snapshotCache(config.LoadSnapshotCacheConfig(), rdb)
	if mem, ok := snapshots.(*cache.Memory); ok {
		g.Go(func() error { return mem.Run(gctx) })
	}

	// The hub needs the service's tracker and the service needs the event
	// sinks, so the fan-out is filled in after both exist.
	events := &service.Fanout{}
	svc := scheduling.New(store, snapshots, events, clock.System{}, scheduling.Config{
		MaxAllocRetries:       cfg.AllocMaxRetries,
		NoShowGrace:           cfg.NoShowGrace,
		DefaultServiceMinutes: cfg.DefaultServiceMinutes,
		UnitCacheTTL:          cfg.UnitCacheTTL,
		Location:              cfg.Location,
	}, logger.Named("scheduling"))
	hub := realtime.NewHub(svc.Tracker(), logger.Named("realtime"))
	g.Go(func() error { return svc.Run(gctx) })

	if cfg.AMQPURL != "" {
		pub := service.NewAMQPPublisher(cfg.AMQPURL, cfg.EventsQueue, logger.Named("amqp"))
		g.Go(func() error { return ignoreCanceled(pub.Run(gctx)) })
		*events = append(*events, pub)
		if consume {
			consumer := queue.NewConsumer(cfg.AMQPURL, cfg.EventsQueue, cfg.BookingLog, logger.Named("consumer"))
			g.Go(func() error { return ignoreCanceled(consumer.Run(gctx)) })
		}
	}
	if rdb != nil {
		bus := service.NewRedisBus(rdb, cfg.EventsChannel, logger.Named("bus"))
		*events = append(*events, bus)
		g.Go(func() error { return ignoreCanceled(bus.Listen(gctx, hub)) })
	} else {
		*events = append(*events, hub)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger.Named("http")))
	router.RegisterRoutes(e, checks, reg)
	router.RegisterBookings(e,
		handler.NewBookingHandler(svc, hub, logger.Named("handler")),
		cfg.JWTSecret,
		middleware.NewTokenBucket(gctx, config.LoadRateLimitConfig(), rdb, logger.Named("ratelimit")),
	)

	addr := ":" + cfg.Port
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func snapshotCache(cfg config.SnapshotCacheConfig, rdb *redis.Client) scheduling.SnapshotCache {
	if !cfg.Enabled {
		return nil
	}
	if rdb != nil {
		return cache.NewRedis(rdb, cfg.Prefix, cfg.TTL)
	}
	return cache.NewMemory(cfg.TTL)
}

// seedUnits loads a JSON array of capacity units into the memory store.
func seedUnits(store *repository.MemoryStore, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var units []model.CapacityUnit
	if err := json.Unmarshal(raw, &units); err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	for _, u := range units {
		if err := store.PutUnit(u); err != nil {
			return 0, err
		}
	}
	return len(units), nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
