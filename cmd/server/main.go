package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"crowdtask-api/internal/auth"
	"crowdtask-api/internal/cache"
	"crowdtask-api/internal/config"
	"crowdtask-api/internal/database"
	"crowdtask-api/internal/handlers"
	"crowdtask-api/internal/imaging"
	"crowdtask-api/internal/lifecycle"
	"crowdtask-api/internal/middleware"
	"crowdtask-api/internal/realtime"
	"crowdtask-api/internal/routes"
	"crowdtask-api/internal/store"
	"crowdtask-api/internal/tasktype"
	"crowdtask-api/internal/tasktype/guessnumber"
	"crowdtask-api/internal/tasktype/markimage"
	"crowdtask-api/internal/upload"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/crypto/bcrypt"
)

const principalCacheSize = 10000

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal("Failed to load config: ", err)
	}
	logger := newLogger(cfg.Server.LogLevel)

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database: ", err)
	}
	hasher := auth.NewPasswordHasher(bcrypt.DefaultCost)
	if err := database.SeedUsers(context.Background(), db, hasher, cfg.SeedUsers, logger); err != nil {
		log.Fatal("Failed to seed users: ", err)
	}

	registry := tasktype.NewRegistry(logger)
	registry.Load(guessnumber.New(), markimage.New())
	for _, id := range cfg.TaskTypes.Disabled {
		if err := registry.SetEnabled(id, false); err != nil {
			logger.Warn("cannot disable task type", "id", id, "error", err)
		}
	}

	storage, err := upload.NewStorage(cfg.Upload.Dir, cfg.Upload.MaxSize)
	if err != nil {
		log.Fatal("Failed to prepare upload dir: ", err)
	}
	stores := store.New(db)
	hub := realtime.NewHub(logger)
	svc := lifecycle.NewService(db, registry, storage, imaging.NewResizer(storage), logger, lifecycle.WithNotifier(hub))

	issuer := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	})
	principals := cache.NewSimpleCache[string, *auth.Principal](cache.Options{ConcurrencySafe: true, MaxEntries: principalCacheSize})

	ginRoutes := routes.SetupRoutes(routes.Deps{
		// room for the multipart envelope around a full-size upload
		Handler:       handlers.NewHandler(svc, logger, 2*storage.MaxSize()),
		Auth:          handlers.NewAuthHandler(stores.Users, hasher, issuer, logger),
		WS:            handlers.NewWSHandler(hub, logger),
		Authenticator: middleware.NewAuthenticator(issuer, principals, cfg.JWT.CacheTTL),
		UploadDir:     storage.Root(),
		Logger:        logger,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           ginRoutes,
		ReadHeaderTimeout: 10 * time.Second,
	}

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-purgeCtx.Done():
				return
			case <-ticker.C:
				principals.PurgeExpired()
			}
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Server.Port)
	log.Printf("Task types enabled: %v", registry.EnabledIDs())
	log.Println("API endpoints:")
	log.Println("  POST   /api/login")
	log.Println("  GET    /api/task-types        PATCH/DELETE /api/task-types/:id")
	log.Println("  POST   /api/tasks             GET /api/tasks")
	log.Println("  GET    /api/tasks/:id         PATCH/DELETE /api/tasks/:id")
	log.Println("  POST   /api/tasks/:id/data    GET /api/tasks/:id/data")
	log.Println("  POST   /api/assignments       GET /api/assignments")
	log.Println("  GET    /api/assignments/:id   PATCH/DELETE /api/assignments/:id")
	log.Println("  POST   /api/assignments/:id/data  GET /api/assignments/:id/data")
	log.Println("  GET    /api/ws")
	log.Println("  GET    /health")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			// operations run concurrently, so the database closes only after
			// in-flight requests are drained
			"http-server": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				if err := srv.Shutdown(ctx); err != nil {
					return err
				}
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.Close()
			},
			"principal-cache": func(context.Context) error {
				stopPurge()
				return nil
			},
		},
	)

	exitCode := <-wait
	log.Printf("Server exited with code: %d", exitCode)
	os.Exit(exitCode)
}
