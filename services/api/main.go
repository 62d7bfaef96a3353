package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/supportchat/internal/blob"
	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/email"
	"github.com/supportchat/internal/feed"
	"github.com/supportchat/internal/handler"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/push"
	"github.com/supportchat/internal/repository"
	"github.com/supportchat/internal/service"
	"github.com/supportchat/internal/startup"
	"github.com/supportchat/internal/storage"
	"github.com/supportchat/internal/storage/memory"
	"github.com/supportchat/internal/ws"
	"github.com/supportchat/migrations"
)

// identityStore is what the services and identity middlewares need from the profile tables.
type identityStore interface {
	service.Roster
	service.Profiles
	middleware.PrincipalSync
}

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and trust X-Dev-* identity headers")
	inMemory := flag.Bool("memory", false, "keep sessions in process memory (no PostgreSQL)")
	flag.Parse()

	logger.Info("starting support chat API")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Flush(2 * time.Second)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var (
		store    storage.ChatStore
		identity identityStore
	)
	if *inMemory {
		mem := memory.New()
		store, identity = mem, mem
		logger.Info("using in-memory store, data is lost on exit")
	} else {
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
		pool, err := startup.ConnectDB(rootCtx, cfg.Database.URL, cfg.Database.MaxConnections, 60*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer pool.Close()

		migrateCtx, migrateCancel := context.WithTimeout(rootCtx, 30*time.Second)
		err = repository.Migrate(migrateCtx, pool, migrations.Files)
		migrateCancel()
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		if *migrate {
			return
		}
		store, identity = repository.NewChatStore(pool), repository.NewIdentityRepository(pool)
		logger.Info("database connected, migrations applied")
	}

	// Without Redis every signal stays inside this process; that is fine for a single instance.
	var (
		notifier    feed.Notifier = feed.NewLocal()
		intakeLimit               = middleware.NewLocalLimiter(cfg.RateLimit.IntakePerMinute, time.Minute)
		apiLimit                  = middleware.NewLocalLimiter(cfg.RateLimit.APIPerMinute, time.Minute)
		notifierWg  sync.WaitGroup
	)
	if cfg.Redis.URL != "" {
		rdb, err := startup.ConnectRedis(rootCtx, cfg.Redis.URL, 30*time.Second)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		defer rdb.Close()
		n := rdb.NewNotifier()
		notifierWg.Add(1)
		go func() {
			defer notifierWg.Done()
			if err := n.Run(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.Errorf("redis notifier stopped: %v", err)
			}
		}()
		notifier = n
		intakeLimit = rdb.NewLimiter(cfg.RateLimit.IntakePerMinute, time.Minute)
		apiLimit = rdb.NewLimiter(cfg.RateLimit.APIPerMinute, time.Minute)
		logger.Info("redis connected: shared change feed and rate limits")
	}

	var (
		blobs     blob.Store
		localBlob *blob.Local
	)
	if cfg.Blob.Endpoint != "" {
		m, err := blob.NewMinio(rootCtx, blob.MinioConfig{
			Endpoint:  cfg.Blob.Endpoint,
			AccessKey: cfg.Blob.AccessKey,
			SecretKey: cfg.Blob.SecretKey,
			Bucket:    cfg.Blob.Bucket,
			UseSSL:    cfg.Blob.UseSSL,
			PublicURL: cfg.Blob.PublicURL,
			MaxSize:   cfg.Blob.MaxUploadSize(),
		})
		if err != nil {
			logger.Errorf("minio: %v", err)
			os.Exit(1)
		}
		blobs = m
	} else {
		localBlob = blob.NewLocal(cfg.Blob.UploadDir, "/files", cfg.Blob.MaxUploadSize())
		blobs = localBlob
	}

	pushClient := push.NewClient(cfg.Push.ServiceURL, cfg.InternalSecret)
	vapidPublic := cfg.Push.VAPIDPublicKey
	if pushClient.Enabled() && vapidPublic == "" {
		if keys, err := push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysPath); err == nil {
			vapidPublic = keys.PublicKey
		}
	}

	var policy service.TransitionPolicy = service.Unrestricted{}
	if cfg.Moderation.DeletedIsTerminal {
		policy = service.DeletedIsTerminal()
	}

	sessions := service.NewSessionManager(store, identity)
	channel := service.NewChannel(store, notifier, blobs, pushClient)
	intake := service.NewIntake(store, identity, channel)
	if cfg.SMTP.Host != "" {
		intake.WithReceipts(email.NewSender(email.Config(cfg.SMTP)))
		logger.Infof("intake receipts via %s", cfg.SMTP.Host)
	}
	moderation := service.NewModeration(store, identity, notifier, policy)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(channel, channel, ws.Options{
		MaxConns:       cfg.WS.MaxConnections,
		SendBuffer:     cfg.WS.SendBufferSize,
		WriteWait:      time.Duration(cfg.WS.WriteTimeout) * time.Second,
		PongWait:       time.Duration(cfg.WS.PongTimeout) * time.Second,
		MaxMessageSize: int64(cfg.WS.MaxMessageSize),
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	identityMW := middleware.AuthServiceValidate(cfg.AuthServiceURL, nil, identity)
	if cfg.AuthServiceURL == "" {
		if !*dev && !*inMemory {
			logger.Errorf("AUTH_SERVICE_URL is required outside -dev/-memory")
			os.Exit(1)
		}
		logger.Warnf("no identity service: trusting X-Dev-User-Id headers")
		identityMW = middleware.DevIdentity(identity)
	}
	visitorSecret := cfg.VisitorSecret
	if visitorSecret == "" {
		visitorSecret = randomSecret()
	}
	visitorTokens := middleware.NewVisitorTokens(visitorSecret)

	routes := handler.Routes{
		Support:     handler.NewSupportHandler(sessions, channel, intake, visitorTokens, cfg.Blob.MaxUploadSize()),
		Admin:       handler.NewAdminHandler(moderation),
		WS:          handler.NewWSHandler(hub, sessions, cfg.CORSAllowedOrigins),
		Config:      handler.NewConfigHandler(pushClient.Enabled(), vapidPublic),
		Push:        handler.NewPushHandler(pushClient),
		Identity:    identityMW,
		Visitor:     middleware.VisitorAuth(visitorTokens),
		IntakeLimit: middleware.RateLimit(intakeLimit, "intake"),
		APILimit:    middleware.RateLimit(apiLimit, "api"),
	}
	if localBlob != nil {
		routes.Files = handler.NewFileHandler(localBlob)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Compression would hide http.Hijacker from the websocket upgrade.
	r.Use(func(next http.Handler) http.Handler {
		compressed := chimw.Compress(5)(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			compressed.ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature", "X-Visitor-Token"},
		ExposedHeaders:   []string{"Content-Disposition", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	routes.Mount(r)

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
		IdleTimeout:  cfg.IdleTimeoutDuration(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			logger.Flush(2 * time.Second)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	rootCancel()
	notifierWg.Wait()
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "support"
		password = "support_secret"
		database = "support"
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

	cfg.Database.URL = fmt.Sprintf("postgres://%s:%s@localhost:%d/%s?sslmode=disable", user, password, port, database)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
