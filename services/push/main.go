// Web Push service: browser subscriptions live in Redis, notifications go out signed with VAPID.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/supportchat/internal/config"
	"github.com/supportchat/internal/logger"
	"github.com/supportchat/internal/middleware"
	"github.com/supportchat/internal/push"
	"github.com/supportchat/internal/startup"
)

const (
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
)

func main() {
	logger.SetPrefix("push")
	if len(os.Args) > 1 && (os.Args[1] == "-gen-vapid" || os.Args[1] == "--gen-vapid") {
		priv, pub, err := webpush.GenerateVAPIDKeys()
		if err != nil {
			logger.Errorf("generate VAPID: %v", err)
			logger.Flush(time.Second)
			os.Exit(1)
		}
		logger.Infof("VAPID_PUBLIC_KEY=%s", pub)
		logger.Infof("VAPID_PRIVATE_KEY=%s", priv)
		logger.Flush(time.Second)
		return
	}

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Flush(2 * time.Second)
	addr := os.Getenv("PUSH_SERVER_ADDR")
	if addr == "" {
		addr = ":8082"
	}
	redisURL := cfg.Redis.URL
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	keys := &push.VAPIDKeys{PublicKey: os.Getenv("VAPID_PUBLIC_KEY"), PrivateKey: os.Getenv("VAPID_PRIVATE_KEY")}
	if keys.PublicKey == "" || keys.PrivateKey == "" {
		var err error
		keys, err = push.EnsureVAPIDKeys(cfg.Push.VAPIDKeysPath)
		if err != nil {
			logger.Warnf("VAPID keys unavailable, notifications disabled (subscriptions are still stored): %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rdb, err := startup.ConnectRedis(ctx, redisURL, 30*time.Second)
	if err != nil {
		logger.Errorf("%v", err)
		logger.Flush(2 * time.Second)
		os.Exit(1)
	}
	defer rdb.Close()

	s := push.NewServer(rdb.NewPushSubscriptions(maxSubsPerUser, subscriptionTTL), keys, cfg.Push.Subscriber)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly(cfg.InternalSecret))
		s.Routes(r)
	})

	srv := &http.Server{Addr: addr, Handler: r, ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second}
	go func() {
		logger.Infof("push service listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("server: %v", err)
			logger.Flush(2 * time.Second)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
}
