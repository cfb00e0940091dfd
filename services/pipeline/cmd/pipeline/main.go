package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"loanflow/internal/ratelimit"
	"loanflow/internal/servicetoken"
	"loanflow/internal/util"
	"loanflow/services/pipeline/internal/app"
	"loanflow/services/pipeline/internal/config"
	"loanflow/services/pipeline/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{File: cfg})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	var uploadLimiter *ratelimit.FixedWindowLimiter
	if cfg.UploadRateLimit > 0 {
		uploadLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
			cfg.RedisAddr,
			cfg.RedisPassword,
			"loanflow:uploads",
			cfg.UploadRateLimit,
			time.Duration(cfg.UploadRateWindowSeconds)*time.Second,
		)
		if err != nil {
			log.Fatalf("failed to init upload rate limiter: %v", err)
		}
	}

	var internalVerify *servicetoken.Verifier
	if cfg.InternalJWTPublicKeyPath != "" {
		internalVerify, err = servicetoken.NewVerifier(servicetoken.VerifierOptions{
			PublicKeyPath:  cfg.InternalJWTPublicKeyPath,
			Audience:       "pipeline",
			AllowedIssuers: cfg.InternalIssuers(),
			Leeway:         servicetoken.DefaultLeeway,
		})
		if err != nil {
			log.Fatalf("failed to init internal jwt verifier: %v", err)
		}
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		UploadLimiter:  uploadLimiter,
		InternalVerify: internalVerify,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("pipeline server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
