package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/otcheredev/dicomweb-gateway/internal/archive"
	"github.com/otcheredev/dicomweb-gateway/internal/cache"
	"github.com/otcheredev/dicomweb-gateway/internal/client"
	"github.com/otcheredev/dicomweb-gateway/internal/config"
	"github.com/otcheredev/dicomweb-gateway/internal/database"
	"github.com/otcheredev/dicomweb-gateway/internal/frames"
	"github.com/otcheredev/dicomweb-gateway/internal/handlers"
	"github.com/otcheredev/dicomweb-gateway/internal/middleware"
	"github.com/otcheredev/dicomweb-gateway/internal/qido"
	"github.com/otcheredev/dicomweb-gateway/internal/repository"
	"github.com/otcheredev/dicomweb-gateway/internal/services"
	"github.com/otcheredev/dicomweb-gateway/internal/stow"
	"github.com/otcheredev/dicomweb-gateway/internal/wado"
	"github.com/otcheredev/dicomweb-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	log.Info().Msg("Starting DICOMweb gateway")

	// Connect to database
	var serverStore services.ServerStore
	var auditStore services.AuditStore
	if cfg.Database.Enabled {
		dbConfig := database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			LogLevel: cfg.Database.LogLevel,
		}

		if err := database.Connect(dbConfig); err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer database.Close()

		serverStore = repository.NewServerRepository()
		auditStore = repository.NewAuditRepository()
	} else {
		log.Info().Msg("Database disabled, servers and audit logs are not persisted")
	}

	// Initialize cache
	var uidCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Type == "redis" {
			addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			redisCache, err := cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to connect to Redis")
			}
			uidCache = redisCache
			log.Info().Msg("Redis cache initialized")
		} else {
			uidCache = cache.NewMemoryCache(cfg.Cache.SizeMB)
			log.Info().Int("size_mb", cfg.Cache.SizeMB).Msg("Memory cache initialized")
		}
		defer uidCache.Close()
	} else {
		log.Info().Msg("Cache disabled, every UID is looked up in the archive")
	}

	// Archive client
	arc := archive.New(archive.Config{
		URL:      cfg.Archive.URL,
		Username: cfg.Archive.Username,
		Password: cfg.Archive.Password,
		Timeout:  cfg.Archive.Timeout,
	}, uidCache, cfg.Cache.TTL)

	// Outbound DICOMweb client
	registry := client.NewRegistry()
	registry.Load(cfg.DicomWeb.Servers)
	dicomwebClient := client.New(registry, arc, client.Options{
		StowMaxInstances: cfg.DicomWeb.StowMaxInstances,
		StowMaxSize:      cfg.DicomWeb.StowMaxBytes(),
		Timeout:          cfg.Archive.Timeout,
	})

	// Initialize services
	gatewayService := services.NewGatewayService(stow.NewService(arc), dicomwebClient, serverStore, auditStore)
	if err := gatewayService.LoadServers(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to load DICOMweb servers")
	}
	wadoService := wado.NewService(arc, frames.NewRegistry(), wado.DefaultConcurrency)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(arc, cfg.Database.Enabled)
	dicomwebHandler := handlers.NewDICOMWebHandler(qido.NewSearcher(arc, qido.DefaultConcurrency), wadoService, gatewayService, cfg.DicomWeb)
	serversHandler := handlers.NewServersHandler(gatewayService)
	auditHandler := handlers.NewAuditHandler(gatewayService)
	wadoURIHandler := handlers.NewWadoURIHandler(wadoService)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics)
	}
	r.Use(chimiddleware.Compress(5, "application/json", "application/dicom+json", "application/dicom+xml", "text/plain"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "Content-Location"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if cfg.Server.RateLimit > 0 {
		r.Use(httprate.LimitByIP(cfg.Server.RateLimit, time.Minute))
	}

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// DICOMweb endpoints
	if cfg.DicomWeb.Enable {
		mount(r, cfg.DicomWeb.Root, func(r chi.Router) {
			dicomwebHandler.Routes(r)
			serversHandler.Routes(r)
			auditHandler.Routes(r)
		})
		log.Info().Str("root", cfg.DicomWeb.Root).Msg("DICOMweb enabled")
	}

	// WADO-URI
	if cfg.DicomWeb.EnableWado {
		if prefix := strings.TrimSuffix(cfg.DicomWeb.WadoRoot, "/"); prefix != "" {
			r.Get(prefix, wadoURIHandler.Retrieve)
		}
		r.Get(cfg.DicomWeb.WadoRoot, wadoURIHandler.Retrieve)
		log.Info().Str("root", cfg.DicomWeb.WadoRoot).Msg("WADO-URI enabled")
	}

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

// mount registers routes below a URI root such as "/dicom-web/"
func mount(r chi.Router, root string, fn func(chi.Router)) {
	prefix := strings.TrimSuffix(root, "/")
	if prefix == "" {
		r.Group(fn)
		return
	}
	r.Route(prefix, fn)
}
