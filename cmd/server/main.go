package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dias221467/Vehicle_Marketplace/internal/config"
	"github.com/Dias221467/Vehicle_Marketplace/internal/database"
	"github.com/Dias221467/Vehicle_Marketplace/internal/handlers"
	"github.com/Dias221467/Vehicle_Marketplace/internal/repository"
	"github.com/Dias221467/Vehicle_Marketplace/internal/scheduler"
	"github.com/Dias221467/Vehicle_Marketplace/internal/services"
	"github.com/Dias221467/Vehicle_Marketplace/pkg/logger"
	"github.com/rs/cors"
)

func main() {
	// Load configuration from .env file
	cfg := config.LoadConfig()

	logger.InitLogger(cfg.LogLevel)
	logger.Log.Info("Logger initialized")

	db, err := database.ConnectDB(cfg)
	if err != nil {
		logger.Log.Fatalf("Database connection error: %v", err)
	}

	// --- Repositories ---
	preferencesRepo := repository.NewPreferencesRepository(db)
	userRepo := repository.NewUserRepository(db)
	listingRepo := repository.NewListingRepository(db)
	photoFeed := repository.NewPhotoRequestFeed(db)
	premiumFeed := repository.NewPremiumRequestFeed(db)

	// --- Scheduling ---
	sched := scheduler.New()
	sched.Start()

	// --- Services ---
	scanner := services.NewPaymentAlertScanner(listingRepo, sched, cfg.PaymentScanInterval, cfg.Location)
	sessions := services.NewSessionManager(services.SessionDeps{
		Preferences: preferencesRepo,
		Feeds: map[services.Source]services.FeedSource{
			services.SourceUsers:           userRepo,
			services.SourceListings:        listingRepo,
			services.SourcePhotoRequests:   photoFeed,
			services.SourcePremiumRequests: premiumFeed,
		},
		Scanner:    scanner,
		MaxPerType: cfg.MaxPerType,
		FeedLimit:  cfg.FeedLimit,
		Debounce:   cfg.NotifyDebounce,
	})

	router := handlers.NewRouter(sessions, cfg.JWTSecret, cfg.AllowedOrigins)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: c.Handler(router),
	}

	go func() {
		logger.Log.Infof("Server running on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatalf("Server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Errorf("Server shutdown error: %v", err)
	}

	sessions.CloseAll()
	<-sched.Stop().Done()

	if err := db.Client().Disconnect(ctx); err != nil {
		logger.Log.Errorf("MongoDB disconnect error: %v", err)
	}
}
