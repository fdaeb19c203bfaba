package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mealflow/cart"
	"mealflow/config"
	"mealflow/driver"
	"mealflow/httpclient"
	"mealflow/internal/dashboard"
	"mealflow/internal/metrics"
	"mealflow/internal/state"
	"mealflow/internal/storage"
	"mealflow/logger"
	"mealflow/realtime"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Mealflow.Name,
		"version":     cfg.Mealflow.Version,
		"environment": config.AppEnvironment(),
	}).Info("starting mealflow agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace)
		metrics.StartReport(ctx, log, cfg.Metrics.ReportInterval)
	}

	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		log.WithError(err).Error("failed to open client state store")
		os.Exit(1)
	}

	cartStore := cart.NewStore(store)

	onAuthExpired := func() {
		log.WithComponent("main").Warn("auth session expired, login required")
		if cfg.Cart.ClearOnLogout {
			cartStore.Clear()
		}
	}
	api := httpclient.New(cfg.API, store, onAuthExpired)

	connStore := state.NewConnectionStore()
	rt := realtime.NewClient(cfg.Realtime, connStore)

	dash, err := dashboard.NewServer(cfg.Dashboard, log, connStore, cartStore)
	if err != nil {
		log.WithError(err).Error("failed to create status server")
		os.Exit(1)
	}
	if dash != nil {
		go func() {
			if err := dash.Run(ctx, cfg.Mealflow.Name); err != nil {
				log.WithError(err).Error("status server exited")
			}
		}()
		log.WithFields(logger.Fields{"address": dash.Address()}).Info("status server listening")
	}

	var pinger *driver.Pinger
	if cfg.Driver.Enabled {
		source := driver.NewFileSource(cfg.Driver.PositionFile, cfg.Driver.LocationInterval)
		pinger = driver.NewPinger(cfg.Driver, source, rt)
	}

	rt.OnOrderStatusUpdated(func(update realtime.OrderStatusUpdate) {
		log.WithComponent("main").WithFields(logger.Fields{
			"order_id": update.OrderID,
			"status":   update.Status,
		}).Info("order status updated")
	})
	rt.OnNewDelivery(func(delivery realtime.NewDelivery) {
		log.WithComponent("main").WithFields(logger.Fields{
			"order_id": delivery.OrderID,
			"pickup":   delivery.Pickup,
		}).Info("new delivery assigned")
		rt.SubscribeToOrder(delivery.OrderID)
		if pinger != nil {
			pinger.SetActiveOrder(delivery.OrderID)
		}
	})
	rt.OnOrderCompleted(func(update realtime.OrderStatusUpdate) {
		rt.UnsubscribeFromOrder(update.OrderID)
		if pinger != nil {
			pinger.SetActiveOrder("")
		}
	})
	rt.OnNotification(func(n realtime.Notification) {
		log.WithComponent("main").WithFields(logger.Fields{
			"notification_id": n.NotificationID,
			"title":           n.Title,
		}).Info("notification received")
		rt.NotifyRead(n.NotificationID)
	})

	tokens, err := store.Tokens()
	if err != nil {
		log.WithError(err).Error("failed to load auth tokens")
		os.Exit(1)
	}
	if tokens.Token == "" {
		log.WithComponent("main").Warn("no auth token persisted; realtime disabled until login")
	} else {
		var profile struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := api.GetJSON(ctx, "/drivers/me", &profile); err != nil {
			log.WithError(err).Warn("failed to fetch driver profile")
		} else {
			log.WithComponent("main").WithFields(logger.Fields{"driver_id": profile.ID}).Info("driver profile loaded")
		}

		if err := rt.Connect(tokens.Token); err != nil {
			log.WithError(err).Error("failed to start realtime client")
			os.Exit(1)
		}
	}

	if pinger != nil {
		if err := pinger.Start(ctx); err != nil {
			log.WithError(err).Error("failed to start location pinger")
			os.Exit(1)
		}
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	if pinger != nil {
		log.Info("stopping location pinger")
		pinger.Stop()
	}

	log.Info("stopping realtime client")
	rt.Disconnect()

	if err := store.Close(); err != nil {
		log.WithError(err).Warn("failed to close client state store")
	}

	// Give the report loop a beat to flush its last tick.
	time.Sleep(100 * time.Millisecond)
	log.Info("mealflow agent stopped")
}
