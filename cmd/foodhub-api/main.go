// README: Entry point; loads config, wires services, starts HTTP, the websocket hub and background loops.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foodhub/internal/auth"
	"foodhub/internal/channel"
	"foodhub/internal/config"
	httptransport "foodhub/internal/http"
	"foodhub/internal/infra"
	"foodhub/internal/logger"
	"foodhub/internal/maps"
	"foodhub/internal/modules/dispatch"
	"foodhub/internal/modules/location"
	"foodhub/internal/modules/notify"
	"foodhub/internal/modules/order"
	"foodhub/internal/modules/partner"
	"foodhub/internal/modules/pricing"
	"foodhub/internal/modules/sos"
	"foodhub/internal/modules/support"
	"foodhub/internal/modules/vendor"
	"foodhub/internal/modules/zone"
	"foodhub/internal/outbox"
	"foodhub/internal/realtime"
	"foodhub/internal/throttle"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	fatal := func(msg string, err error) {
		log.Error(msg, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		fatal("postgres connect", err)
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		fatal("redis connect", err)
	}
	defer redisClient.Close()

	var (
		verifier infra.TokenVerifier
		pusher   notify.Pusher
	)
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			fatal("firebase init", err)
		}
		msg, err := infra.NewMessaging(ctx, app)
		if err != nil {
			fatal("firebase messaging init", err)
		}
		pusher = notify.NewFCMPusher(msg)
		if cfg.Auth.Provider == "firebase" {
			if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
				fatal("firebase auth init", err)
			}
		}
	}
	if verifier == nil {
		if cfg.Auth.Provider == "firebase" {
			log.Error("auth provider firebase requires FOODHUB_FIREBASE_PROJECT_ID")
			os.Exit(1)
		}
		jwtVerifier, err := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
		if err != nil {
			fatal("jwt verifier", err)
		}
		verifier = jwtVerifier
	}

	var (
		geocoder order.Geocoder
		eta      dispatch.Estimator = maps.StraightLine{SpeedKmh: 20}
	)
	if cfg.Maps.APIKey != "" {
		routes, err := maps.NewRouteService(cfg.Maps.APIKey)
		if err != nil {
			fatal("maps client", err)
		}
		geocoder = routes
		eta = routes
	}

	hub := realtime.NewHub(verifier, log)
	outboxStore := outbox.NewStore(dbPool)

	zoneSvc := zone.NewService(zone.NewPGStore(dbPool), log)
	vendorSvc := vendor.NewService(vendor.NewPGStore(dbPool))
	pricingSvc := pricing.NewService(cfg.Pricing)
	partnerSvc := partner.NewService(partner.NewPGStore(dbPool), partner.NewRedisIndex(redisClient), log)
	notifySvc := notify.NewService(notify.NewPGStore(dbPool), pusher, hub, log)

	orderSvc := order.NewService(order.Deps{
		Store:    order.NewPGStore(dbPool),
		Zones:    zoneSvc,
		Vendors:  vendorSvc,
		Partners: partnerSvc,
		Pricing:  pricingSvc,
		Geocoder: geocoder,
		Outbox:   outboxStore,
		Rooms:    hub,
		Log:      log,
	})

	dispatchSvc := dispatch.NewService(dispatch.Deps{
		Orders:   orderSvc,
		Partners: partnerSvc,
		Zones:    zoneSvc,
		Vendors:  vendorSvc,
		Offers:   dispatch.NewRedisStore(redisClient),
		Rooms:    hub,
		Pusher:   notifySvc,
		ETA:      eta,
		Config:   cfg.Dispatch,
		Log:      log,
	})

	onThrottleError := func(key string, err error) {
		log.Warn("throttle check failed, persisting anyway", "key", key, "error", err)
	}
	locationSvc := location.NewService(
		partnerSvc,
		location.NewRedisSessions(redisClient, cfg.Location.SessionTTL),
		throttle.NewRedis(redisClient, "throttle:", cfg.Location.PersistInterval, onThrottleError),
		hub, cfg.Location, log,
	)
	sosSvc := sos.NewService(sos.Deps{
		Store:     sos.NewPGStore(dbPool),
		Locations: locationSvc,
		Partners:  partnerSvc,
		Throttle:  throttle.NewRedis(redisClient, "throttle:", cfg.SOS.PersistInterval, onThrottleError),
		Rooms:     hub,
		Config:    cfg.SOS,
		Log:       log,
	})
	supportSvc := support.NewService(support.NewPGStore(dbPool), hub, log)

	channel.Bind(hub, channel.Deps{
		Orders:   orderSvc,
		Location: locationSvc,
		SOS:      sosSvc,
		Support:  supportSvc,
		Dispatch: dispatchSvc,
	})

	processor := outbox.NewProcessor(outboxStore, cfg.Outbox, log)
	processor.Register(outbox.EventUserNotification, outbox.NewNotificationHandler(notifySvc))
	processor.Register(outbox.EventVendorNotification, outbox.NewVendorNotificationHandler(vendorSvc, notifySvc))
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := infra.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			fatal("kafka producer", err)
		}
		defer producer.Close()
		processor.Register(outbox.EventOrderStatusChanged, outbox.NewKafkaHandler(producer, cfg.Kafka.Topic, log))
	} else {
		processor.Register(outbox.EventOrderStatusChanged, outbox.NewLoggingHandler(log))
	}

	sweeper := dispatch.NewSweeper(dispatchSvc)
	go sweeper.Run(ctx)
	go processor.Run(ctx)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier: verifier,
		Hub:      hub,
		Orders:   orderSvc,
		Dispatch: dispatchSvc,
		Zones:    zoneSvc,
		Partners: partnerSvc,
		Location: locationSvc,
		SOS:      sosSvc,
		Support:  supportSvc,
		Notify:   notifySvc,
		Log:      log,
	})
	server := httptransport.NewServer(cfg.HTTP.Addr, router, log)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("http server stopped", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	log.Info("foodhub-api stopped")
}
