package main

import (
	"context"
	"log"
	"time"

	"github.com/dpup/prefab"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/justineMD2002/FSM-sub001/internal/cache"
	"github.com/justineMD2002/FSM-sub001/internal/clients/google"
	"github.com/justineMD2002/FSM-sub001/internal/config"
	"github.com/justineMD2002/FSM-sub001/internal/position"
	"github.com/justineMD2002/FSM-sub001/internal/publisher"
	"github.com/justineMD2002/FSM-sub001/internal/services"
	"github.com/justineMD2002/FSM-sub001/internal/store"
	"github.com/justineMD2002/FSM-sub001/internal/tracking"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found (using environment variables)")
	}

	appConfig := loadConfig()

	// Geocode results are cached per address; periodic cleanup keeps the
	// cache from accumulating stale entries over a long-running process.
	cacheInstance := cache.NewCache()
	cacheInstance.StartPeriodicCleanup(context.Background(), 10*time.Minute)

	googleClient := google.NewClient(appConfig.Google.APIKey)

	db, err := store.Open(appConfig.Postgres.DSN, appConfig.Postgres.MaxOpenConns, appConfig.Postgres.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to open postgres: %v", err)
	}
	defer db.Close()

	if err := store.InitSchema(db); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}
	positionStore := store.NewTechnicianPositionStore(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     appConfig.Redis.Addr,
		Password: appConfig.Redis.Password,
		DB:       appConfig.Redis.DB,
	})
	defer rdb.Close()
	liveStore := store.NewLiveLocationStore(rdb)

	mqttClient, err := connectMQTT(&appConfig.MQTT)
	if err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	defer mqttClient.Disconnect(250)

	amqpConn, err := amqp.Dial(appConfig.RabbitMQ.URL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer amqpConn.Close()

	arrivalPublisher, err := publisher.NewRabbitMQPublisher(amqpConn)
	if err != nil {
		log.Fatalf("Failed to create arrival publisher: %v", err)
	}
	defer arrivalPublisher.Close()

	// One feed per process: broker subscriptions are shared, so a one-shot
	// fix for a technician never disturbs their live watch.
	positionFeed := position.NewMQTTFeed(mqttClient, appConfig.Tracking.FixTimeout)
	sources := func(technicianID string) position.Source {
		return positionFeed.SourceFor(technicianID)
	}

	navigationService := services.NewNavigationService(
		sources,
		googleClient,
		googleClient,
		cacheInstance,
		arrivalPublisher,
		positionStore,
		liveStore,
	)
	navigationService.SetSettings(tracking.Settings{
		ArrivalRadiusMeters: appConfig.Tracking.ArrivalRadiusMeters,
		DebounceWindow:      appConfig.Tracking.DebounceWindow,
		GeocodeTTL:          appConfig.Tracking.GeocodeTTL,
	})
	defer navigationService.StopAll()

	log.Printf("Navigation API Server starting")
	log.Printf("MQTT broker: %s", appConfig.MQTT.BrokerURL)

	handlers := newAPIHandlers(navigationService, cacheInstance)

	server := prefab.New(
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc("/api/v1/tracking/start", handlers.startTracking),
		prefab.WithHTTPHandlerFunc("/api/v1/tracking/stop", handlers.stopTracking),
		prefab.WithHTTPHandlerFunc("/api/v1/tracking/status", handlers.trackingStatus),
		prefab.WithHTTPHandlerFunc("/api/v1/overview", handlers.planOverview),
		prefab.WithHTTPHandlerFunc("/api/v1/overview/focus", handlers.focusDestination),
		prefab.WithHTTPHandlerFunc("/api/v1/health", handlers.health),
	)

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig loads configuration using Prefab's config system.
// Configuration is loaded from prefab.yaml and environment variables with
// the PF__ prefix, on top of defaults.
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	if err := prefab.Config.Unmarshal("tracking", &appConfig.Tracking); err != nil {
		log.Fatalf("Failed to unmarshal tracking section: %v", err)
	}
	if err := prefab.Config.Unmarshal("google", &appConfig.Google); err != nil {
		log.Fatalf("Failed to unmarshal google section: %v", err)
	}
	if err := prefab.Config.Unmarshal("mqtt", &appConfig.MQTT); err != nil {
		log.Fatalf("Failed to unmarshal mqtt section: %v", err)
	}
	if err := prefab.Config.Unmarshal("postgres", &appConfig.Postgres); err != nil {
		log.Fatalf("Failed to unmarshal postgres section: %v", err)
	}
	if err := prefab.Config.Unmarshal("redis", &appConfig.Redis); err != nil {
		log.Fatalf("Failed to unmarshal redis section: %v", err)
	}
	if err := prefab.Config.Unmarshal("rabbitmq", &appConfig.RabbitMQ); err != nil {
		log.Fatalf("Failed to unmarshal rabbitmq section: %v", err)
	}

	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

func connectMQTT(cfg *config.MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return client, nil
}
