// Matter Cloud Core daemon.
//
// mccd bridges a Matter device-graph server to cloud-style device shadows.
// It maintains the WebSocket session, routes every inbound frame, shards
// node state into per-endpoint shadow documents, journals device events,
// and accepts commands over MQTT, REST, and a poll file.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattercloud/mcc-core/internal/api"
	"github.com/mattercloud/mcc-core/internal/infrastructure/config"
	"github.com/mattercloud/mcc-core/internal/infrastructure/database"
	"github.com/mattercloud/mcc-core/internal/infrastructure/influxdb"
	"github.com/mattercloud/mcc-core/internal/infrastructure/logging"
	"github.com/mattercloud/mcc-core/internal/infrastructure/mqtt"
	"github.com/mattercloud/mcc-core/internal/ingress"
	"github.com/mattercloud/mcc-core/internal/matter"
	"github.com/mattercloud/mcc-core/internal/process"
	"github.com/mattercloud/mcc-core/internal/queue"
	"github.com/mattercloud/mcc-core/internal/shadow"
	"github.com/mattercloud/mcc-core/internal/supervisor"
	"github.com/mattercloud/mcc-core/internal/webhook"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Matter Cloud Core", "version", version, "commit", commit)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised", "level", cfg.Logging.Level, "format", cfg.Logging.Format)

	// Shadow store
	db, err := database.Open(cfg.Shadow.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Shadow.DatabasePath)

	store, err := shadow.NewSQLiteStore(ctx, db)
	if err != nil {
		return fmt.Errorf("initialising shadow store: %w", err)
	}
	if cfg.Shadow.CleanStart {
		wiped, wipeErr := shadow.Wipe(ctx, store, cfg.Thing.Name)
		if wipeErr != nil {
			return fmt.Errorf("wiping shadow store: %w", wipeErr)
		}
		log.Info("clean start, shadow store wiped", "shards", wiped)
	}

	// Shared work queue and response callbacks
	workQueue := queue.New(cfg.Queue.MaxItems, cfg.Queue.MaxBytes)
	defer workQueue.Close()
	registry := matter.NewRegistry()

	// MQTT broker (optional)
	var broker *mqtt.Client
	if cfg.MQTT.Enabled {
		broker, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		broker.SetLogger(log)
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := broker.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// Attribute history sink (optional)
	var history shadow.HistorySink
	if cfg.History.Enabled {
		influxClient, connErr := influxdb.Connect(cfg.History)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.History.URL, "bucket", cfg.History.Bucket)
		history = influxClient
	}

	// Outbound webhook notifier
	notifier := webhook.NewNotifier(log)
	defer notifier.Wait()
	webhookTarget := shadow.WebhookTarget{
		Method:   cfg.Webhook.Method,
		URL:      cfg.Webhook.URL,
		Endpoint: cfg.Webhook.Endpoint,
	}

	// Shadow pipeline
	deltas := shadow.NewDeltaHandler(shadow.DeltaHandlerDeps{
		Store:  store,
		Queue:  workQueue,
		Thing:  cfg.Thing.Name,
		Logger: log,
	})

	var subscriber shadow.DeltaSubscriber
	if broker != nil {
		subscriber = ingress.NewShadowSubscriber(ingress.ShadowSubscriberDeps{
			Broker:   broker,
			Deltas:   deltas,
			Notifier: notifier,
			Target: ingress.WebhookTarget{
				Method:   cfg.Webhook.Method,
				URL:      cfg.Webhook.URL,
				Endpoint: cfg.Webhook.Endpoint,
			},
			QoS:    byte(cfg.MQTT.QoS),
			Logger: log,
		})
	}

	subscriptions := shadow.NewSubscriptionRegistry()
	synchronizer := shadow.NewSynchronizer(shadow.SynchronizerDeps{
		Store:       store,
		Queue:       workQueue,
		Subscriber:  subscriber,
		Registry:    subscriptions,
		Thing:       cfg.Thing.Name,
		LocalNotify: cfg.Webhook.Enabled,
		Webhook:     webhookTarget,
		History:     history,
		Logger:      log,
	})

	journal := shadow.NewJournal(shadow.JournalDeps{
		Store:     store,
		Thing:     cfg.Thing.Name,
		MaxEvents: cfg.Shadow.MaxEvents,
		Logger:    log,
	})

	// Message routing and drain-time interception
	router := matter.NewRouter(matter.RouterDeps{
		Registry:        registry,
		Queue:           workQueue,
		Nodes:           synchronizer,
		Events:          journal,
		Commissionables: synchronizer,
		Logger:          log,
	})
	interceptor := matter.NewInterceptor(matter.InterceptorDeps{
		Registry: registry,
		Queue:    workQueue,
		Webhook:  notifier,
		Logger:   log,
	})

	// Command ingress
	if broker != nil {
		listener := ingress.NewCommandListener(ingress.CommandListenerDeps{
			Broker:        broker,
			Queue:         workQueue,
			RequestTopic:  cfg.MQTT.RequestTopic,
			ResponseTopic: cfg.MQTT.ResponseTopic,
			QoS:           byte(cfg.MQTT.QoS),
			Logger:        log,
		})
		if err := listener.Start(); err != nil {
			return fmt.Errorf("starting MQTT command listener: %w", err)
		}
	}

	apiServer, err := api.New(api.Deps{
		Config:          cfg.API,
		Logger:          log,
		Queue:           workQueue,
		Registry:        registry,
		Store:           store,
		ResponseTimeout: cfg.Matter.GetResponseTimeout(),
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	// Device-graph server cold start
	var serverProcess supervisor.ServerProcess
	if cfg.Matter.Server.Managed {
		manager := process.NewManager(process.Config{
			Name:   "matter-server",
			Binary: cfg.Matter.Server.Binary,
			Args:   cfg.Matter.Server.Args,
		})
		manager.SetLogger(log)
		serverProcess = manager
	}

	// Per-session tasks, restarted alongside the WebSocket connection.
	tasks := []func(ctx context.Context) error{apiServer.Run}
	if cfg.CommandFile.Enabled {
		poller := ingress.NewFilePoller(ingress.FilePollerDeps{
			Path:     cfg.CommandFile.Path,
			Interval: cfg.CommandFile.GetInterval(),
			Queue:    workQueue,
			Logger:   log,
		})
		tasks = append(tasks, poller.Run)
		log.Info("command file poller enabled", "path", cfg.CommandFile.Path)
	}

	sup, err := supervisor.New(supervisor.Deps{
		Dial: func(ctx context.Context) (supervisor.Session, error) {
			// A fresh session means the server lost our attribute
			// subscriptions; forget them so they get re-issued.
			subscriptions.Reset()
			client, dialErr := matter.Dial(ctx, cfg.WebSocketURL(), matter.ClientDeps{
				Queue:       workQueue,
				Router:      router,
				Interceptor: interceptor,
				Logger:      log,
			})
			if dialErr != nil {
				return nil, dialErr
			}
			return client, nil
		},
		Process:      serverProcess,
		Tasks:        tasks,
		RetryCount:   cfg.Matter.Server.RetryCount,
		RetryBackoff: cfg.Matter.Server.GetRetryBackoff(),
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating supervisor: %w", err)
	}

	log.Info("initialisation complete", "endpoint", cfg.WebSocketURL())

	if err := sup.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("shutdown signal received, cleaning up")
			return nil
		}
		return err
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses the MCC_CONFIG environment variable if set, otherwise the default.
func getConfigPath() string {
	if path := os.Getenv("MCC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
