package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	badgerstore "github.com/kgantsov/rq/badger-store"
	"github.com/kgantsov/rq/queue"
	redisstore "github.com/kgantsov/rq/redis-store"
	"github.com/kgantsov/rq/storage"
)

// Command line defaults
const (
	DefaultBackend    = "redis"
	DefaultRedisHost  = "localhost"
	DefaultRedisPort  = 6379
	DefaultLockExpiry = 30 * time.Second
)

// Command line parameters
var debug bool
var queueName string
var backend string
var redisHost string
var redisPort int
var redisPassword string
var redisDB int
var dataDir string
var retries int
var lockExpiry time.Duration

func init() {
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.StringVar(&queueName, "queue", "", "Name of the queue to consume")
	flag.StringVar(&backend, "backend", DefaultBackend, "Set the store backend: redis or badger")
	flag.StringVar(&redisHost, "redis-host", DefaultRedisHost, "Set the Redis host")
	flag.IntVar(&redisPort, "redis-port", DefaultRedisPort, "Set the Redis port")
	flag.StringVar(&redisPassword, "redis-password", "", "Set the Redis password, if any")
	flag.IntVar(&redisDB, "redis-db", 0, "Set the Redis database")
	flag.StringVar(&dataDir, "data-dir", "", "Set the data directory for the badger backend")
	flag.IntVar(&retries, "retries", 0, "Set the store command retry budget")
	flag.DurationVar(&lockExpiry, "lock-expiry", DefaultLockExpiry, "Set the task lock expiry")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -queue <name> [options] \n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if queueName == "" {
		fmt.Fprintf(os.Stderr, "No queue name specified\n")
		flag.Usage()
		os.Exit(1)
	}

	store, err := buildStore()
	if err != nil {
		log.Fatal().Msgf("failed to open store: %s", err.Error())
	}
	defer store.Close()

	q, err := queue.New(queueName, store, queue.Options{LockExpiry: lockExpiry})
	if err != nil {
		log.Fatal().Msgf("failed to create queue: %s", err.Error())
	}
	defer q.Close()

	q.OnError(func(err error) {
		log.Error().Msgf("Queue error: %s", err.Error())
	})
	q.OnComplete(func(task *queue.Task) {
		log.Info().Msgf("Completed task %d", task.ID)
	})
	q.OnFail(func(err error, task *queue.Task) {
		log.Warn().Msgf("Task %d failed: %s", task.ID, err.Error())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		terminate := make(chan os.Signal, 1)
		signal.Notify(terminate, os.Interrupt)
		<-terminate
		cancel()
	}()

	// We're up and running!
	log.Info().Msgf("rq worker started successfully, consuming queue %s", queueName)

	err = q.Dequeue(ctx, func(task *queue.Task) {
		log.Info().Msgf("Processing task %d: %v", task.ID, task.Data)

		if err := task.Done(nil); err != nil {
			log.Error().Msgf("failed to complete task %d: %s", task.ID, err.Error())
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Msgf("consumer loop stopped: %s", err.Error())
	}

	log.Info().Msg("rq worker exiting")
}

// buildStore opens the queue store selected by the backend flag.
func buildStore() (storage.Store, error) {
	switch backend {
	case "redis":
		return redisstore.New(redisstore.Options{
			Host:     redisHost,
			Port:     redisPort,
			Password: redisPassword,
			DB:       redisDB,
			Retries:  retries,
		}), nil
	case "badger":
		if dataDir == "" {
			return nil, fmt.Errorf("no data directory specified for the badger backend")
		}
		return badgerstore.Open(dataDir)
	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
}
