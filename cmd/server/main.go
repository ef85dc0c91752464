package main

import (
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
	"github.com/kgantsov/rq/server"
	"github.com/kgantsov/rq/storage"
)

// Command line defaults
const (
	DefaultHTTPAddr   = "11000"
	DefaultBackend    = "redis"
	DefaultRedisHost  = "localhost"
	DefaultRedisPort  = 6379
	DefaultLockExpiry = 30 * time.Second
)

// Command line parameters
var debug bool
var httpAddr string
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
	flag.StringVar(&httpAddr, "haddr", DefaultHTTPAddr, "Set the HTTP bind port")
	flag.StringVar(&backend, "backend", DefaultBackend, "Set the store backend: redis or badger")
	flag.StringVar(&redisHost, "redis-host", DefaultRedisHost, "Set the Redis host")
	flag.IntVar(&redisPort, "redis-port", DefaultRedisPort, "Set the Redis port")
	flag.StringVar(&redisPassword, "redis-password", "", "Set the Redis password, if any")
	flag.IntVar(&redisDB, "redis-db", 0, "Set the Redis database")
	flag.StringVar(&dataDir, "data-dir", "", "Set the data directory for the badger backend")
	flag.IntVar(&retries, "retries", 0, "Set the store command retry budget")
	flag.DurationVar(&lockExpiry, "lock-expiry", DefaultLockExpiry, "Set the task lock expiry")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] \n", os.Args[0])
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

	store, err := buildStore()
	if err != nil {
		log.Fatal().Msgf("failed to open store: %s", err.Error())
	}

	registry := queue.NewRegistry(func(name string) (*queue.Queue, error) {
		return queue.New(name, store, queue.Options{LockExpiry: lockExpiry})
	})

	h := server.New(httpAddr, registry)
	go func() {
		if err := h.Start(); err != nil {
			log.Error().Msgf("failed to start HTTP service: %s", err.Error())
		}
	}()

	// We're up and running!
	log.Info().Msgf("rq server started successfully, listening on http://localhost:%s", httpAddr)

	terminate := make(chan os.Signal, 1)
	signal.Notify(terminate, os.Interrupt)
	<-terminate

	if err := h.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to shut down HTTP service")
	}
	registry.Close()
	store.Close()

	log.Info().Msg("rq server exiting")
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
