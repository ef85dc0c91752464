package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humafiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/kgantsov/rq/queue"
)

// Broker is the multi-queue surface the HTTP service fronts. It is implemented
// by queue.Registry.
type Broker interface {
	// Enqueue publishes data onto the named queue and returns the assigned id.
	Enqueue(ctx context.Context, name string, data map[string]string) (int64, error)

	// Stats reports the waiting and working list depths of the named queue.
	Stats(ctx context.Context, name string) (queue.Stats, error)

	// TaskData returns the record of a task on the named queue.
	TaskData(ctx context.Context, name string, id int64) (map[string]string, error)
}

// Service provides HTTP service.
type Service struct {
	api      huma.API
	router   *fiber.App
	h        *Handler
	httpAddr string
}

// New returns an uninitialized HTTP service.
func New(httpAddr string, broker Broker) *Service {

	router := fiber.New()
	api := humafiber.New(
		router, huma.DefaultConfig("RQ a distributed work queue", "1.0.0"),
	)

	h := &Handler{
		broker: broker,
	}
	h.ConfigureMiddleware(router)
	h.RegisterRoutes(api)

	return &Service{
		api:      api,
		router:   router,
		h:        h,
		httpAddr: httpAddr,
	}
}

func (h *Handler) ConfigureMiddleware(router *fiber.App) {
	router.Use(logger.New(logger.Config{
		TimeFormat: "2006-01-02T15:04:05.999Z0700",
		TimeZone:   "Local",
		Format:     "${time} [INFO] ${locals:requestid} ${method} ${path} ${status} ${latency} ${error}​\n",
	}))

	router.Use(healthcheck.New())
	router.Use(helmet.New())

	router.Use(requestid.New())

	prometheus := fiberprometheus.New("rq")
	prometheus.RegisterAt(router, "/metrics")
	router.Use(prometheus.Middleware)

	router.Get("/service/metrics", monitor.New())
	router.Use(recover.New())
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Register(
		api,
		huma.Operation{
			OperationID: "enqueue-task",
			Method:      http.MethodPost,
			Path:        "/API/v1/queues/{name}/tasks",
			Summary:     "Enqueue task",
			Description: "An endpoint that is used for publishing a task onto a queue",
			Tags:        []string{"Tasks"},
		},
		h.Enqueue,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "get-task",
			Method:      http.MethodGet,
			Path:        "/API/v1/queues/{name}/tasks/{id}",
			Summary:     "Get task",
			Description: "An endpoint that returns the record of a task",
			Tags:        []string{"Tasks"},
		},
		h.GetTask,
	)
	huma.Register(
		api,
		huma.Operation{
			OperationID: "queue-stats",
			Method:      http.MethodGet,
			Path:        "/API/v1/queues/{name}/stats",
			Summary:     "Queue stats",
			Description: "An endpoint that reports the waiting and working depths of a queue",
			Tags:        []string{"Queues"},
		},
		h.Stats,
	)
}

// Start starts the service.
func (s *Service) Start() error {
	return s.router.Listen(fmt.Sprintf(":%s", s.httpAddr))
}

// Close shuts the service down.
func (s *Service) Close() error {
	return s.router.Shutdown()
}
