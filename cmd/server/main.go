package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/relaydata/stripebridge/pkg/config"
	"github.com/relaydata/stripebridge/pkg/dashauth"
	"github.com/relaydata/stripebridge/pkg/dbx"
	"github.com/relaydata/stripebridge/pkg/errx"
	"github.com/relaydata/stripebridge/pkg/logx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logx.Info("starting stripebridge API server")

	container := NewContainer(cfg)
	defer container.Cleanup()

	app := fiber.New(fiber.Config{
		AppName:               "stripebridge",
		DisableStartupMessage: true,
		ErrorHandler:          errx.FiberErrorHandler,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestid.New(requestid.Config{
		Header:    "X-Request-ID",
		Generator: uuid.NewString,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowHeaders:  "Origin, Content-Type, Accept, Stripe-Signature, X-Request-ID",
		AllowMethods:  "GET, POST, DELETE, OPTIONS",
		ExposeHeaders: "X-Request-ID",
	}))
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path} | ${reqHeader:X-Request-ID}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "Local",
	}))

	app.Get("/health", healthHandler(container))

	container.ConnectHandlers.RegisterRoutes(app)
	container.ProvisionHandlers.RegisterRoutes(app, dashauth.Middleware(container.Verifier))

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"code": "NOT_FOUND", "message": "route not found"})
	})

	startServer(app, cfg.Server.Port)
}

func healthHandler(container *Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := dbx.HealthCheck(c.Context(), container.DB); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":   "degraded",
				"database": "unreachable",
			})
		}
		return c.JSON(fiber.Map{"status": "healthy"})
	}
}

func startServer(app *fiber.App, port string) {
	go func() {
		logx.WithField("port", port).Info("server listening")
		if err := app.Listen(":" + port); err != nil {
			logx.Fatalf("server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan

	logx.WithField("signal", sig.String()).Info("shutting down")
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		logx.WithError(err).Error("server forced to shutdown")
	}
	logx.Info("server exited")
}
