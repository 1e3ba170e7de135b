package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"freecanvas/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers in protect (typically middleware.Authenticate) guard the item and image routes;
// health checks stay open.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.CanvasService, protect ...fiber.Handler) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", Liveness())

	items := app.Group("/items", protect...)
	items.Get("/", ListItems(svc))
	items.Post("/", CreateItem(svc))
	items.Get("/:id", GetItem(svc))
	items.Patch("/:id", UpdateItem(svc))
	items.Put("/:id", UpdateItem(svc))
	items.Delete("/:id", DeleteItem(svc))

	images := app.Group("/images", protect...)
	images.Post("/", UploadImage(svc))
	images.Get("/*", GetImage(svc))
}

// RegisterAuthRoutes attaches the open sign-up and sign-in routes.
func RegisterAuthRoutes(app *fiber.App, accounts service.AccountService) {
	g := app.Group("/auth")
	g.Post("/register", Register(accounts))
	g.Post("/login", Login(accounts))
}
