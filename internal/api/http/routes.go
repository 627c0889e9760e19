package httpapi

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/weather-dashboard/internal/logging"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *weather.Service, events *EventLog) {
	v1 := app.Group("/api/v1")

	v1.Get("/state", func(c *fiber.Ctx) error {
		return c.JSON(service.State())
	})

	v1.Get("/places", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"places": service.Visited()})
	})

	v1.Post("/places", func(c *fiber.Ctx) error {
		var req loadRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		// An empty name still goes to the service so the rejection is
		// published like any other alert.
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := service.LoadByName(requestContext(c), req.Name); err != nil {
			return err
		}
		return c.JSON(service.State())
	})

	v1.Post("/places/:id/load", func(c *fiber.Ctx) error {
		if err := service.LoadCachedPlace(requestContext(c), c.Params("id")); err != nil {
			return err
		}
		return c.JSON(service.State())
	})

	v1.Delete("/places/:id", func(c *fiber.Ctx) error {
		if err := service.Delete(requestContext(c), c.Params("id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Post("/refresh", func(c *fiber.Ctx) error {
		if err := service.Refresh(requestContext(c)); err != nil {
			return err
		}
		return c.JSON(service.State())
	})

	v1.Get("/events", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"events": events.Recent()})
	})
}

// loadRequest is the body of POST /api/v1/places.
type loadRequest struct {
	Name string `json:"name" validate:"max=200"`
}

// ErrorHandler renders handler errors as JSON. Load failures carry the
// published state so clients can see where the fallback ended up.
func ErrorHandler(service *weather.Service) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)

		body := fiber.Map{
			"error":   true,
			"message": err.Error(),
		}
		if kind, ok := weather.KindOf(err); ok {
			body["kind"] = kind
		}
		if service != nil && code != fiber.StatusNotFound {
			if _, isFiber := err.(*fiber.Error); !isFiber {
				body["state"] = service.State()
			}
		}
		return c.Status(code).JSON(body)
	}
}

func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, weather.ErrValidationFailure):
		return fiber.StatusBadRequest
	case errors.Is(err, weather.ErrPlaceNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, weather.ErrSuperseded):
		return fiber.StatusConflict
	case errors.Is(err, weather.ErrDeleteFailed):
		return fiber.StatusInternalServerError
	}
	if _, ok := weather.KindOf(err); ok {
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if id, ok := c.Locals("requestid").(string); ok && id != "" {
		ctx = logging.WithRequestID(ctx, id)
	}
	return ctx
}
