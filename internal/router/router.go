package router

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	echoSwagger "github.com/swaggo/echo-swagger"

	"bankcards/internal/handler"
)

// Register wires routes and middleware. auth guards every /api route.
func Register(
	e *echo.Echo,
	log *logrus.Logger,
	auth echo.MiddlewareFunc,
	cardHandler *handler.CardHandler,
	transferHandler *handler.TransferHandler,
) {
	e.Use(middleware.RequestID())
	e.Use(requestLogger(log))
	e.Use(middleware.Recover())

	e.Validator = &CustomValidator{validator: validator.New()}

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	secured := e.Group("/api", auth)

	// Card routes
	secured.GET("/cards", cardHandler.ListCards)
	secured.GET("/cards/:id/balance", cardHandler.GetBalance)
	secured.GET("/cards/:id/transfers", transferHandler.ListCardTransfers)

	// Transfer routes
	secured.POST("/transfers", transferHandler.CreateTransfer)
	secured.GET("/transfers", transferHandler.ListTransfers)
	secured.GET("/transfers/:id", transferHandler.GetTransfer)
}

func requestLogger(log *logrus.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := log.WithFields(logrus.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			if v.Status >= http.StatusInternalServerError {
				entry.Error("request")
			} else {
				entry.Info("request")
			}
			return nil
		},
	})
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
