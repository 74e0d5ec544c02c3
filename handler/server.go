package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const maxLocalBody = 1 << 20

// NewServer exposes h over plain HTTP for local runs. Requests are converted
// to proxy events so both run modes share the same routing and error mapping.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.InfoContext(c.Request().Context(), "http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	e.POST("/chat", h.serveEcho("/chat"))
	e.GET("/chat/:chat_id", h.serveEcho("/chat/{chat_id}"))
	e.GET("/chats", h.serveEcho("/chats"))

	return e
}

func (h *Handler) serveEcho(resource string) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		body, err := io.ReadAll(io.LimitReader(req.Body, maxLocalBody))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "read body")
		}

		event := events.APIGatewayProxyRequest{
			Resource:              resource,
			Path:                  req.URL.Path,
			HTTPMethod:            req.Method,
			Headers:               flatten(req.Header),
			QueryStringParameters: flatten(req.URL.Query()),
			Body:                  string(body),
		}
		if id := c.Param(chatIDParam); id != "" {
			event.PathParameters = map[string]string{chatIDParam: id}
		}

		resp, err := h.Handle(req.Context(), event)
		if err != nil {
			return err
		}
		for k, v := range resp.Headers {
			c.Response().Header().Set(k, v)
		}
		if resp.Body == "" {
			return c.NoContent(resp.StatusCode)
		}
		return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, []byte(resp.Body))
	}
}

func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
