// Package middleware holds echo middleware shared by the HTTP server.
package middleware

import (
	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestLogger logs one structured line per request. Server errors log at
// error level, client errors at warn.
func RequestLogger(logger *log.Logger) echo.MiddlewareFunc {
	logger = logger.WithPrefix("http")
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogStatus:    true,
		LogURIPath:   true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			kv := []any{
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"ip", v.RemoteIP,
				"request_id", v.RequestID,
			}
			switch {
			case v.Status >= 500:
				logger.Error("request", append(kv, "err", v.Error)...)
			case v.Status >= 400:
				logger.Warn("request", kv...)
			default:
				logger.Info("request", kv...)
			}
			return nil
		},
	})
}
