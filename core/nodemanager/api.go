package nodemanager

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gridmind/gridnode/version"
)

type HttpJsonResp[T any] struct {
	Data T `json:"data"`
}

type nodeStateResp struct {
	Status       NodeStatus `json:"status"`
	RunningTasks int        `json:"running_tasks"`
	Version      string     `json:"version"`
}

// startAPI serves the operator control API. Returns a shutdown func, or nil
// when no api_address is configured.
func (n *NodeManager) startAPI() func() {
	if n.cfg.ApiAddress == "" {
		n.logger.Info("operator API disabled: no api_address configured")
		return nil
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	g := e.Group("/node")
	if n.cfg.ApiJwtSecret != "" {
		g.Use(n.jwtMiddleware([]byte(n.cfg.ApiJwtSecret)))
	}

	g.GET("/state", func(c echo.Context) error {
		return c.JSON(http.StatusOK, &HttpJsonResp[nodeStateResp]{
			Data: nodeStateResp{
				Status:       n.Status(),
				RunningTasks: n.system.RunningCount(),
				Version:      version.Get(),
			},
		})
	})

	g.POST("/pause", n.controlHandler(n.Pause))
	g.POST("/resume", n.controlHandler(n.Resume))
	g.POST("/stop", n.controlHandler(n.Stop))

	e.GET("/up", func(c echo.Context) error {
		if n.Status() == StatusRunning {
			return c.String(http.StatusOK, "up")
		}
		return c.String(http.StatusServiceUnavailable, string(n.Status()))
	})

	if reg := n.metrics.Registry(); reg != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	addr := n.cfg.ApiAddress
	n.logger.Info("operator API listening", "address", addr)
	go func() {
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			n.logger.Warn("operator API failed to start; continuing without it", "address", addr, "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(ctx); err != nil {
			n.logger.Error("error stopping operator API", "error", err)
		}
	}
}

// controlHandler maps a lifecycle operation onto an HTTP response. Invalid
// transitions come back as 409 so operator tooling can tell them apart from
// real failures.
func (n *NodeManager) controlHandler(op func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := op(c.Request().Context())
		switch {
		case err == nil:
			return c.JSON(http.StatusOK, &HttpJsonResp[nodeStateResp]{
				Data: nodeStateResp{Status: n.Status(), RunningTasks: n.system.RunningCount(), Version: version.Get()},
			})
		case IsReconciliation(err):
			// local transition done, chain not yet told
			return c.JSON(http.StatusAccepted, map[string]string{
				"status": string(n.Status()),
				"error":  err.Error(),
			})
		default:
			return c.JSON(http.StatusConflict, map[string]string{
				"status": string(n.Status()),
				"error":  err.Error(),
			})
		}
	}
}

func (n *NodeManager) jwtMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			tokenString, found := strings.CutPrefix(header, "Bearer ")
			if !found || tokenString == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			return next(c)
		}
	}
}
