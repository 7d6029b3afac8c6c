package main

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
)

func (s *Server) buildAPI() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		switch err := err.(type) {
		case *echo.HTTPError:
			if err2 := ctx.JSON(err.Code, map[string]any{
				"error": err.Message,
			}); err2 != nil {
				s.logger.Error("failed to write http error", "err", err2)
			}
		default:
			s.logger.Warn("handler error", "path", ctx.Path(), "err", err)
			ctx.JSON(500, map[string]any{
				"error": err.Error(),
			})
		}
	}

	e.GET("/", s.HandleHomeMessage)
	e.GET("/_health", s.HandleHealthCheck)

	admin := e.Group("/admin", s.checkAdminAuth)

	// Engine-related Admin API
	admin.GET("/engine", s.handleAdminGetEngineEnabled)
	admin.POST("/engine/setEnabled", s.handleAdminSetEngineEnabled)
	admin.GET("/engine/status", s.handleAdminGetStatus)
	admin.POST("/engine/rescan", s.handleAdminRescan)

	// Settings-related Admin API
	admin.GET("/settings", s.handleAdminGetSettings)
	admin.POST("/settings/setChallengeTimeout", s.handleAdminSetChallengeTimeout)
	admin.POST("/settings/setFloodParams", s.handleAdminSetFloodParams)
	admin.POST("/settings/setCooldown", s.handleAdminSetCooldown)
	admin.POST("/settings/setGroupThreshold", s.handleAdminSetGroupThreshold)
	admin.POST("/settings/setBlockBots", s.handleAdminSetBlockBots)
	admin.POST("/settings/setDestructiveReject", s.handleAdminSetDestructiveReject)

	// Whitelist-related Admin API
	admin.GET("/whitelist", s.handleAdminListWhitelist)
	admin.POST("/whitelist/add", s.handleAdminWhitelistAdd)
	admin.POST("/whitelist/remove", s.handleAdminWhitelistRemove)

	return e
}

func (s *Server) RunAPI(listen string) error {
	e := s.buildAPI()
	s.logger.Info("starting admin API", "bind", listen)
	return e.Start(listen)
}

type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

func (s *Server) HandleHealthCheck(c echo.Context) error {
	if err := s.db.Exec("SELECT 1").Error; err != nil {
		s.logger.Error("healthcheck can't connect to database", "err", err)
		return c.JSON(500, HealthStatus{Status: "error", Message: "can't connect to database"})
	} else {
		return c.JSON(200, HealthStatus{Status: "ok"})
	}
}

var homeMessage string = `
.########...#######..########..########.########.########.
.##.....##.##.....##.##.....##....##....##.......##.....##
.##.....##.##.....##.##.....##....##....##.......##.....##
.########..##.....##.########.....##....######...########.
.##........##.....##.##...##......##....##.......##...##..
.##........##.....##.##....##.....##....##.......##....##.
.##.........#######..##.....##....##....########.##.....##

This is a porter instance: it screens new private messages for one
chat account, challenging strangers before their conversations reach
the operator.

The admin API is under /admin (bearer token required).
`

func (s *Server) HandleHomeMessage(c echo.Context) error {
	return c.String(http.StatusOK, homeMessage)
}

const authorizationBearerPrefix = "Bearer "

func (s *Server) checkAdminAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		authheader := e.Request().Header.Get("Authorization")
		if !strings.HasPrefix(authheader, authorizationBearerPrefix) {
			return echo.ErrForbidden
		}

		token := authheader[len(authorizationBearerPrefix):]

		if s.adminToken != token {
			return echo.ErrForbidden
		}

		return next(e)
	}
}
