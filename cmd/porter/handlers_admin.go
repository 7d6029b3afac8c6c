package main

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/pmgate/pmgate/admission"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleAdminGetEngineEnabled(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]bool{
		"enabled": s.engine.Enabled(),
	})
}

func (s *Server) handleAdminSetEngineEnabled(c echo.Context) error {
	enabled, err := strconv.ParseBool(c.QueryParam("enabled"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	if err := s.engine.SetEnabled(c.Request().Context(), enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminGetStatus(c echo.Context) error {
	status, err := s.engine.Status(c.Request().Context())
	if err != nil {
		return &echo.HTTPError{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	return c.JSON(http.StatusOK, status)
}

func (s *Server) handleAdminRescan(c echo.Context) error {
	res, err := s.engine.Rescan(c.Request().Context())
	if err != nil {
		return &echo.HTTPError{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdminGetSettings(c echo.Context) error {
	settings := s.engine.CurrentSettings()
	return c.JSON(http.StatusOK, map[string]any{
		"enabled":              settings.Enabled,
		"challengeTimeout":     settings.ChallengeTimeout.String(),
		"floodThreshold":       settings.FloodThreshold,
		"floodWindow":          settings.FloodWindow.String(),
		"cooldown":             settings.Cooldown.String(),
		"commonGroupThreshold": settings.CommonGroupThreshold,
		"blockBots":            settings.BlockBots,
		"destructiveReject":    settings.DestructiveReject,
	})
}

func (s *Server) handleAdminSetChallengeTimeout(c echo.Context) error {
	timeout, err := time.ParseDuration(c.QueryParam("timeout"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "must pass a valid timeout duration"}
	}
	if err := s.engine.SetChallengeTimeout(c.Request().Context(), timeout); err != nil {
		if errors.Is(err, admission.ErrInvalidTimeout) {
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminSetFloodParams(c echo.Context) error {
	threshold, err := strconv.Atoi(c.QueryParam("threshold"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "must pass a valid threshold"}
	}
	window, err := time.ParseDuration(c.QueryParam("window"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "must pass a valid window duration"}
	}
	if err := s.engine.SetFloodParams(c.Request().Context(), threshold, window); err != nil {
		if errors.Is(err, admission.ErrInvalidThreshold) || errors.Is(err, admission.ErrInvalidWindow) {
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminSetCooldown(c echo.Context) error {
	cooldown, err := time.ParseDuration(c.QueryParam("cooldown"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "must pass a valid cooldown duration"}
	}
	if err := s.engine.SetCooldown(c.Request().Context(), cooldown); err != nil {
		if errors.Is(err, admission.ErrInvalidCooldown) {
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminSetGroupThreshold(c echo.Context) error {
	threshold, err := strconv.Atoi(c.QueryParam("threshold"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: "must pass a valid threshold"}
	}
	if err := s.engine.SetCommonGroupThreshold(c.Request().Context(), threshold); err != nil {
		if errors.Is(err, admission.ErrInvalidGroupThreshold) {
			return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminSetBlockBots(c echo.Context) error {
	enabled, err := strconv.ParseBool(c.QueryParam("enabled"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	if err := s.engine.SetBlockBots(c.Request().Context(), enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminSetDestructiveReject(c echo.Context) error {
	enabled, err := strconv.ParseBool(c.QueryParam("enabled"))
	if err != nil {
		return &echo.HTTPError{Code: http.StatusBadRequest, Message: err.Error()}
	}
	if err := s.engine.SetDestructiveReject(c.Request().Context(), enabled); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

type ListWhitelistResponse struct {
	Senders []WhitelistEntry `json:"senders"`
}

type WhitelistEntry struct {
	SenderID  int64     `json:"senderId"`
	TrustedAt time.Time `json:"trustedAt"`
}

func (s *Server) handleAdminListWhitelist(c echo.Context) error {
	entries, err := s.engine.Whitelist.List(c.Request().Context())
	if err != nil {
		return &echo.HTTPError{Code: http.StatusInternalServerError, Message: "failed to list whitelist"}
	}

	out := ListWhitelistResponse{
		Senders: make([]WhitelistEntry, len(entries)),
	}
	for i, entry := range entries {
		out.Senders[i] = WhitelistEntry{
			SenderID:  entry.SenderID,
			TrustedAt: entry.CreatedAt,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func parseSenderParam(c echo.Context) (admission.SenderID, error) {
	sender, err := strconv.ParseInt(c.QueryParam("sender"), 10, 64)
	if err != nil || sender <= 0 {
		return 0, &echo.HTTPError{Code: http.StatusBadRequest, Message: "must pass a valid sender ID"}
	}
	return admission.SenderID(sender), nil
}

func (s *Server) handleAdminWhitelistAdd(c echo.Context) error {
	sender, err := parseSenderParam(c)
	if err != nil {
		return err
	}
	if err := s.engine.Trust(c.Request().Context(), sender); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}

func (s *Server) handleAdminWhitelistRemove(c echo.Context) error {
	sender, err := parseSenderParam(c)
	if err != nil {
		return err
	}
	removed, err := s.engine.RevokeTrust(c.Request().Context(), sender)
	if err != nil {
		return err
	}
	if !removed {
		return &echo.HTTPError{
			Code:    http.StatusNotFound,
			Message: "sender not whitelisted",
		}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": "true",
	})
}
