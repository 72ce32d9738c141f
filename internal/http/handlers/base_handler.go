// README: Base handler utilities (JSON helpers, error mapping, caller checks).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/http/middleware"
	"navi/internal/maps"
	"navi/internal/modules/location"
	"navi/internal/modules/navigation"
	"navi/internal/positioning"
	"navi/internal/service"
)

// RoleFleetAdmin may act on behalf of any device.
const RoleFleetAdmin = "fleet_admin"

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// isValidID accepts session UUIDs and device ids: up to 64 of [A-Za-z0-9_-].
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

// canActAs reports whether the caller may use deviceID's fixes. With auth
// disabled there is no caller and everything is allowed.
func canActAs(c *gin.Context, deviceID string) bool {
	uid := middleware.CallerUID(c)
	return uid == "" || uid == deviceID || middleware.CallerRole(c) == RoleFleetAdmin
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeNavigationError(c *gin.Context, err error) {
	if code, ok := positioning.CodeOf(err); ok {
		status := http.StatusServiceUnavailable
		if code == positioning.CodePermissionDenied {
			status = http.StatusForbidden
		}
		writeJSON(c, status, errorResponse{Error: err.Error(), Code: string(code)})
		return
	}
	switch {
	case errors.Is(err, navigation.ErrBadRequest),
		errors.Is(err, navigation.ErrInvalidRoute),
		errors.Is(err, positioning.ErrMissingDevice):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, navigation.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, navigation.ErrSourceActive),
		errors.Is(err, navigation.ErrStartAborted),
		errors.Is(err, navigation.ErrNoActiveRoute),
		errors.Is(err, maps.ErrNoRoute):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoDestination),
		errors.Is(err, maps.ErrNoPlace):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, navigation.ErrPlannerDisabled),
		errors.Is(err, navigation.ErrNoPositionSource):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeLocationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
