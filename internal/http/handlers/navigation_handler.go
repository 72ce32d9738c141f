// README: Navigation session handlers (create/plan/get/events/route/live/simulate/cancel/delete).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"navi/internal/http/middleware"
	"navi/internal/modules/navigation"
	"navi/internal/modules/quota"
	"navi/internal/types"
)

type NavigationHandler struct {
	navigation *navigation.Service
	quota      *quota.Service
}

// NewNavigationHandler meters Plan through q; a nil q leaves planning unmetered.
func NewNavigationHandler(svc *navigation.Service, q *quota.Service) *NavigationHandler {
	return &NavigationHandler{navigation: svc, quota: q}
}

type planReq struct {
	Message   string  `json:"message" binding:"required"`
	OriginLat float64 `json:"origin_lat" binding:"min=-90,max=90"`
	OriginLng float64 `json:"origin_lng" binding:"min=-180,max=180"`
	DeviceID  string  `json:"device_id"`
}

type liveReq struct {
	DeviceID string `json:"device_id"`
}

type sessionResp struct {
	SessionID types.ID                `json:"session_id"`
	Summary   navigation.RouteSummary `json:"summary"`
	// PlansRemaining is set on metered Plan responses.
	PlansRemaining *int `json:"plans_remaining,omitempty"`
}

type stepEventResp struct {
	FromStep      int                   `json:"from_step"`
	ToStep        int                   `json:"to_step"`
	DistanceAlong float64               `json:"distance_along_m"`
	Source        navigation.SourceKind `json:"source"`
	Lat           float64               `json:"lat"`
	Lng           float64               `json:"lng"`
	RecordedAt    int64                 `json:"recorded_at"`
}

// Create takes a directions route document as the body. ?device_id= sets the
// default device for live navigation.
func (h *NavigationHandler) Create(c *gin.Context) {
	deviceID := c.Query("device_id")
	if deviceID != "" {
		if !isValidID(deviceID) {
			writeError(c, http.StatusBadRequest, "invalid device id")
			return
		}
		if !canActAs(c, deviceID) {
			writeError(c, http.StatusForbidden, "forbidden: device does not belong to caller")
			return
		}
	}
	route, ok := h.readRoute(c)
	if !ok {
		return
	}
	id, summary, err := h.navigation.Create(c.Request.Context(), navigation.CreateCommand{Route: route, DeviceID: deviceID})
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, sessionResp{SessionID: id, Summary: summary})
}

func (h *NavigationHandler) Plan(c *gin.Context) {
	var req planReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DeviceID != "" && (!isValidID(req.DeviceID) || !canActAs(c, req.DeviceID)) {
		writeError(c, http.StatusForbidden, "forbidden: device does not belong to caller")
		return
	}
	if !h.navigation.CanPlan() {
		writeNavigationError(c, navigation.ErrPlannerDisabled)
		return
	}
	if err := h.quota.Use(c.Request.Context(), middleware.CallerUID(c)); err != nil {
		if errors.Is(err, quota.ErrExhausted) {
			writeError(c, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	id, summary, err := h.navigation.Plan(c.Request.Context(), navigation.PlanCommand{
		Message:  req.Message,
		Origin:   orb.Point{req.OriginLng, req.OriginLat},
		DeviceID: req.DeviceID,
	})
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	resp := sessionResp{SessionID: id, Summary: summary}
	if h.quota != nil {
		left, err := h.quota.Remaining(c.Request.Context(), middleware.CallerUID(c))
		if err == nil {
			resp.PlansRemaining = &left
		}
	}
	writeJSON(c, http.StatusCreated, resp)
}

func (h *NavigationHandler) Get(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	snap, err := h.navigation.Get(c.Request.Context(), id)
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

// Events lists the session's step advancements, oldest first.
func (h *NavigationHandler) Events(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	events, err := h.navigation.Events(c.Request.Context(), id)
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	out := make([]stepEventResp, 0, len(events))
	for _, e := range events {
		out = append(out, stepEventResp{
			FromStep:      e.FromStep,
			ToStep:        e.ToStep,
			DistanceAlong: e.DistanceAlong,
			Source:        e.Source,
			Lat:           e.Latitude,
			Lng:           e.Longitude,
			RecordedAt:    e.RecordedAt,
		})
	}
	writeJSON(c, http.StatusOK, map[string]any{"session_id": id, "events": out})
}

func (h *NavigationHandler) SetRoute(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	route, ok := h.readRoute(c)
	if !ok {
		return
	}
	summary, err := h.navigation.SetRoute(c.Request.Context(), id, route)
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, sessionResp{SessionID: id, Summary: summary})
}

// StartLive follows the body's device_id, or the session default when empty.
func (h *NavigationHandler) StartLive(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	var req liveReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	device := req.DeviceID
	if device == "" {
		fallback, err := h.navigation.DefaultDevice(id)
		if err != nil {
			writeNavigationError(c, err)
			return
		}
		device = fallback
	} else if !isValidID(device) {
		writeError(c, http.StatusBadRequest, "invalid device id")
		return
	}
	if device != "" && !canActAs(c, device) {
		writeError(c, http.StatusForbidden, "forbidden: device does not belong to caller")
		return
	}
	if err := h.navigation.StartLive(c.Request.Context(), id, req.DeviceID); err != nil {
		writeNavigationError(c, err)
		return
	}
	h.writeStatus(c, id)
}

func (h *NavigationHandler) Simulate(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.navigation.StartSimulated(c.Request.Context(), id); err != nil {
		writeNavigationError(c, err)
		return
	}
	h.writeStatus(c, id)
}

func (h *NavigationHandler) Cancel(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.navigation.Cancel(c.Request.Context(), id); err != nil {
		writeNavigationError(c, err)
		return
	}
	h.writeStatus(c, id)
}

func (h *NavigationHandler) Delete(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if err := h.navigation.Delete(c.Request.Context(), id); err != nil {
		writeNavigationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *NavigationHandler) writeStatus(c *gin.Context, id types.ID) {
	snap, err := h.navigation.Get(c.Request.Context(), id)
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (h *NavigationHandler) readRoute(c *gin.Context) (*navigation.Route, bool) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		writeError(c, http.StatusBadRequest, "missing route body")
		return nil, false
	}
	route, err := navigation.DecodeRoute(body)
	if err != nil {
		writeNavigationError(c, err)
		return nil, false
	}
	return route, true
}

func sessionID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return types.ID(id), true
}
