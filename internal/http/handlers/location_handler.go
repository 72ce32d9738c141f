// README: Device location handlers: ingest, latest fix, forget and radius query.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"

	"navi/internal/modules/location"
	"navi/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationReq struct {
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"`
	Seq       int64   `json:"seq"`
}

type nearbyResp struct {
	DeviceID   types.ID `json:"device_id"`
	Lat        float64  `json:"lat"`
	Lng        float64  `json:"lng"`
	DistanceKm float64  `json:"distance_km"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid device id")
		return
	}
	// Only the device owner may report its location.
	if !canActAs(c, id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	var req locationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.location.Update(c.Request.Context(), location.Update{
		DeviceID: types.ID(id),
		Seq:      req.Seq,
		Position: types.Position{
			Coords:    types.Coords{Longitude: req.Lng, Latitude: req.Lat, Accuracy: req.Accuracy},
			Timestamp: req.Timestamp,
		},
	})
	if err != nil {
		writeLocationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"accepted": res.Accepted, "flushed": res.Flushed})
}

func (h *LocationHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid device id")
		return
	}
	p, ok, err := h.location.Latest(c.Request.Context(), types.ID(id))
	if err != nil {
		writeLocationError(c, err)
		return
	}
	if !ok {
		writeError(c, http.StatusNotFound, "no location for device")
		return
	}
	writeJSON(c, http.StatusOK, p)
}

// Forget drops the device from the live index. History is kept.
func (h *LocationHandler) Forget(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid device id")
		return
	}
	if !canActAs(c, id) {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated user")
		return
	}
	if err := h.location.Forget(c.Request.Context(), types.ID(id)); err != nil {
		writeLocationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *LocationHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "1"), 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid radius_km")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 0 {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}

	found, err := h.location.Nearby(c.Request.Context(), orb.Point{lng, lat}, radius, limit)
	if err != nil {
		writeLocationError(c, err)
		return
	}
	out := make([]nearbyResp, 0, len(found))
	for _, n := range found {
		out = append(out, nearbyResp{DeviceID: n.DeviceID, Lat: n.Point.Lat(), Lng: n.Point.Lon(), DistanceKm: n.DistanceKm})
	}
	writeJSON(c, http.StatusOK, map[string]any{"devices": out})
}
