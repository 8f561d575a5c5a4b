package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/campus"
	"campusattend/internal/geo"
)

type zoneRequest struct {
	Latitude     *float64 `json:"latitude" binding:"required"`
	Longitude    *float64 `json:"longitude" binding:"required"`
	RadiusMeters float64  `json:"radius_meters" binding:"required,gt=0,lte=100000"`
}

func zoneResponse(s campus.Setting) gin.H {
	return gin.H{
		"latitude":      s.Zone.Center.Lat(),
		"longitude":     s.Zone.Center.Lng(),
		"radius_meters": s.Zone.RadiusMeters,
		"updated_by":    s.UpdatedBy,
		"updated_at":    s.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) GetZone(c *gin.Context) {
	s, err := h.zones.Current(c.Request.Context())
	if errors.Is(err, campus.ErrNotConfigured) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "zone_not_configured"})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, zoneResponse(s))
}

// PutZone replaces the campus zone. The next mark request sees the change.
func (h *Handler) PutZone(c *gin.Context) {
	var req zoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	center, err := geo.NewPoint(*req.Latitude, *req.Longitude)
	if err != nil {
		writeError(c, err)
		return
	}
	zone, err := geo.NewZone(center, req.RadiusMeters)
	if err != nil {
		writeError(c, err)
		return
	}
	actor := subject(c).Subject
	s, err := h.zones.Update(c.Request.Context(), zone, actor)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Printf("[campus] zone set to %s r=%.0fm by %s", center, zone.RadiusMeters, actor)
	c.JSON(http.StatusOK, zoneResponse(s))
}
