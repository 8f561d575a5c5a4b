package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/campus"
	"campusattend/internal/directory"
	"campusattend/internal/geo"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/otp"
	"campusattend/internal/store"
)

type errorKind struct {
	target error
	status int
	code   string
}

// errorKinds is checked in order; the first match wins.
var errorKinds = []errorKind{
	{geo.ErrInvalidCoordinates, http.StatusBadRequest, "invalid_coordinates"},
	{attendance.ErrLocationRequired, http.StatusBadRequest, "location_required"},
	{attendance.ErrInvalidStatus, http.StatusBadRequest, "invalid_status"},
	{attendance.ErrInvalidRequest, http.StatusBadRequest, "invalid_request"},
	{otp.ErrInvalidPurpose, http.StatusBadRequest, "invalid_purpose"},
	{directory.ErrAuthenticationFailed, http.StatusUnauthorized, "authentication_failed"},
	{attendance.ErrInvalidOTP, http.StatusUnauthorized, "invalid_otp"},
	{otp.ErrInvalidCode, http.StatusUnauthorized, "invalid_otp"},
	{auth.ErrInvalidToken, http.StatusUnauthorized, "invalid_token"},
	{auth.ErrWrongKind, http.StatusUnauthorized, "invalid_token"},
	{attendance.ErrNotEnrolled, http.StatusForbidden, "not_enrolled"},
	{attendance.ErrRecordNotFound, http.StatusNotFound, "not_found"},
	{directory.ErrNotFound, http.StatusNotFound, "not_found"},
	{attendance.ErrAlreadyMarked, http.StatusConflict, "already_marked"},
	{attendance.ErrOutsideWindow, http.StatusUnprocessableEntity, "outside_window"},
	{otp.ErrExpired, http.StatusGone, "otp_expired"},
	{httpmiddleware.ErrLimited, http.StatusTooManyRequests, "rate_limited"},
	{otp.ErrDeliveryFailed, http.StatusBadGateway, "delivery_failed"},
	{campus.ErrNotConfigured, http.StatusServiceUnavailable, "zone_not_configured"},
	{store.ErrUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
}

// writeError renders err with a stable code. Geofence failures carry the
// measured distance and the allowed radius.
func writeError(c *gin.Context, err error) {
	var ge *attendance.GeofenceError
	if errors.As(err, &ge) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           ge.Error(),
			"code":            "outside_geofence",
			"distance_meters": ge.DistanceMeters,
			"radius_meters":   ge.RadiusMeters,
		})
		return
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			msg := err.Error()
			if k.status >= http.StatusInternalServerError {
				log.Printf("[http] %s %s: %v", c.Request.Method, c.FullPath(), err)
				msg = k.target.Error()
			}
			c.JSON(k.status, gin.H{"error": msg, "code": k.code})
			return
		}
	}
	log.Printf("[http] %s %s: unexpected error: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "internal"})
}
