package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/directory"
	"campusattend/internal/geo"
)

type markRequest struct {
	StudentID string   `json:"student_id"`
	ClassID   string   `json:"class_id" binding:"required"`
	Status    string   `json:"status" binding:"omitempty,attendance_status"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	OTPCode   string   `json:"otp_code" binding:"omitempty,len=6,numeric"`
	Notes     string   `json:"notes" binding:"max=500"`
}

type correctionRequest struct {
	Status  string `json:"status" binding:"required,attendance_status"`
	Reason  string `json:"reason" binding:"required,max=500"`
	OTPCode string `json:"otp_code" binding:"omitempty,len=6,numeric"`
}

type recordResponse struct {
	ID               string    `json:"id"`
	ClassID          string    `json:"class_id"`
	StudentID        string    `json:"student_id"`
	Date             string    `json:"date"`
	Status           string    `json:"status"`
	MarkedAt         time.Time `json:"marked_at"`
	MarkerID         string    `json:"marker_id"`
	Latitude         *float64  `json:"latitude,omitempty"`
	Longitude        *float64  `json:"longitude,omitempty"`
	LocationVerified bool      `json:"location_verified"`
	Notes            string    `json:"notes,omitempty"`
}

func toResponse(rec attendance.Record) recordResponse {
	out := recordResponse{
		ID:               rec.ID,
		ClassID:          rec.ClassID,
		StudentID:        rec.StudentID,
		Date:             attendance.DateString(rec.Date),
		Status:           string(rec.Status),
		MarkedAt:         rec.MarkedAt,
		MarkerID:         rec.MarkerID,
		LocationVerified: rec.LocationVerified,
		Notes:            rec.Notes,
	}
	if rec.Location != nil {
		lat, lng := rec.Location.Lat(), rec.Location.Lng()
		out.Latitude, out.Longitude = &lat, &lng
	}
	return out
}

// MarkAttendance records the caller's own attendance, or a student's when the
// caller is staff.
func (h *Handler) MarkAttendance(c *gin.Context) {
	var req markRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims := subject(c)
	mr := attendance.MarkRequest{
		StudentID:  req.StudentID,
		ClassID:    req.ClassID,
		MarkerID:   claims.Subject,
		StatusHint: attendance.Status(req.Status),
		OTPCode:    req.OTPCode,
		Notes:      req.Notes,
	}
	if claims.Role == string(directory.RoleStudent) {
		if mr.StudentID != "" && mr.StudentID != claims.Subject {
			c.JSON(http.StatusForbidden, gin.H{"error": "students may only mark themselves", "code": "forbidden"})
			return
		}
		mr.StudentID = claims.Subject
	} else if mr.StudentID == "" {
		writeError(c, fmt.Errorf("%w: student_id required", attendance.ErrInvalidRequest))
		return
	}

	switch {
	case req.Latitude != nil && req.Longitude != nil:
		p, err := geo.NewPoint(*req.Latitude, *req.Longitude)
		if err != nil {
			writeError(c, err)
			return
		}
		mr.Location = &p
	case req.Latitude != nil || req.Longitude != nil:
		writeError(c, fmt.Errorf("%w: latitude and longitude must be sent together", geo.ErrInvalidCoordinates))
		return
	}

	res, err := h.ledger.Mark(c.Request.Context(), mr)
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{
		"record":            toResponse(res.Record),
		"status":            res.Status,
		"marked_at":         res.MarkedAt,
		"location_verified": res.LocationVerified,
	}
	if res.DistanceMeters != nil {
		body["distance_meters"] = *res.DistanceMeters
	}
	c.JSON(http.StatusCreated, body)
}

// CorrectAttendance is the audited status change for an existing record.
func (h *Handler) CorrectAttendance(c *gin.Context) {
	var req correctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := h.ledger.UpdateStatus(c.Request.Context(), attendance.CorrectionRequest{
		RecordID: c.Param("id"),
		Status:   attendance.Status(req.Status),
		ActorID:  subject(c).Subject,
		Reason:   req.Reason,
		OTPCode:  req.OTPCode,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

func (h *Handler) GetAttendance(c *gin.Context) {
	rec, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(rec))
}

// ListAttendance lists a class's records for one day, today by default.
func (h *Handler) ListAttendance(c *gin.Context) {
	classID := c.Query("class_id")
	if classID == "" {
		writeError(c, fmt.Errorf("%w: class_id required", attendance.ErrInvalidRequest))
		return
	}
	day := h.ledger.Today()
	if v := c.Query("date"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			writeError(c, err)
			return
		}
		day = d
	}
	limit, err := pageParam(c, "limit", 100)
	if err != nil {
		writeError(c, err)
		return
	}
	offset, err := pageParam(c, "offset", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := h.ledger.List(c.Request.Context(), attendance.ListFilter{
		ClassID: classID,
		Date:    day,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]recordResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"date": attendance.DateString(day), "records": out})
}

// Report aggregates a class or a student over [from, to], the last 30 days by
// default. Students only see their own.
func (h *Handler) Report(c *gin.Context) {
	claims := subject(c)
	q := attendance.ReportQuery{
		ClassID:   c.Query("class_id"),
		StudentID: c.Query("student_id"),
	}
	if claims.Role == string(directory.RoleStudent) {
		if q.ClassID != "" || (q.StudentID != "" && q.StudentID != claims.Subject) {
			c.JSON(http.StatusForbidden, gin.H{"error": "students may only view their own report", "code": "forbidden"})
			return
		}
		q.StudentID = claims.Subject
	}

	q.To = h.ledger.Today()
	if v := c.Query("to"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			writeError(c, err)
			return
		}
		q.To = d
	}
	q.From = q.To.AddDate(0, 0, -30)
	if v := c.Query("from"); v != "" {
		d, err := parseDate(v)
		if err != nil {
			writeError(c, err)
			return
		}
		q.From = d
	}

	report, err := h.reports.Project(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func pageParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", attendance.ErrInvalidRequest, name)
	}
	return n, nil
}

func parseDate(v string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", attendance.ErrInvalidRequest, v)
	}
	return d, nil
}
