// Package handler exposes the attendance service over HTTP with gin.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/campus"
	"campusattend/internal/directory"
	"campusattend/internal/geo"
	"campusattend/internal/httpmiddleware"
	"campusattend/internal/otp"
)

// ZoneStore reads and updates the campus zone.
type ZoneStore interface {
	Current(ctx context.Context) (campus.Setting, error)
	Update(ctx context.Context, zone geo.Zone, actor string) (campus.Setting, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Handler holds the services behind the HTTP API.
type Handler struct {
	dir        directory.Store
	otp        *otp.Service
	ledger     *attendance.Service
	reports    *attendance.Projector
	zones      ZoneStore
	tokens     *auth.Signer
	issueLimit *httpmiddleware.FixedWindow
	loginRoles map[string]bool
	echo       bool
	checks     map[string]HealthCheck
}

// Config bundles everything New needs. IssueLimit may be nil.
type Config struct {
	Directory  directory.Store
	OTP        *otp.Service
	Ledger     *attendance.Service
	Reports    *attendance.Projector
	Zones      ZoneStore
	Tokens     *auth.Signer
	IssueLimit *httpmiddleware.FixedWindow
	LoginRoles []string
	EchoCodes  bool
	Checks     map[string]HealthCheck
}

func New(cfg Config) *Handler {
	registerValidators()
	roles := make(map[string]bool, len(cfg.LoginRoles))
	for _, r := range cfg.LoginRoles {
		roles[r] = true
	}
	return &Handler{
		dir:        cfg.Directory,
		otp:        cfg.OTP,
		ledger:     cfg.Ledger,
		reports:    cfg.Reports,
		zones:      cfg.Zones,
		tokens:     cfg.Tokens,
		issueLimit: cfg.IssueLimit,
		loginRoles: roles,
		echo:       cfg.EchoCodes,
		checks:     cfg.Checks,
	}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/healthz", h.Healthz)

	pub := r.Group("/v1/auth")
	pub.POST("/login", h.Login)
	pub.POST("/login/verify", h.LoginVerify)
	pub.POST("/login/resend", h.LoginResend)
	pub.POST("/refresh", h.Refresh)
	pub.POST("/password-reset", h.PasswordReset)
	pub.POST("/password-reset/confirm", h.PasswordResetConfirm)

	staff := auth.RequireRole(string(directory.RoleTeacher), string(directory.RoleAdmin))

	v1 := r.Group("/v1", auth.Bearer(h.tokens))
	v1.POST("/otp/issue", h.IssueOTP)
	v1.POST("/otp/verify", h.VerifyOTP)
	v1.POST("/otp/resend", h.ResendOTP)

	v1.POST("/attendance/mark", h.MarkAttendance)
	v1.GET("/attendance/report", h.Report)
	v1.GET("/attendance", staff, h.ListAttendance)
	v1.GET("/attendance/:id", staff, h.GetAttendance)
	v1.PATCH("/attendance/:id", staff, h.CorrectAttendance)

	v1.GET("/campus/zone", h.GetZone)
	v1.PUT("/campus/zone", auth.RequireRole(string(directory.RoleAdmin)), h.PutZone)
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	body := gin.H{"status": "ok"}
	status := http.StatusOK
	for name, check := range h.checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

var validatorsOnce sync.Once

// registerValidators adds the domain enum tags to gin's validator.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation("otp_purpose", func(fl validator.FieldLevel) bool {
			return otp.Purpose(fl.Field().String()).Valid()
		})
		_ = v.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
			return attendance.Status(fl.Field().String()).Valid()
		})
	})
}

func subject(c *gin.Context) auth.Claims {
	claims, _ := auth.FromContext(c)
	return claims
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
}
