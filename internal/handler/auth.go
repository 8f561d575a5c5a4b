package handler

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"campusattend/internal/auth"
	"campusattend/internal/directory"
	"campusattend/internal/otp"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Secret     string `json:"secret" binding:"required"`
}

type mfaVerifyRequest struct {
	MFAToken string `json:"mfa_token" binding:"required"`
	Code     string `json:"code" binding:"required,len=6,numeric"`
}

type mfaResendRequest struct {
	MFAToken string `json:"mfa_token" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type resetRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

type resetConfirmRequest struct {
	SubjectID   string `json:"subject_id" binding:"required"`
	Code        string `json:"code" binding:"required,len=6,numeric"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=128"`
}

// Login checks credentials. Roles listed for a second factor get an mfa_token
// and a login code instead of API tokens.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	id, err := h.dir.Authenticate(c.Request.Context(), req.Identifier, req.Secret)
	if err != nil {
		writeError(c, err)
		return
	}
	if !h.loginRoles[string(id.Role)] {
		h.writeTokens(c, id)
		return
	}

	mfa, exp, err := h.tokens.IssueMFA(id.ID, string(id.Role))
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"mfa_required": true, "mfa_token": mfa, "mfa_expires_at": exp.Unix()}
	issued, err := h.issue(c, id.ID, otp.PurposeLogin)
	if err != nil {
		if !errors.Is(err, otp.ErrDeliveryFailed) {
			writeError(c, err)
			return
		}
		body["code"] = "delivery_failed"
		body["error"] = otp.ErrDeliveryFailed.Error()
		c.JSON(http.StatusBadGateway, h.withChallenge(body, issued))
		return
	}
	c.JSON(http.StatusAccepted, h.withChallenge(body, issued))
}

// LoginVerify exchanges an mfa_token and login code for API tokens.
func (h *Handler) LoginVerify(c *gin.Context) {
	var req mfaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, err := h.tokens.Parse(req.MFAToken, auth.KindMFA)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.otp.Verify(c.Request.Context(), claims.Subject, req.Code, otp.PurposeLogin); err != nil {
		writeError(c, err)
		return
	}
	id, err := h.dir.Identity(c.Request.Context(), claims.Subject)
	if err != nil {
		writeError(c, directory.ErrAuthenticationFailed)
		return
	}
	h.writeTokens(c, id)
}

// LoginResend re-delivers the pending login code.
func (h *Handler) LoginResend(c *gin.Context) {
	var req mfaResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, err := h.tokens.Parse(req.MFAToken, auth.KindMFA)
	if err != nil {
		writeError(c, err)
		return
	}
	issued, err := h.otp.Resend(c.Request.Context(), claims.Subject, otp.PurposeLogin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withChallenge(gin.H{}, issued))
}

// Refresh trades a refresh token for a new pair, re-reading the role.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, err := h.tokens.Parse(req.RefreshToken, auth.KindRefresh)
	if err != nil {
		writeError(c, err)
		return
	}
	id, err := h.dir.Identity(c.Request.Context(), claims.Subject)
	if err != nil {
		writeError(c, auth.ErrInvalidToken)
		return
	}
	h.writeTokens(c, id)
}

// PasswordReset always answers 202 so callers cannot probe for accounts.
func (h *Handler) PasswordReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	body := gin.H{"status": "if the account exists, a reset link has been sent"}
	id, err := h.dir.Lookup(c.Request.Context(), req.Identifier)
	if err != nil {
		if !errors.Is(err, directory.ErrNotFound) {
			log.Printf("[auth] reset lookup failed: %v", err)
		}
		c.JSON(http.StatusAccepted, body)
		return
	}
	issued, err := h.issue(c, id.ID, otp.PurposePasswordReset)
	if err != nil {
		log.Printf("[auth] reset for %s not delivered: %v", id.ID, err)
		c.JSON(http.StatusAccepted, body)
		return
	}
	if h.echo {
		body["subject_id"] = id.ID
		body["dev_code"] = issued.Code
	}
	c.JSON(http.StatusAccepted, body)
}

// PasswordResetConfirm consumes the reset code and sets the new password.
func (h *Handler) PasswordResetConfirm(c *gin.Context) {
	var req resetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := h.otp.Verify(ctx, req.SubjectID, req.Code, otp.PurposePasswordReset); err != nil {
		writeError(c, err)
		return
	}
	if err := h.dir.SetPassword(ctx, req.SubjectID, req.NewPassword); err != nil {
		writeError(c, err)
		return
	}
	log.Printf("[auth] password reset for %s", req.SubjectID)
	c.JSON(http.StatusOK, gin.H{"status": "password updated"})
}

func (h *Handler) writeTokens(c *gin.Context, id directory.Identity) {
	pair, err := h.tokens.Issue(id.ID, string(id.Role))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subject_id":    id.ID,
		"role":          id.Role,
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_at":    pair.AccessExp.Unix(),
	})
}

// issue applies the per-subject issuance limit before creating a challenge.
func (h *Handler) issue(c *gin.Context, subjectID string, purpose otp.Purpose) (otp.Issued, error) {
	if h.issueLimit != nil {
		retry, err := h.issueLimit.Allow(c.Request.Context(), subjectID+":"+string(purpose))
		if err != nil {
			if retry > 0 {
				c.Header("Retry-After", formatSeconds(retry))
			}
			return otp.Issued{}, err
		}
	}
	return h.otp.Issue(c.Request.Context(), subjectID, purpose)
}

func (h *Handler) withChallenge(body gin.H, issued otp.Issued) gin.H {
	if issued.ChallengeID == "" {
		return body
	}
	body["purpose"] = issued.Purpose
	body["expires_at"] = issued.ExpiresAt.Unix()
	if h.echo {
		body["dev_code"] = issued.Code
	}
	return body
}

func formatSeconds(d time.Duration) string {
	s := int(d.Seconds())
	if d > time.Duration(s)*time.Second {
		s++
	}
	return itoa(s)
}
