package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"campusattend/internal/otp"
)

type issueRequest struct {
	Purpose string `json:"purpose" binding:"required,otp_purpose"`
}

type verifyRequest struct {
	Purpose string `json:"purpose" binding:"required,otp_purpose"`
	Code    string `json:"code" binding:"required,len=6,numeric"`
}

// IssueOTP creates a challenge for the caller. A delivery failure still
// returns the challenge expiry with 502 so the client can resend.
func (h *Handler) IssueOTP(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	issued, err := h.issue(c, subject(c).Subject, otp.Purpose(req.Purpose))
	if errors.Is(err, otp.ErrDeliveryFailed) {
		c.JSON(http.StatusBadGateway, h.withChallenge(gin.H{
			"error": otp.ErrDeliveryFailed.Error(),
			"code":  "delivery_failed",
		}, issued))
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.withChallenge(gin.H{"challenge_id": issued.ChallengeID}, issued))
}

func (h *Handler) VerifyOTP(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.otp.Verify(c.Request.Context(), subject(c).Subject, req.Code, otp.Purpose(req.Purpose)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"verified": true})
}

func (h *Handler) ResendOTP(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	issued, err := h.otp.Resend(c.Request.Context(), subject(c).Subject, otp.Purpose(req.Purpose))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.withChallenge(gin.H{"challenge_id": issued.ChallengeID}, issued))
}

func itoa(i int) string { return strconv.Itoa(i) }
