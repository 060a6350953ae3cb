package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kirimapp/kirim/internal/push"
)

// PushHandler exposes the Web Push subscription endpoints. The notifier may
// be nil when VAPID keys are not configured; every endpoint degrades to a
// clear "not configured" response in that case.
type PushHandler struct {
	notifier *push.Notifier
}

func NewPushHandler(notifier *push.Notifier) *PushHandler {
	return &PushHandler{notifier: notifier}
}

func (h *PushHandler) enabled(c *gin.Context) bool {
	if h.notifier == nil {
		failMsg(c, http.StatusServiceUnavailable, "push notifications are not configured")
		return false
	}
	return true
}

// Key returns the public VAPID key the frontend needs to subscribe.
func (h *PushHandler) Key(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "public_key": h.notifier.VAPIDPublicKey()})
}

type subscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
	Keys     struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys" binding:"required"`
}

func (h *PushHandler) Subscribe(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid request")
		return
	}

	sub := push.Subscription{
		Endpoint:  req.Endpoint,
		KeyP256dh: req.Keys.P256dh,
		KeyAuth:   req.Keys.Auth,
	}
	if err := h.notifier.Save(viewer.ID, sub); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

type unsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

func (h *PushHandler) Unsubscribe(c *gin.Context) {
	if !h.enabled(c) {
		return
	}
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var req unsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.notifier.Revoke(viewer.ID, req.Endpoint); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
