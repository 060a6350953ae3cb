package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kirimapp/kirim/internal/users"
)

type AdminHandler struct {
	users *users.Service
}

func NewAdminHandler(userSvc *users.Service) *AdminHandler {
	return &AdminHandler{users: userSvc}
}

func (h *AdminHandler) Stats(c *gin.Context) {
	stats, err := h.users.Stats()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (h *AdminHandler) ToggleBlock(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	blocked, err := h.users.ToggleBlock(targetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "is_blocked": blocked})
}

func (h *AdminHandler) ToggleActive(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	active, err := h.users.ToggleActive(targetID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "is_active": active})
}

func (h *AdminHandler) DeleteUser(c *gin.Context) {
	targetID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.users.DeleteUser(targetID); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AdminHandler) PurgeMessages(c *gin.Context) {
	removed, err := h.users.PurgeAllMessages()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": removed})
}
