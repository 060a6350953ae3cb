package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kirimapp/kirim/internal/chat"
	"github.com/kirimapp/kirim/internal/push"
)

type MessageHandler struct {
	chat          *chat.Service
	notifier      *push.Notifier
	maxUploadSize int64
}

func NewMessageHandler(chatSvc *chat.Service, notifier *push.Notifier, maxUploadSize int64) *MessageHandler {
	return &MessageHandler{chat: chatSvc, notifier: notifier, maxUploadSize: maxUploadSize}
}

// GetChat returns the full conversation with the counterpart and marks all
// incoming messages as read.
func (h *MessageHandler) GetChat(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	counterpartID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	messages, err := h.chat.GetConversation(viewer, counterpartID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

// GetMessages is the polling endpoint: it returns only messages newer than
// the client's last_message_id cursor.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	counterpartID, err := strconv.Atoi(c.Param("user_id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	// Absent or malformed cursors fall back to the full history.
	lastSeenID, err := strconv.Atoi(c.DefaultQuery("last_message_id", "0"))
	if err != nil {
		lastSeenID = 0
	}

	messages, err := h.chat.FetchNewMessages(viewer, counterpartID, lastSeenID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

// SendMessage accepts a multipart form with receiver_id, optional content,
// and an optional file attachment uploaded to the media store.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	receiverIDStr := c.PostForm("receiver_id")
	if receiverIDStr == "" {
		failMsg(c, http.StatusBadRequest, "receiver id is required")
		return
	}
	receiverID, err := strconv.Atoi(receiverIDStr)
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	content := c.PostForm("content")

	var attachment *chat.Attachment
	file, header, err := c.Request.FormFile("file")
	if err == nil && header != nil {
		defer file.Close()
		if header.Size > h.maxUploadSize {
			failMsg(c, http.StatusBadRequest, "file too large")
			return
		}
		attachment = &chat.Attachment{File: file, Filename: header.Filename}
	}

	view, err := h.chat.SendMessage(c.Request.Context(), viewer, receiverID, content, attachment)
	if err != nil {
		fail(c, err)
		return
	}

	go h.notifier.SendNewMessageNotification(receiverID, viewer.ID, viewer.Username)

	c.JSON(http.StatusOK, gin.H{"success": true, "message": view})
}

// DeleteMessage removes a message the requester sent, or any message when
// the requester is an admin.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	messageID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid message id")
		return
	}

	if err := h.chat.DeleteMessage(c.Request.Context(), viewer, messageID); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListUsers returns the viewer's chat partners with per-conversation unread
// counts, admins first then alphabetical.
func (h *MessageHandler) ListUsers(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	counterparts, err := h.chat.ListCounterparts(viewer)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "users": counterparts})
}
