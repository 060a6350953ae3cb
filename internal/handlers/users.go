package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kirimapp/kirim/internal/auth"
	"github.com/kirimapp/kirim/internal/media"
	"github.com/kirimapp/kirim/internal/users"
)

type ProfileHandler struct {
	users   *users.Service
	authSvc *auth.Service
	media   media.Store
}

func NewProfileHandler(userSvc *users.Service, authSvc *auth.Service, mediaStore media.Store) *ProfileHandler {
	return &ProfileHandler{users: userSvc, authSvc: authSvc, media: mediaStore}
}

func daysJoined(createdAt time.Time) int {
	if createdAt.IsZero() {
		return 0
	}
	return int(time.Since(createdAt).Hours() / 24)
}

// GetMyProfile returns the current user's full profile.
func (h *ProfileHandler) GetMyProfile(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	user, err := h.users.GetByID(viewer.ID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"user":        user,
		"days_joined": daysJoined(user.CreatedAt),
	})
}

// UpdateProfile accepts a multipart form with bio, ordered social link
// name/url pairs, and an optional new profile picture.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	bio := c.PostForm("bio")
	links := users.NormalizeSocialLinks(
		c.PostFormArray("social_names[]"),
		c.PostFormArray("social_urls[]"),
	)

	var pictureURL *string
	file, header, err := c.Request.FormFile("profile_picture")
	if err == nil && header != nil {
		defer file.Close()
		if !media.IsImageFilename(header.Filename) {
			failMsg(c, http.StatusBadRequest, "unsupported image format")
			return
		}
		upload, err := h.media.Upload(c.Request.Context(), file, header.Filename, "profile_pictures")
		if err != nil {
			failMsg(c, http.StatusInternalServerError, "failed to upload file")
			return
		}
		pictureURL = &upload.URL
	}

	if err := h.users.UpdateProfile(viewer.ID, bio, links, pictureURL); err != nil {
		fail(c, err)
		return
	}

	user, err := h.users.GetByID(viewer.ID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "user": user})
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

func (h *ProfileHandler) ChangePassword(c *gin.Context) {
	viewer, ok := principalFrom(c)
	if !ok {
		failMsg(c, http.StatusUnauthorized, "missing authorization token")
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failMsg(c, http.StatusBadRequest, "invalid request")
		return
	}

	if err := h.authSvc.ChangePassword(viewer.ID, req.CurrentPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetUserProfile returns the public view of any user's profile.
func (h *ProfileHandler) GetUserProfile(c *gin.Context) {
	userID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		failMsg(c, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.users.GetByID(userID)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": gin.H{
			"id":              user.ID,
			"username":        user.Username,
			"profile_picture": user.ProfilePicture,
			"bio":             user.Bio,
			"social_links":    user.SocialLinks,
			"is_admin":        user.IsAdmin,
			"is_online":       user.IsOnline(time.Now()),
			"created_at":      user.CreatedAt,
		},
		"days_joined": daysJoined(user.CreatedAt),
	})
}
