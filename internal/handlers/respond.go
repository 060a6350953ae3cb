package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kirimapp/kirim/internal/apperr"
	"github.com/kirimapp/kirim/internal/models"
	"github.com/kirimapp/kirim/pkg/i18n"
)

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeInvalidArgument, apperr.CodeAlreadyExists,
		apperr.CodeNotReachable, apperr.CodeEmptyMessage:
		return http.StatusBadRequest
	case apperr.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperr.CodeForbidden:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// fail renders err as a {success:false, error} payload, translating the
// message for the client. Unexpected errors are logged and reported as a
// generic failure so internals never leak.
func fail(c *gin.Context, err error) {
	status := statusForCode(apperr.CodeOf(err))
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"success": false, "error": i18n.Translate(apperr.MessageOf(err))})
}

func failMsg(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": i18n.Translate(msg)})
}

// principalFrom reads the authenticated identity the middleware stored.
func principalFrom(c *gin.Context) (models.Principal, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return models.Principal{}, false
	}
	return models.Principal{
		ID:       userID.(int),
		Username: c.GetString("username"),
		IsAdmin:  c.GetBool("is_admin"),
	}, true
}
