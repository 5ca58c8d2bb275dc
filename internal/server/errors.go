package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"otp-identity/backend/internal/challenge"
	"otp-identity/backend/internal/identity/service"
	"otp-identity/backend/internal/oauth"
)

// errorStatus maps a service error to an HTTP status and the JSON body sent to the client.
func errorStatus(err error) (int, gin.H) {
	var verr *service.ValidationError
	var codeErr *challenge.InvalidCodeError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, gin.H{"error": verr.Message, "field": verr.Field}
	case errors.As(err, &codeErr):
		body := gin.H{"error": codeErr.Error(), "code": "invalid_code", "remaining_attempts": codeErr.Remaining}
		if codeErr.Remaining <= 0 {
			body["code"] = "locked_out"
		}
		return http.StatusBadRequest, body
	case errors.Is(err, challenge.ErrExpired):
		return http.StatusBadRequest, gin.H{"error": err.Error(), "code": "expired"}
	case errors.Is(err, challenge.ErrLockedOut):
		return http.StatusBadRequest, gin.H{"error": err.Error(), "code": "locked_out"}
	case errors.Is(err, challenge.ErrSuperseded):
		return http.StatusBadRequest, gin.H{"error": err.Error(), "code": "superseded"}
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrNotFound), errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrIdentityConflict):
		return http.StatusConflict, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrInvalidRefreshToken):
		return http.StatusUnauthorized, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrAccountDisabled):
		return http.StatusForbidden, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrInvalidResetToken):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, service.ErrRegistrationRequired):
		return http.StatusBadRequest, gin.H{"error": err.Error(), "requires_registration": true}
	case errors.Is(err, oauth.ErrCSRFRejected), errors.Is(err, oauth.ErrUnsupportedProvider):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, oauth.ErrProviderExchangeFailed):
		return http.StatusBadGateway, gin.H{"error": oauth.ErrProviderExchangeFailed.Error()}
	case errors.Is(err, oauth.ErrInvalidPhoneToken):
		return http.StatusUnauthorized, gin.H{"error": err.Error()}
	case errors.Is(err, oauth.ErrPhoneMissing):
		return http.StatusBadRequest, gin.H{"error": err.Error()}
	case errors.Is(err, oauth.ErrPhoneTokenUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}
}

// writeError sends the mapped error. Unmapped errors are logged; their text never reaches the client.
func writeError(c *gin.Context, err error) {
	status, body := errorStatus(err)
	if status == http.StatusInternalServerError {
		log.Printf("http: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, body)
}
