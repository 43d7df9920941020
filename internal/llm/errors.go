package llm

import (
	"fmt"
	"net/http"
	"nexus/internal/apperr"
)

const (
	msgAPIKeyMissing   = "API key not configured"
	msgInvalidAPIKey   = "Invalid API key or authentication error"
	msgProviderLimited = "Rate limit exceeded for image generation API"
	msgProviderError   = "Error from image generation service"
	msgUnreachable     = "Unable to connect to image generation service. Please try again later."

	maxPassthroughMessage = 300
)

// classifyStatus maps a non-2xx provider response onto the error taxonomy.
func classifyStatus(status int, body []byte) *apperr.Error {
	cause := fmt.Errorf("provider http %d: %s", status, logSnippet(string(body)))
	switch status {
	case http.StatusUnauthorized:
		return apperr.Upstream(http.StatusInternalServerError, msgInvalidAPIKey, cause)
	case http.StatusTooManyRequests:
		e := apperr.RateLimit(msgProviderLimited)
		e.Err = cause
		return e
	}

	message := providerErrorMessage(body)
	if message == "" || len([]rune(message)) > maxPassthroughMessage {
		message = msgProviderError
	}
	return apperr.Upstream(status, message, cause)
}

func unreachable(cause error) *apperr.Error {
	return apperr.Unavailable(msgUnreachable, cause)
}
