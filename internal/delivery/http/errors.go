package http

import (
	"net/http"

	"github.com/productmatcher/backend/internal/domain"
)

// Public messages for failures whose cause must not leak to clients
const (
	msgNotFound           = "No products found in database"
	msgDownloadTimeout    = "Image download timeout. Please try again or use a different image URL"
	msgPayloadTooLarge    = "Image file too large. Please use a smaller image"
	msgServiceUnavailable = "Image matching service is currently unavailable. Please try again later"
	msgGatewayTimeout     = "Service timeout. Please try again with a smaller image or fewer products"
	msgInternal           = "Failed to process image matches"
	msgTooManyRequests    = "Too many requests. Please try again later"
)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// classifyError maps a pipeline failure to a status and client-safe body.
// Details are only filled in when withDetails is set.
func classifyError(err error, withDetails bool) (int, errorResponse) {
	switch domain.KindOf(err) {
	case domain.KindValidation:
		return http.StatusBadRequest, errorResponse{Error: messageOr(err, "Invalid request")}
	case domain.KindNotFound:
		return http.StatusNotFound, errorResponse{Error: msgNotFound}
	case domain.KindDownloadTimeout:
		return http.StatusRequestTimeout, errorResponse{Error: msgDownloadTimeout}
	case domain.KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge, errorResponse{Error: messageOr(err, msgPayloadTooLarge)}
	case domain.KindServiceUnavailable:
		return http.StatusServiceUnavailable, errorResponse{Error: msgServiceUnavailable}
	case domain.KindGatewayTimeout:
		return http.StatusGatewayTimeout, errorResponse{Error: msgGatewayTimeout}
	}

	resp := errorResponse{Error: msgInternal}
	if withDetails && err != nil {
		resp.Details = err.Error()
	}
	return http.StatusInternalServerError, resp
}

func messageOr(err error, fallback string) string {
	if msg := domain.MessageOf(err); msg != "" {
		return msg
	}
	return fallback
}
