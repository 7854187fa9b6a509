package completion

import (
	"fmt"
	"net/http"
	"strings"
)

// Category classifies a provider failure.
type Category int

const (
	Unknown Category = iota
	RateLimited
	Unauthorized
	ModelUnavailable
)

func (c Category) String() string {
	switch c {
	case RateLimited:
		return "rate_limited"
	case Unauthorized:
		return "unauthorized"
	case ModelUnavailable:
		return "model_unavailable"
	default:
		return "unknown"
	}
}

// Classify maps an HTTP status and provider message to a Category.
func Classify(status int, message string) Category {
	msg := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusUnauthorized || strings.Contains(msg, "401"):
		return Unauthorized
	case strings.Contains(msg, "decommissioned"),
		strings.Contains(msg, "deprecated"),
		strings.Contains(msg, "model_not_found"),
		(status == http.StatusNotFound || status == http.StatusBadRequest) && strings.Contains(msg, "model"):
		return ModelUnavailable
	default:
		return Unknown
	}
}

// Fallback returns the reply used in place of a failed completion.
func Fallback(c Category, provider, fallbackModel string) string {
	switch c {
	case RateLimited:
		return "I'm at my request limit. Please wait a moment and retry."
	case Unauthorized:
		return fmt.Sprintf("Invalid %s API key. Please check the completion API key in your configuration.", provider)
	case ModelUnavailable:
		return fmt.Sprintf("Selected model no longer available. Using fallback: %s.", fallbackModel)
	default:
		return "AI service unavailable right now. Please retry shortly."
	}
}
