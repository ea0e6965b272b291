// Package types holds the wire envelopes of the fulfillment API.
package types

// SuccessEnvelope wraps every 2xx body under a data key.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError carries the taxonomy code (STATE_CONFLICT, STOCK_UNAVAILABLE, ...)
// alongside a caller-safe message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
