package pipeline

import "net/http"

// Reason classifies why the pipeline rejected a request.
type Reason int

const (
	OriginRejected Reason = iota + 1
	CSRFRejected
	InputRejected
	RateLimited
	// MalformedBody is a body not parseable as its declared
	// content type. Clients see the same response as for
	// InputRejected.
	MalformedBody
	AddressBlocked
	MethodNotAllowed
	BodyTooLarge
	UnsupportedMediaType
	// StoreUnavailable is a counter or token store failure in
	// fail closed mode.
	StoreUnavailable
)

func (r Reason) String() string {
	switch r {
	case OriginRejected:
		return "origin_rejected"
	case CSRFRejected:
		return "csrf_rejected"
	case InputRejected:
		return "input_rejected"
	case RateLimited:
		return "rate_limited"
	case MalformedBody:
		return "malformed_body"
	case AddressBlocked:
		return "address_blocked"
	case MethodNotAllowed:
		return "method_not_allowed"
	case BodyTooLarge:
		return "body_too_large"
	case UnsupportedMediaType:
		return "unsupported_media_type"
	case StoreUnavailable:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

// Status returns the HTTP status code of the rejection.
func (r Reason) Status() int {
	switch r {
	case OriginRejected, CSRFRejected, AddressBlocked:
		return http.StatusForbidden
	case InputRejected, MalformedBody:
		return http.StatusBadRequest
	case RateLimited:
		return http.StatusTooManyRequests
	case MethodNotAllowed:
		return http.StatusMethodNotAllowed
	case BodyTooLarge:
		return http.StatusRequestEntityTooLarge
	case UnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case StoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error returns the client visible error string.
func (r Reason) Error() string {
	switch r {
	case OriginRejected:
		return "Origin not allowed"
	case CSRFRejected:
		return "Invalid CSRF token"
	case InputRejected, MalformedBody:
		return "Invalid input"
	case RateLimited:
		return "Too many requests"
	case AddressBlocked:
		return "Access denied"
	case MethodNotAllowed:
		return "Method not allowed"
	case BodyTooLarge:
		return "Request body too large"
	case UnsupportedMediaType:
		return "Unsupported media type"
	case StoreUnavailable:
		return "Service temporarily unavailable"
	default:
		return "Internal error"
	}
}
