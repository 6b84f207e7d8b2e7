package apperror

// messages maps error codes to human-readable messages
var messages = map[Code]string{
	// General validation
	CodeRequiredField:   "Required field is missing",
	CodeInvalidInput:    "Invalid input provided",
	CodeInvalidFormat:   "Invalid data format",
	CodeInvalidState:    "Invalid state for this operation",
	CodeNotFound:        "Resource not found",
	CodeValidationError: "Validation error",

	// Configuration
	CodeConfigurationError: "Configuration error",

	// External service errors
	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",

	// System errors
	CodeInternalError: "Internal server error",
	CodeUnknownError:  "An unknown error occurred",

	// Venue connector errors
	CodeVenueUnreachable:     "Venue is unreachable",
	CodeVenueAPIError:        "Venue API returned an error",
	CodeVenueRateLimited:     "Venue rate limit exceeded",
	CodeOrderbookFetchFailed: "Failed to fetch orderbook",
	CodeInvalidOrderbook:     "Invalid orderbook data",
	CodeUnknownVenue:         "Unknown venue",

	// WebSocket errors
	CodeWebSocketConnectionError: "WebSocket connection error",
	CodeWebSocketReconnecting:    "WebSocket reconnecting",
	CodeWebSocketClosed:          "WebSocket connection closed",
	CodeWebSocketSendError:       "Failed to send WebSocket message",

	// Canonicalizer / symbol errors
	CodeUnrecognizedSymbol: "Symbol is not a recognized perpetual",
	CodeParseFailure:       "Failed to parse venue message",

	// Spread discovery errors
	CodeSpreadCalculationError: "Spread calculation error",
	CodeInsufficientDepth:      "Insufficient order book depth",

	// Credentials client errors
	CodeCredentialsUnavailable: "No active credential for venue",
	CodeCredentialsAuthFailed:  "Credentials endpoint authentication failed",

	// Publisher errors
	CodePublishFailure:   "Failed to publish to store",
	CodeStoreUnreachable: "Key/value store is unreachable",

	// Circuit breaker errors
	CodeCircuitOpen:     "Circuit breaker is open",
	CodeCircuitHalfOpen: "Circuit breaker is half-open",
}
