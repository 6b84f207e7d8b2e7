package apperror

// Code represents a unique error code for the application
type Code string

// General error codes
const (
	// General validation
	CodeRequiredField   Code = "REQUIRED_FIELD"
	CodeInvalidInput    Code = "INVALID_INPUT"
	CodeInvalidFormat   Code = "INVALID_FORMAT"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeValidationError Code = "VALIDATION_ERROR"

	// Configuration
	CodeConfigurationError Code = "CONFIGURATION_ERROR"

	// External service errors
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"

	// System errors
	CodeInternalError Code = "INTERNAL_ERROR"
	CodeUnknownError  Code = "UNKNOWN_ERROR"
)

// Ingest-specific error codes
const (
	// Venue connector errors
	CodeVenueUnreachable     Code = "VENUE_UNREACHABLE"
	CodeVenueAPIError        Code = "VENUE_API_ERROR"
	CodeVenueRateLimited     Code = "VENUE_RATE_LIMITED"
	CodeOrderbookFetchFailed Code = "ORDERBOOK_FETCH_FAILED"
	CodeInvalidOrderbook     Code = "INVALID_ORDERBOOK"
	CodeUnknownVenue         Code = "UNKNOWN_VENUE"

	// WebSocket errors
	CodeWebSocketConnectionError Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketReconnecting    Code = "WEBSOCKET_RECONNECTING"
	CodeWebSocketClosed          Code = "WEBSOCKET_CLOSED"
	CodeWebSocketSendError       Code = "WEBSOCKET_SEND_ERROR"

	// Canonicalizer / symbol errors
	CodeUnrecognizedSymbol Code = "UNRECOGNIZED_SYMBOL"
	CodeParseFailure       Code = "PARSE_FAILURE"

	// Spread discovery errors
	CodeSpreadCalculationError Code = "SPREAD_CALCULATION_ERROR"
	CodeInsufficientDepth      Code = "INSUFFICIENT_DEPTH"

	// Credentials client errors
	CodeCredentialsUnavailable Code = "CREDENTIALS_UNAVAILABLE"
	CodeCredentialsAuthFailed  Code = "CREDENTIALS_AUTH_FAILED"

	// Publisher errors
	CodePublishFailure Code = "PUBLISH_FAILURE"
	CodeStoreUnreachable Code = "STORE_UNREACHABLE"

	// Circuit breaker errors
	CodeCircuitOpen     Code = "CIRCUIT_OPEN"
	CodeCircuitHalfOpen Code = "CIRCUIT_HALF_OPEN"
)
