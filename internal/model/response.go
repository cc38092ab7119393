package model

// ListResponse is the standard envelope for list endpoints, wrapping results
// in a "resource" array with optional pagination metadata.
type ListResponse[T any] struct {
	Resource []T           `json:"resource"`
	Meta     *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta contains pagination information for list responses.
type ResponseMeta struct {
	Count  int    `json:"count"`
	Total  *int64 `json:"total,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Kind is set for authorization failures so clients can tell a sign-in
// prompt from an access-denied state.
type ErrorDetail struct {
	Code    int            `json:"code"`
	Kind    string         `json:"kind,omitempty"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}
