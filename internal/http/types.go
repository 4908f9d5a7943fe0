package http

// IngestRequest is the JSON body for POST /api/v1/quotes. Exactly one of
// Text and Data must be set; Data is base64 in JSON.
type IngestRequest struct {
	Channel  string            `json:"channel,omitempty"`
	MIMEType string            `json:"mime_type,omitempty"`
	Filename string            `json:"filename,omitempty"`
	Text     string            `json:"text,omitempty"`
	Data     []byte            `json:"data,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	ClientID string            `json:"client_id,omitempty"`
}

// ResolveRequest is the JSON body for POST /api/v1/resolve.
type ResolveRequest struct {
	ID    string `json:"id,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Name  string `json:"name,omitempty"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	Services map[string]string `json:"services"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}
