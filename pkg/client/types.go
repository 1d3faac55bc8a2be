package client

import "time"

// SetRequest is the body of PUT /records/:id.
// Method and URL are optional; an omitted target keeps the stored one.
type SetRequest struct {
	State  string  `json:"state"`
	Info   *string `json:"info,omitempty"`
	Method string  `json:"method,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// SetResult reports whether a notification was dispatched and its outcome.
type SetResult struct {
	ID         string    `json:"id"`
	Dispatched bool      `json:"dispatched"`
	Response   *Response `json:"response,omitempty"`
}

// Target is a record's notification target. Method is GET, POST or NONE.
type Target struct {
	Method   string `json:"method"`
	Endpoint string `json:"endpoint"`
}

// Response is the stored outcome of the latest dispatch.
type Response struct {
	StatusCode uint16 `json:"status_code"`
	Body       string `json:"body"`
}

// Record mirrors the server's record representation.
type Record struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Info      *string   `json:"info,omitempty"`
	Target    *Target   `json:"target,omitempty"`
	Response  *Response `json:"response,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListQuery holds the query parameters of GET /records.
type ListQuery struct {
	Limit int
	State string
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
