package record

import (
	"encoding/json"
	"net/url"
	"strings"
)

// Method is the call method of a notification target.
type Method int

const (
	MethodNone Method = iota
	MethodGet
	MethodPost
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	default:
		return "NONE"
	}
}

// ParseMethod parses get/post/none (any case). The empty token is MethodNone.
func ParseMethod(token string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "get":
		return MethodGet, nil
	case "post":
		return MethodPost, nil
	case "", "none":
		return MethodNone, nil
	default:
		return MethodNone, &ConfigError{Field: "method", Value: token, Msg: "method not supported (use get, post or none)"}
	}
}

func (m Method) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Method) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseMethod(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseTarget builds a notification target from external input.
// Both values empty means no target was supplied and returns nil, nil.
func ParseTarget(method, endpoint string) (*Target, error) {
	method = strings.TrimSpace(method)
	endpoint = strings.TrimSpace(endpoint)
	if method == "" && endpoint == "" {
		return nil, nil
	}
	if method == "" {
		return nil, &ConfigError{Field: "method", Msg: "required when an endpoint is given"}
	}
	m, err := ParseMethod(method)
	if err != nil {
		return nil, err
	}
	if m == MethodNone {
		return &Target{Method: MethodNone, Endpoint: endpoint}, nil
	}
	if endpoint == "" {
		return nil, &ConfigError{Field: "url", Msg: "required for method " + m.String()}
	}
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	return &Target{Method: m, Endpoint: endpoint}, nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return &ConfigError{Field: "url", Value: endpoint, Msg: "malformed endpoint", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigError{Field: "url", Value: endpoint, Msg: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ConfigError{Field: "url", Value: endpoint, Msg: "host required"}
	}
	return nil
}
