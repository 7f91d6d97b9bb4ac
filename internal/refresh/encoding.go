package refresh

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// setJSONBody replaces the body of req with payload encoded as JSON.
// The body can be rewound through GetBody.
func setJSONBody(req *http.Request, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling refresh request: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Type", "application/json")
	return nil
}

// formToJSON flattens grant parameters into a JSON object. Grant parameters
// are single-valued; a repeated key is an error rather than silently dropped.
func formToJSON(form url.Values) (map[string]string, error) {
	params := make(map[string]string, len(form))
	for key, values := range form {
		if len(values) != 1 {
			return nil, fmt.Errorf("grant parameter %q has %d values", key, len(values))
		}
		params[key] = values[0]
	}
	return params, nil
}

// jsonEncodingTransport sends oauth2's form-encoded token requests as JSON
// for token endpoints that only accept JSON. It sits on the OAuth2Client's
// own HTTP client, so it only ever sees token requests.
type jsonEncodingTransport struct {
	base http.RoundTripper
}

// Compile-time check that jsonEncodingTransport implements http.RoundTripper.
var _ http.RoundTripper = (*jsonEncodingTransport)(nil)

func (t *jsonEncodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	form, err := readForm(req)
	if err != nil {
		return nil, err
	}
	params, err := formToJSON(form)
	if err != nil {
		return nil, err
	}

	out := req.Clone(req.Context())
	if err := setJSONBody(out, params); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(out)
}

// readForm consumes and closes the form-encoded body of req.
func readForm(req *http.Request) (url.Values, error) {
	if req.Body == nil {
		return url.Values{}, nil
	}
	defer func() { _ = req.Body.Close() }()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token request: %w", err)
	}
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parsing token request: %w", err)
	}
	return form, nil
}
