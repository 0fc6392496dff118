// Package gemini provides a minimal client for the generateContent endpoint
// of the Gemini REST API, shared by the text filter and the speech
// synthesizer.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// DefaultBaseURL is the public Gemini API host.
const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// API paths and headers.
const (
	generateContentPathFormat = "/v1beta/models/%s:generateContent"
	queryParamKey             = "key"
	headerContentType         = "Content-Type"
	contentTypeJSON           = "application/json"
)

// ModalityAudio requests an audio response from a speech model.
const ModalityAudio = "AUDIO"

const maxErrorBodyBytes = 4096

// Error messages.
const (
	errFmtServiceError     = "gemini returned %s: %s"
	errFmtServiceErrorBody = "gemini returned %s, body: %s"
)

// Static errors.
var (
	ErrAPIKeyEmpty  = errors.New("api key cannot be empty")
	ErrModelEmpty   = errors.New("model cannot be empty")
	ErrNoCandidates = errors.New("response contains no candidates")
)

// Client sends generateContent requests. A Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for baseURL. timeout bounds a whole request,
// connectTimeout bounds establishing the TCP connection.
func NewClient(baseURL string, timeout, connectTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout}).DialContext

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// GenerateContent posts req to the model's generateContent endpoint using
// apiKey as the key query parameter. Non-2xx responses are returned as
// *APIError.
func (c *Client) GenerateContent(
	ctx context.Context,
	apiKey, model string,
	req *Request,
) (*Response, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyEmpty
	}

	if model == "" {
		return nil, ErrModelEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + fmt.Sprintf(generateContentPathFormat, url.PathEscape(model)) +
		"?" + url.Values{queryParamKey: []string{apiKey}}.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", c.baseURL, redactKey(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, parseErrorResponse(resp)
	}

	var response Response

	err = json.NewDecoder(resp.Body).Decode(&response)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &response, nil
}

// parseErrorResponse decodes the structured error body, falling back to the
// raw body text.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    "",
	}

	var envelope errorEnvelope

	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Reason = envelope.Error.Status

		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))

	return apiErr
}

// redactKey strips the query string from URL errors so keys never reach logs.
func redactKey(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if parsed, parseErr := url.Parse(urlErr.URL); parseErr == nil {
			parsed.RawQuery = ""
			urlErr.URL = parsed.String()
		}
	}

	return err
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Status     string
	Reason     string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf(errFmtServiceErrorBody, e.Status, "<empty>")
	}

	return fmt.Sprintf(errFmtServiceError, e.Status, e.Message)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not
// an *APIError.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}

	return 0
}

// IsConnectionError reports whether err is a timeout or a failure to reach
// the server, as opposed to an error response from it.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError

	return errors.As(err, &opErr)
}

type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
