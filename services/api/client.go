package apisvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

const requestIDHeader = "X-Request-ID"

// TokenSource provides the bearer token of the current session, empty when logged out.
type TokenSource interface {
	Token() string
}

// HTTPError is a non-2xx response of the backend.
type HTTPError struct {
	Code   int
	Detail string
	Fields []core.FieldError
}

func (e *HTTPError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s", e.Code, http.StatusText(e.Code))
	}
	return e.Detail
}

// StatusCode returns the status code of err if it is (or wraps) an *HTTPError, 0 otherwise.
func StatusCode(err error) int {
	switch e := errors.Cause(err).(type) {
	case *HTTPError:
		return e.Code
	case *core.ValidationError:
		if httpErr, ok := e.Err.(*HTTPError); ok {
			return httpErr.Code
		}
	}
	return 0
}

// Client talks to the attendance backend REST API.
type Client struct {
	baseURL        string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()
	logger         core.Logger
}

func NewClient(conf *core.Config, tokens TokenSource, logger core.Logger) *Client {
	timeout := conf.API.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(conf.API.URL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger,
	}
}

// OnUnauthorized registers f to run whenever the backend rejects the bearer token.
func (c *Client) OnUnauthorized(f func()) {
	c.onUnauthorized = f
}

func (c *Client) token() string {
	if c.tokens == nil {
		return ""
	}
	return c.tokens.Token()
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	reqID := uuid.New().String()
	req.Header.Set(requestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := c.token()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	if c.logger != nil {
		c.logger.Debug(fmt.Sprintf("%s %s -> %d (%s) [%s]", method, path, resp.StatusCode, time.Since(start), reqID))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		httpErr := &HTTPError{Code: resp.StatusCode}
		httpErr.Detail, httpErr.Fields = readDetail(resp.Body)
		if resp.StatusCode == http.StatusUnauthorized && token != "" && c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		if len(httpErr.Fields) > 0 {
			return core.NewValidationError(httpErr, httpErr.Fields...)
		}
		return httpErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decoding %s %s response", method, path)
	}
	return nil
}

// readDetail extracts the backend's {"detail": ...} message. Detail is a string,
// or a list of {"loc": [...], "msg": ...} objects for request validation errors,
// in which case the located ones are also returned as field errors.
func readDetail(r io.Reader) (string, []core.FieldError) {
	data, err := ioutil.ReadAll(io.LimitReader(r, 1<<16))
	if err != nil || len(data) == 0 {
		return "", nil
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || len(payload.Detail) == 0 {
		return strings.TrimSpace(string(data)), nil
	}

	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err == nil {
		return detail, nil
	}
	var details []struct {
		Loc []interface{} `json:"loc"`
		Msg string        `json:"msg"`
	}
	if err := json.Unmarshal(payload.Detail, &details); err == nil && len(details) > 0 {
		var fields []core.FieldError
		msgs := make([]string, 0, len(details))
		for _, d := range details {
			if len(d.Loc) > 0 {
				field := fmt.Sprint(d.Loc[len(d.Loc)-1])
				fields = append(fields, core.FieldError{Field: field, Error: d.Msg})
				msgs = append(msgs, field+": "+d.Msg)
			} else {
				msgs = append(msgs, d.Msg)
			}
		}
		return strings.Join(msgs, "; "), fields
	}
	return string(payload.Detail), nil
}
