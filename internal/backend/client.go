// Package backend issues commands to the sync backend process. Commands are
// opaque: a name plus a JSON argument object, answered with a JSON value.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Invoker is what callers need from the backend.
type Invoker interface {
	Invoke(ctx context.Context, command string, args any, out any) error
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for non-2xx answers.
type StatusError struct {
	Command string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s: status %d: %s", e.Command, e.Code, e.Body)
}

// Invoke posts args to /invoke/<command> and decodes the response into out.
// out may be nil when the result is not needed.
func (c *Client) Invoke(ctx context.Context, command string, args any, out any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return errors.Wrapf(err, "encode %s args", command)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/invoke/"+command, bytes.NewReader(body))
	if err != nil {
		return errors.Wrapf(err, "build %s request", command)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "invoke %s", command)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Command: command, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return errors.Wrapf(err, "decode %s response", command)
	}
	return nil
}
