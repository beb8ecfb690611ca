package inference

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	CredentialPrefix    = "AIza"
	MinCredentialLength = 30
)

// ValidateFormat checks the key shape without any network I/O.
func ValidateFormat(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrMissingCredential
	}
	if !strings.HasPrefix(key, CredentialPrefix) || len(key) < MinCredentialLength {
		return ErrMalformedCredential
	}
	return nil
}

// ValidateCredential checks that key is accepted by the models listing
// endpoint. A rejection carries the server's error message when it sent one.
func (c *Client) ValidateCredential(ctx context.Context, key string) error {
	if err := ValidateFormat(key); err != nil {
		return err
	}
	key = strings.TrimSpace(key)

	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}

	endpoint := fmt.Sprintf("%s/models?key=%s", c.baseURL, url.QueryEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create HTTP request: %w", redactURLError(err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("validate credential: %w", redactURLError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, redactBytes(body, key))}
	}
	return nil
}
