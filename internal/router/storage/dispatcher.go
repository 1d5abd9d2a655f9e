package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/dmitrijs2005/blobrouter/internal/logging"
	"github.com/dmitrijs2005/blobrouter/internal/router/config"
)

// TargetClient uploads a blob into one target storage account. One
// implementation exists per credential model; the set is closed and built
// once from configuration at startup.
type TargetClient interface {
	Upload(ctx context.Context, container, blobName string, contents []byte) error
}

// RequestError is an upload failure carrying the HTTP response status.
type RequestError struct {
	StatusCode int
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("upload failed with status %d", e.StatusCode)
}

// TrustedTarget uploads with durable pre-shared account credentials.
// The token cache is never involved.
type TrustedTarget struct {
	client *Client
}

func NewTrustedTarget(client *Client) *TrustedTarget {
	return &TrustedTarget{client: client}
}

func (t *TrustedTarget) Upload(ctx context.Context, container, blobName string, contents []byte) error {
	return t.client.Upload(ctx, container, blobName, contents, false)
}

// SasTarget uploads over HTTPS with a short-lived per-container token
// from the shared cache: PUT {endpoint}/{container}/{blob}?{sas}.
//
// On a 4xx response the cached token for that container is invalidated
// and the failure propagates unchanged; the next poll retries with a
// fresh token. This component never retries itself.
type SasTarget struct {
	endpoint   string
	scope      string
	cache      *SasTokenCache
	httpClient *http.Client
}

func NewSasTarget(endpoint, scope string, cache *SasTokenCache, httpClient *http.Client) *SasTarget {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &SasTarget{endpoint: endpoint, scope: scope, cache: cache, httpClient: httpClient}
}

func (t *SasTarget) Upload(ctx context.Context, container, blobName string, contents []byte) error {
	token, err := t.cache.GetSasToken(ctx, t.scope, container)
	if err != nil {
		return err
	}

	uploadURL := t.endpoint + "/" + url.PathEscape(container) + "/" + url.PathEscape(blobName) + "?" + token
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(contents))
	if err != nil {
		return err
	}
	// Refuse to silently overwrite an existing blob of the same name.
	req.Header.Set("If-None-Match", "*")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s/%s: %w", container, blobName, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		t.cache.Invalidate(t.scope, container)
	}

	return &RequestError{StatusCode: resp.StatusCode}
}

// Dispatcher routes a verified envelope to the configured target account.
// Uploads run under a bounded timeout so a stalled connection fails fast
// instead of hanging a worker; failures always propagate to the caller,
// which retries on the next poll.
type Dispatcher struct {
	targets map[config.TargetAccount]TargetClient
	timeout time.Duration
	log     logging.Logger
}

func NewDispatcher(targets map[config.TargetAccount]TargetClient, timeout time.Duration, log logging.Logger) *Dispatcher {
	return &Dispatcher{targets: targets, timeout: timeout, log: log}
}

// Dispatch uploads the blob into the target account's container.
func (d *Dispatcher) Dispatch(ctx context.Context, blobName string, contents []byte, container string, target config.TargetAccount) error {
	targetClient, ok := d.targets[target]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrUnknownTargetAccount, target)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	started := time.Now()
	err := targetClient.Upload(ctx, container, blobName, contents)
	duration := time.Since(started)

	if err != nil {
		d.log.Warn(ctx, "upload failed",
			"blob", blobName, "container", container, "target", string(target),
			"duration_ms", duration.Milliseconds(), "error", err.Error())
		return err
	}

	d.log.Info(ctx, "upload finished",
		"blob", blobName, "container", container, "target", string(target),
		"duration_ms", duration.Milliseconds())
	return nil
}
