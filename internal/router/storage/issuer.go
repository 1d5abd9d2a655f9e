package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/dmitrijs2005/blobrouter/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// serviceTokenValidity bounds the lifetime of the bearer token presented
// to the issuer. Each request signs a fresh one.
const serviceTokenValidity = time.Minute

// HTTPTokenIssuer fetches SAS tokens from the external issuing service:
// GET {base}/token/{service}, authenticated with an HS256 service JWT.
type HTTPTokenIssuer struct {
	baseURL    string
	secretKey  []byte
	httpClient *http.Client
}

func NewHTTPTokenIssuer(baseURL string, secretKey string, timeout time.Duration) *HTTPTokenIssuer {
	return &HTTPTokenIssuer{
		baseURL:    baseURL,
		secretKey:  []byte(secretKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (i *HTTPTokenIssuer) serviceToken() (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "blob-router",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(serviceTokenValidity)),
	})
	return token.SignedString(i.secretKey)
}

// GetSasToken requests a fresh token for the given service name.
func (i *HTTPTokenIssuer) GetSasToken(ctx context.Context, service string) (*SasTokenResponse, error) {
	bearer, err := i.serviceToken()
	if err != nil {
		return nil, fmt.Errorf("sign service token: %w", err)
	}

	endpoint := i.baseURL + "/token/" + url.PathEscape(service)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request for %s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request for %s: unexpected status %d", service, resp.StatusCode)
	}

	var tokenResponse SasTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResponse); err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidTokenResponse, err)
	}
	if tokenResponse.SasToken == "" {
		return nil, fmt.Errorf("%w: empty sas_token", common.ErrInvalidTokenResponse)
	}

	return &tokenResponse, nil
}
