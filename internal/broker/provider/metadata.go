package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// MetadataClient reads the broker's own service-account identity from the
// GCE metadata server, matching
// get_broker_service_account_details() in the Python original.
type MetadataClient interface {
	// ServiceAccountEmail returns the broker's runtime service-account email.
	ServiceAccountEmail(ctx context.Context) (string, error)
	// AccessToken returns a bearer token for the broker's own identity,
	// used to authenticate the IAM signJwt call.
	AccessToken(ctx context.Context) (string, error)
}

const metadataBaseURL = "http://metadata.google.internal/computeMetadata/v1/instance/service-accounts/default"

// gceMetadataClient is the production MetadataClient.
type gceMetadataClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewGCEMetadataClient builds a MetadataClient that talks to the real GCE
// metadata server.
func NewGCEMetadataClient(httpClient *http.Client) MetadataClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &gceMetadataClient{httpClient: httpClient, baseURL: metadataBaseURL}
}

func (c *gceMetadataClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: metadata request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("provider: reading metadata response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider: metadata server %s returned %d: %s", path, resp.StatusCode, body)
	}
	return body, nil
}

func (c *gceMetadataClient) ServiceAccountEmail(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/email")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type metadataTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (c *gceMetadataClient) AccessToken(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/token")
	if err != nil {
		return "", err
	}
	var tok metadataTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("provider: parsing metadata token response: %w", err)
	}
	return tok.AccessToken, nil
}
