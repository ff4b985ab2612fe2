package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
)

// signedJWTClaims mirrors the dict the Python original builds before
// calling the IAM signJwt API: aud/iat/exp/scope are always present;
// iss/sub are filled in by the caller depending on whether the identity
// signs for itself (shadow) or is signed on its behalf (domain-wide
// delegation).
type signedJWTClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// IAMSigner signs a claim set under a cloud service account's key without
// the broker ever holding that key locally, mirroring IAM's signJwt API.
type IAMSigner interface {
	SignJWT(ctx context.Context, serviceAccountEmail, bearerToken string, claims signedJWTClaims) (string, error)
}

const iamSignJWTURLFormat = "https://iamcredentials.googleapis.com/v1/projects/-/serviceAccounts/%s:signJwt"

// httpIAMSigner is the production IAMSigner, retried with exponential
// backoff since the IAM API is a network dependency on the hot path of
// every cache-miss mint.
type httpIAMSigner struct {
	httpClient *http.Client
	urlFormat  string
}

// NewIAMSigner builds an IAMSigner against the real IAM credentials API.
func NewIAMSigner(httpClient *http.Client) IAMSigner {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &httpIAMSigner{httpClient: httpClient, urlFormat: iamSignJWTURLFormat}
}

type signJWTRequest struct {
	Payload string `json:"payload"`
}

type signJWTResponse struct {
	SignedJwt string `json:"signedJwt"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *httpIAMSigner) SignJWT(ctx context.Context, serviceAccountEmail, bearerToken string, claims signedJWTClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("provider: marshalling jwt claims: %w", err)
	}

	body, err := json.Marshal(signJWTRequest{Payload: string(payload)})
	if err != nil {
		return "", fmt.Errorf("provider: marshalling signJwt request: %w", err)
	}

	var signed string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			fmt.Sprintf(s.urlFormat, serviceAccountEmail), bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+bearerToken)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		var parsed signJWTResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("provider: parsing signJwt response: %w", err))
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("provider: signJwt server error %d: %s", resp.StatusCode, respBody)
		}
		if resp.StatusCode != http.StatusOK {
			msg := string(respBody)
			if parsed.Error != nil {
				msg = parsed.Error.Message
			}
			return backoff.Permanent(fmt.Errorf("provider: signJwt failed: %s", msg))
		}

		signed = parsed.SignedJwt
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", err
	}
	return signed, nil
}

// TokenExchanger trades a signed JWT for an OAuth2 access token via the
// jwt-bearer grant (RFC 7523), matching trade_jwt_for_oauth in the Python
// original.
type TokenExchanger interface {
	ExchangeJWTBearer(ctx context.Context, signedJWT string) (*AccessToken, error)
}

const jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

// httpTokenExchanger is the production TokenExchanger.
type httpTokenExchanger struct {
	httpClient *http.Client
	tokenURL   string
}

// NewTokenExchanger builds a TokenExchanger against tokenURL (the OAuth2
// token endpoint).
func NewTokenExchanger(httpClient *http.Client, tokenURL string) TokenExchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &httpTokenExchanger{httpClient: httpClient, tokenURL: tokenURL}
}

type tokenExchangeResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error"`
}

func (e *httpTokenExchanger) ExchangeJWTBearer(ctx context.Context, signedJWT string) (*AccessToken, error) {
	form := url.Values{
		"grant_type": {jwtBearerGrantType},
		"assertion":  {signedJWT},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL,
		bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider: exchanging jwt for oauth token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed tokenExchangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("provider: parsing token exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Error != "" {
		return nil, fmt.Errorf("provider: token exchange failed: %s", body)
	}

	now := time.Now()
	return &AccessToken{
		AccessToken: parsed.AccessToken,
		ExpiresAt:   calculateExpiryMillis(now, time.Duration(parsed.ExpiresIn)*time.Second),
	}, nil
}

// buildClaims constructs the JWT claim set a signed-JWT provider sends to
// IAM. When brokerIssuer is true (domain-wide delegation), iss is the
// broker's own service account and sub is the target identity being
// impersonated; when false (shadow service account), the identity signs
// for itself and iss is left as the identity, with no sub.
func buildClaims(now time.Time, life time.Duration, audience, scope, googleIdentity, brokerServiceAccount string, brokerIssuer bool) signedJWTClaims {
	claims := signedJWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(life)),
		},
		Scope: scope,
	}
	if brokerIssuer {
		claims.Issuer = brokerServiceAccount
		claims.Subject = googleIdentity
	} else {
		claims.Issuer = googleIdentity
	}
	return claims
}
