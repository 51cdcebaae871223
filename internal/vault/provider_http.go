package vault

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// isProviderRefusal distinguishes a provider's definitive rejection of a
// refresh token (invalid_grant, the token was revoked or expired server
// side) from a transient network failure. oauth2.RetrieveError carries
// the provider's error response; anything else is treated as retryable.
func isProviderRefusal(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.ErrorCode {
		case "invalid_grant", "invalid_client", "unauthorized_client":
			return true
		}
	}
	return false
}

// revokeAtProvider is a best-effort RFC 7009 revocation call; WorkOS-style
// providers that don't support it simply return a non-2xx, which is
// swallowed — local deletion is what must succeed.
func revokeAtProvider(ctx context.Context, cfg oauth2.Config, token string) {
	if cfg.Endpoint.TokenURL == "" {
		return
	}
	revokeURL := strings.TrimSuffix(cfg.Endpoint.TokenURL, "/token") + "/revoke"
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
