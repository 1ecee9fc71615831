package cloud

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// ocapiEnvelope wraps every OCAPI response.
type ocapiEnvelope struct {
	Meta struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"meta"`
	Data json.RawMessage `json:"data"`
}

type authData struct {
	Token         string `json:"token"`
	UserID        string `json:"userId"`
	Authenticated int64  `json:"authenticated"`
}

type factor struct {
	FactorID   string `json:"factorId"`
	FactorType string `json:"factorType"`
	FactorRole string `json:"factorRole"`
}

// ocapi posts (or gets, when body is nil) to the auth service and decodes
// the data member into out.
func (c *HTTPClient) ocapi(ctx context.Context, path string, body, out any) error {
	method := http.MethodPost
	if body == nil {
		method = http.MethodGet
	}
	var env ocapiEnvelope
	if err := c.do(ctx, method, c.opts.AuthURL+path, body, &env); err != nil {
		return err
	}
	if env.Meta.Code != http.StatusOK {
		if env.Meta.Code == http.StatusUnauthorized || env.Meta.Code == http.StatusForbidden {
			return fmt.Errorf("%w: %s: %s", ErrUnauthorized, path, env.Meta.Message)
		}
		return fmt.Errorf("%w: %s: code %d %s", ErrRequest, path, env.Meta.Code, env.Meta.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrRequest, path, err)
	}
	return nil
}

func (c *HTTPClient) setAuth(userID, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	c.headers[headerAuthorization] = base64.StdEncoding.EncodeToString([]byte(token))
}

// Login authenticates with username and password and requests an emailed
// MFA code. The returned Resume finishes the login with that code.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (Resume, error) {
	var auth authData
	err := c.ocapi(ctx, "/api/auth", map[string]string{
		"email":     username,
		"password":  base64.StdEncoding.EncodeToString([]byte(password)),
		"language":  "en",
		"EnvSource": "prod",
	}, &auth)
	if err != nil {
		return nil, fmt.Errorf("password login: %w", err)
	}
	c.setAuth(auth.UserID, auth.Token)

	var factors struct {
		Items []factor `json:"items"`
	}
	query := url.Values{"data": {fmt.Sprint(auth.Authenticated)}}
	if err := c.ocapi(ctx, "/api/getFactors?"+query.Encode(), nil, &factors); err != nil {
		return nil, fmt.Errorf("listing MFA factors: %w", err)
	}

	chosen, ok := pickFactor(factors.Items)
	if !ok {
		return nil, ErrNoMFAFactor
	}

	var started struct {
		FactorAuthCode string `json:"factorAuthCode"`
	}
	err = c.ocapi(ctx, "/api/startAuth", map[string]string{
		"factorId":   chosen.FactorID,
		"factorType": chosen.FactorType,
		"userId":     auth.UserID,
	}, &started)
	if err != nil {
		return nil, fmt.Errorf("starting MFA: %w", err)
	}
	c.logger.Info("MFA code requested", "factor", chosen.FactorType)

	return func(ctx context.Context, code string) error {
		var finished authData
		err := c.ocapi(ctx, "/api/finishAuth", map[string]string{
			"factorAuthCode": started.FactorAuthCode,
			"otp":            code,
		}, &finished)
		if err != nil {
			return fmt.Errorf("finishing MFA: %w", err)
		}
		userID := finished.UserID
		if userID == "" {
			userID = auth.UserID
		}
		c.setAuth(userID, finished.Token)
		return nil
	}, nil
}

// pickFactor prefers a primary email factor, then any email factor.
func pickFactor(factors []factor) (factor, bool) {
	var fallback *factor
	for i := range factors {
		f := factors[i]
		if f.FactorType != "EMAIL" {
			continue
		}
		if f.FactorRole == "PRIMARY" {
			return f, true
		}
		if fallback == nil {
			fallback = &factors[i]
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return factor{}, false
}

// LoginWithToken installs persisted auth headers and checks them against the
// session endpoint. Rejected headers return an error wrapping ErrUnauthorized.
func (c *HTTPClient) LoginWithToken(ctx context.Context, userID string, token Token) error {
	if token[headerAuthorization] == "" {
		return fmt.Errorf("%w: stored token has no authorization header", ErrUnauthorized)
	}

	c.mu.Lock()
	c.userID = userID
	c.headers = token.Clone()
	c.mu.Unlock()

	var env envelope
	if err := c.do(ctx, http.MethodGet, c.opts.BaseURL+"/hmsweb/users/session/v3", nil, &env); err != nil {
		return fmt.Errorf("validating stored token: %w", err)
	}
	if !env.Success {
		return fmt.Errorf("%w: session rejected", ErrUnauthorized)
	}
	return nil
}
