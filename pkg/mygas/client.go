package mygas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/mygasbridge/mygasbridge/pkg/common"
	"github.com/mygasbridge/mygasbridge/pkg/log"
)

const loginPath = "auth/login"

// Client talks to the MyGas personal account API. It logs in lazily and
// re-authenticates once when a token is rejected.
type Client struct {
	client   *http.Client
	baseURL  string
	username string
	password string

	mu    sync.Mutex
	token string
}

// Configured sets up flags for the MyGas client and returns the instance.
func Configured() *Client {
	c := &Client{}
	apiURL := lflag.String("mygas-api-url", "https://api.mygas.ru/v1", "URL for the MyGas personal account API")
	username := lflag.RequiredString("mygas-username", "MyGas account login (email or phone)")
	password := lflag.RequiredString("mygas-password", "MyGas account password")
	timeout := lflag.Duration("mygas-timeout", 30*time.Second, "Timeout for a single MyGas API request")

	lflag.Do(func() {
		c.baseURL = *apiURL
		c.username = *username
		c.password = *password
		c.client = common.HTTPClient(*timeout)
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("mygas client validation failed: %v", err))
		}
	})

	return c
}

// New returns a client for the given API and credentials.
func New(baseURL, username, password string, client *http.Client) *Client {
	if client == nil {
		client = common.HTTPClient(30 * time.Second)
	}
	return &Client{
		client:   client,
		baseURL:  baseURL,
		username: username,
		password: password,
	}
}

// Username returns the configured login.
func (c *Client) Username() string {
	return c.username
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return errors.New("mygas-api-url is required")
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return fmt.Errorf("failed to parse mygas url (%s): %w", c.baseURL, err)
	}
	if c.username == "" {
		return errors.New("mygas-username is required")
	}
	return nil
}

// GetClientInfo returns the profile of the account holder.
func (c *Client) GetClientInfo(ctx context.Context) (map[string]any, error) {
	var res map[string]any
	if err := c.do(ctx, "GET", "client/info", nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetAccounts returns the raw account tree. The shape of the response differs
// between backends so it is returned undecoded into structs.
func (c *Client) GetAccounts(ctx context.Context) (any, error) {
	var res any
	if err := c.do(ctx, "GET", "accounts", nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetELSInfo returns the detail of a grouped account.
func (c *Client) GetELSInfo(ctx context.Context, elsID int64) (map[string]any, error) {
	var res map[string]any
	if err := c.do(ctx, "GET", "els/"+strconv.FormatInt(elsID, 10), nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetLSPUInfo returns the detail of a flat account. The API returns either a
// single object or a list of objects.
func (c *Client) GetLSPUInfo(ctx context.Context, lspuID int64) (any, error) {
	var res any
	if err := c.do(ctx, "GET", "lspu/"+strconv.FormatInt(lspuID, 10), nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetCharges returns the charges of a sub-account.
func (c *Client) GetCharges(ctx context.Context, lspuID int64) (map[string]any, error) {
	var res map[string]any
	if err := c.do(ctx, "GET", "lspu/"+strconv.FormatInt(lspuID, 10)+"/charges", nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetPayments returns the payments of a sub-account.
func (c *Client) GetPayments(ctx context.Context, lspuID int64) (map[string]any, error) {
	var res map[string]any
	if err := c.do(ctx, "GET", "lspu/"+strconv.FormatInt(lspuID, 10)+"/payments", nil, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

type indicationRequest struct {
	EquipmentUUID string  `json:"equipment"`
	Value         float64 `json:"value"`
	ELSID         *int64  `json:"elsId,omitempty"`
}

// SendIndication submits a meter reading for the given equipment.
func (c *Client) SendIndication(ctx context.Context, lspuID int64, equipmentUUID string, value float64, elsID *int64) ([]map[string]any, error) {
	body := indicationRequest{
		EquipmentUUID: equipmentUUID,
		Value:         value,
		ELSID:         elsID,
	}
	var res []map[string]any
	if err := c.do(ctx, "POST", "lspu/"+strconv.FormatInt(lspuID, 10)+"/indications", nil, body, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// GetReceipt returns the bill for the month containing date (YYYY-MM-DD). If
// email is set the receipt is also sent there.
func (c *Client) GetReceipt(ctx context.Context, date, email string, accountID int64, isELS bool) (map[string]any, error) {
	params := url.Values{}
	params.Set("date", date)
	params.Set("account", strconv.FormatInt(accountID, 10))
	params.Set("els", strconv.FormatBool(isELS))
	if email != "" {
		params.Set("email", email)
	}
	var res map[string]any
	if err := c.do(ctx, "GET", "receipt", params, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResult struct {
	Token string `json:"token"`
}

// ensureToken will not login again if the token we have cached is still valid
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

// invalidateToken clears the cached token if it is still the one that was
// rejected.
func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == token {
		c.token = ""
	}
}

func (c *Client) login(ctx context.Context) (string, error) {
	if c.username == "" {
		return "", &AuthError{Message: "missing username"}
	}
	if c.password == "" {
		return "", &AuthError{Message: "missing password"}
	}

	req, err := c.newRequest(ctx, "POST", loginPath, nil, loginRequest{
		Login:    c.username,
		Password: c.password,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "mygas login failed", slog.Any("error", err))
		return "", fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read login response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return "", &AuthError{Endpoint: loginPath, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	case resp.StatusCode != http.StatusOK:
		return "", &APIError{Endpoint: loginPath, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var res loginResult
	if err := json.Unmarshal(body, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode mygas login response", slog.Any("error", err))
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if res.Token == "" {
		return "", &AuthError{Endpoint: loginPath, StatusCode: resp.StatusCode, Message: "no token returned"}
	}
	log.Ctx(ctx).DebugContext(ctx, "mygas login success", slog.String("username", c.username))
	return res.Token, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, params url.Values, data any) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, data any, dest any) error {
	// we try up to 2 times because we might have an expired token
	for i := 0; i < 2; i++ {
		token, err := c.ensureToken(ctx)
		if err != nil {
			return err
		}

		req, err := c.newRequest(ctx, method, endpoint, params, data)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		log.Ctx(ctx).DebugContext(ctx, "mygas request", slog.String("method", method), slog.String("endpoint", endpoint))
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s failed: %w", method, endpoint, err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read %s response: %w", endpoint, err)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.invalidateToken(token)
			if i == 0 {
				log.Ctx(ctx).DebugContext(ctx, "mygas token expired", slog.String("endpoint", endpoint))
				continue
			}
			return &AuthError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(body)}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			log.Ctx(ctx).WarnContext(
				ctx,
				"mygas api error",
				slog.String("endpoint", endpoint),
				slog.Int("status", resp.StatusCode),
			)
			return &APIError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: errorMessage(body)}
		}

		if dest == nil || len(bytes.TrimSpace(body)) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		// ids and balances must survive decoding without float rounding
		dec.UseNumber()
		if err := dec.Decode(dest); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to decode mygas response", slog.String("endpoint", endpoint), slog.Any("error", err))
			return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
		}
		return nil
	}
	return nil
}
