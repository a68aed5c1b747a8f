package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/common/config"

	"github.com/cenkalti/backoff/v4"
	"github.com/machinebox/graphql"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	authPath    = "/authenticate"
	graphqlPath = "/graphql"
	tokenKey    = "xray"
)

type Auth struct {
	ClientId     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// Client talks to the Xray Cloud GraphQL API. The bearer token is fetched on
// first use and reused for every later call; a rejected credential is cached
// like any other token and is only dropped by ResetToken or, when a TTL is
// configured, by expiry.
type Client struct {
	gql        *graphql.Client
	authClient *http.Client
	authURL    string

	clientId     string
	clientSecret string
	projectKey   string
	retries      int

	mu     sync.Mutex
	tokens *cache.Cache
	log    *log.Entry
}

func NewClient(cfg *config.Config) *Client {
	base := strings.TrimSuffix(cfg.Xray.BaseURL, "/")
	entry := log.WithField("connector", "xray")

	gql := graphql.NewClient(base+graphqlPath, graphql.WithHTTPClient(&http.Client{
		Timeout:   cfg.Xray.Timeout,
		Transport: &statusTransport{wrapped: http.DefaultTransport},
	}))
	gql.Log = func(s string) { entry.Trace(s) }

	ttl := cfg.Xray.TokenTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	return &Client{
		gql:          gql,
		authClient:   &http.Client{Timeout: cfg.Xray.Timeout},
		authURL:      base + authPath,
		clientId:     cfg.Xray.ClientId,
		clientSecret: cfg.Xray.ClientSecret,
		projectKey:   cfg.Jira.ProjectKey,
		retries:      cfg.Xray.Retries,
		tokens:       cache.New(ttl, 0),
		log:          entry,
	}
}

// ResetToken forgets the cached token, the next request authenticates again.
func (c *Client) ResetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens.Delete(tokenKey)
}

func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tokens.Get(tokenKey); ok {
		return t.(string), nil
	}
	t, err := c.authorize(ctx)
	if err != nil {
		return "", err
	}
	c.tokens.SetDefault(tokenKey, t)
	return t, nil
}

// authorize exchanges the client credentials for a token. The response body
// is itself the token, encoded as a JSON string.
func (c *Client) authorize(ctx context.Context) (string, error) {
	b, err := json.Marshal(Auth{
		ClientId:     c.clientId,
		ClientSecret: c.clientSecret,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, bytes.NewBuffer(b))
	if err != nil {
		return "", err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := c.authClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "xray authentication request failed")
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "failed to read xray authentication response")
	}
	var raw json.RawMessage
	if err = json.Unmarshal(bodyBytes, &raw); err != nil {
		return "", errors.Wrap(err, "unable to parse xray authentication response")
	}
	var token string
	if err = json.Unmarshal(raw, &token); err != nil {
		token = string(raw)
	}
	if resp.StatusCode != http.StatusOK {
		c.log.WithField("status", resp.StatusCode).Warn("xray did not accept the client credentials")
	}
	c.log.Debug("xray token acquired")
	return token, nil
}

// run sends one GraphQL request and decodes its data into resp.
func (c *Client) run(ctx context.Context, req *graphql.Request, resp interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	attempt := 0
	op := func() error {
		attempt++
		err := c.gql.Run(ctx, req, resp)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		c.log.WithField("attempt", attempt).Warnf("xray request failed: %v", err)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.retries)), ctx))
}
