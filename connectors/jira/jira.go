package jira

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/common/config"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const issuePath = "/rest/api/3/issue/"

var ErrIssueNotFound = errors.New("jira issue not found")

type Issue struct {
	Key    string `json:"key"`
	Id     string `json:"id"`
	Fields Fields `json:"fields"`
}

type Fields struct {
	Assignee  *Assignee  `json:"assignee"`
	Status    Status     `json:"status"`
	Summary   string     `json:"summary"`
	IssueType *IssueType `json:"issuetype"`
}

type Assignee struct {
	Email string `json:"emailAddress"`
	Name  string `json:"displayName,omitempty"`
}

type Status struct {
	Description string `json:"description,omitempty"`
	Name        string `json:"name"`
}

type IssueType struct {
	Name string `json:"name"`
}

// Client reads issues from the Jira REST API with a static credential.
type Client struct {
	httpClient *http.Client
	issueURL   string
	auth       string
	log        *log.Entry
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Jira.Timeout},
		issueURL:   strings.TrimSuffix(cfg.Jira.BaseURL, "/") + issuePath,
		auth:       cfg.Jira.Auth,
		log:        log.WithField("connector", "jira"),
	}
}

func (c *Client) getIssue(ctx context.Context, key string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.issueURL+url.PathEscape(key), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Authorization", c.auth)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "jira request for %s failed", key)
	}

	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.Wrap(ErrIssueNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("jira returned status %d for %s: %s", resp.StatusCode, key, bodyBytes)
	}
	if !gjson.ValidBytes(bodyBytes) {
		return nil, errors.Errorf("jira returned malformed issue %s", key)
	}
	return bodyBytes, nil
}

// ResolveIssueID maps a ticket key such as "ET-12" to the internal issue id.
func (c *Client) ResolveIssueID(ctx context.Context, ticketKey string) (string, error) {
	body, err := c.getIssue(ctx, ticketKey)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.String() == "" {
		return "", errors.Wrap(ErrIssueNotFound, ticketKey)
	}
	c.log.WithField("id", id.String()).Debugf("resolved %s", ticketKey)
	return id.String(), nil
}

// GetIssue returns the details of an issue.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	body, err := c.getIssue(ctx, key)
	if err != nil {
		return nil, err
	}
	var issue Issue
	if err := json.Unmarshal(body, &issue); err != nil {
		return nil, errors.Wrapf(err, "unable to decode jira issue %s", key)
	}
	if issue.Id == "" {
		return nil, errors.Wrap(ErrIssueNotFound, key)
	}
	return &issue, nil
}
