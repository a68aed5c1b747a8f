package xray

import (
	"context"
	"fmt"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ExecutionLimit caps ListTestExecutions, there is no pagination past it.
const ExecutionLimit = 100

// ErrNoProjectKey is returned by the execution operations when the client
// has no Jira project to scope them to.
var ErrNoProjectKey = errors.New("no jira project key configured")

type TestExecution struct {
	IssueID string
	Summary string
	Key     string
}

type jiraFields struct {
	Summary string `json:"summary"`
	Key     string `json:"key"`
}

type testExecutionResult struct {
	IssueID string     `json:"issueId"`
	Jira    jiraFields `json:"jira"`
}

func (r testExecutionResult) execution() TestExecution {
	return TestExecution{IssueID: r.IssueID, Summary: r.Jira.Summary, Key: r.Jira.Key}
}

// ExecutionSummary is the summary an execution for environment and date is
// created with, executions are matched on it.
func ExecutionSummary(environment, date string) string {
	return fmt.Sprintf("Test Execution for %s %s", environment, date)
}

// ListTestExecutions returns up to ExecutionLimit executions of the project.
func (c *Client) ListTestExecutions(ctx context.Context) ([]TestExecution, error) {
	if c.projectKey == "" {
		return nil, ErrNoProjectKey
	}
	req := graphql.NewRequest(getTestExecutionsQuery)
	req.Var("jql", fmt.Sprintf("project = '%s'", c.projectKey))
	req.Var("limit", ExecutionLimit)

	var resp struct {
		GetTestExecutions struct {
			Total   int                   `json:"total"`
			Start   int                   `json:"start"`
			Limit   int                   `json:"limit"`
			Results []testExecutionResult `json:"results"`
		} `json:"getTestExecutions"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, errors.Wrap(err, "failed to list test executions")
	}

	results := resp.GetTestExecutions.Results
	if resp.GetTestExecutions.Total > len(results) {
		c.log.WithField("total", resp.GetTestExecutions.Total).Debugf("only %d test executions fetched", len(results))
	}
	executions := make([]TestExecution, 0, len(results))
	for _, r := range results {
		executions = append(executions, r.execution())
	}
	return executions, nil
}

// FindExecutionIDByName returns the id of the first execution whose summary
// equals name. found is false when there is no such execution.
func (c *Client) FindExecutionIDByName(ctx context.Context, name string) (id string, found bool, err error) {
	executions, err := c.ListTestExecutions(ctx)
	if err != nil {
		return "", false, err
	}
	for _, e := range executions {
		if e.Summary == name {
			return e.IssueID, true, nil
		}
	}
	return "", false, nil
}

// CreateTestExecution returns the execution for environment and date,
// creating it with osType as its test environment when none exists yet.
func (c *Client) CreateTestExecution(ctx context.Context, osType, environment, date string) (string, error) {
	summary := ExecutionSummary(environment, date)
	id, found, err := c.FindExecutionIDByName(ctx, summary)
	if err != nil {
		return "", err
	}
	if found {
		c.log.WithField("issueId", id).Debugf("reusing test execution %q", summary)
		return id, nil
	}

	req := graphql.NewRequest(createTestExecutionMutation)
	req.Var("testEnvironments", []string{osType})
	req.Var("jira", map[string]interface{}{
		"fields": map[string]interface{}{
			"summary": summary,
			"project": map[string]string{"key": c.projectKey},
		},
	})

	var resp struct {
		CreateTestExecution struct {
			TestExecution           testExecutionResult `json:"testExecution"`
			Warnings                []string            `json:"warnings"`
			CreatedTestEnvironments []string            `json:"createdTestEnvironments"`
		} `json:"createTestExecution"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return "", errors.Wrapf(err, "failed to create test execution %q", summary)
	}
	created := resp.CreateTestExecution
	for _, w := range created.Warnings {
		c.log.Warn(w)
	}
	if created.TestExecution.IssueID == "" {
		return "", fmt.Errorf("xray returned no issue id for test execution %q", summary)
	}
	c.log.WithFields(log.Fields{
		"issueId": created.TestExecution.IssueID,
		"key":     created.TestExecution.Jira.Key,
	}).Infof("created test execution %q", summary)
	return created.TestExecution.IssueID, nil
}

// AddTestToExecution adds a test to an execution. Warnings from Xray, such as
// the test already being part of the execution, are logged only.
func (c *Client) AddTestToExecution(ctx context.Context, testIssueId, executionIssueId string) error {
	req := graphql.NewRequest(addTestsToTestExecutionMutation)
	req.Var("issueId", executionIssueId)
	req.Var("testIssueIds", []string{testIssueId})

	var resp struct {
		AddTestsToTestExecution struct {
			AddedTests []string `json:"addedTests"`
			Warning    string   `json:"warning"`
		} `json:"addTestsToTestExecution"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return errors.Wrapf(err, "failed to add test %s to execution %s", testIssueId, executionIssueId)
	}
	if w := resp.AddTestsToTestExecution.Warning; w != "" {
		c.log.Debug(w)
	}
	return nil
}
