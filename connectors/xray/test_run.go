package xray

import (
	"context"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
)

var ErrTestRunNotFound = errors.New("test run not found")

type Status struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

type Example struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

type TestRun struct {
	ID       string    `json:"id"`
	Status   Status    `json:"status"`
	Gherkin  string    `json:"gherkin"`
	Examples []Example `json:"examples"`
}

// GetTestRun fetches the run of a test within an execution.
func (c *Client) GetTestRun(ctx context.Context, testIssueId, executionIssueId string) (*TestRun, error) {
	req := graphql.NewRequest(getTestRunQuery)
	req.Var("testIssueId", testIssueId)
	req.Var("testExecIssueId", executionIssueId)

	var resp struct {
		GetTestRun *TestRun `json:"getTestRun"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to get test run of %s in %s", testIssueId, executionIssueId)
	}
	if resp.GetTestRun == nil {
		return nil, errors.Wrapf(ErrTestRunNotFound, "test %s, execution %s", testIssueId, executionIssueId)
	}
	return resp.GetTestRun, nil
}

// UpdateTestRunStatus sets the status of a run. The value is passed through
// as is; Xray rejects names it does not know.
func (c *Client) UpdateTestRunStatus(ctx context.Context, testRunId, status string) error {
	req := graphql.NewRequest(updateTestRunStatusMutation)
	req.Var("id", testRunId)
	req.Var("status", status)

	var resp struct {
		UpdateTestRunStatus *string `json:"updateTestRunStatus"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return errors.Wrapf(err, "failed to set status of test run %s to %s", testRunId, status)
	}
	return nil
}

// AddCommentToTestRun replaces the comment of a run.
func (c *Client) AddCommentToTestRun(ctx context.Context, testRunId, message string) error {
	req := graphql.NewRequest(updateTestRunCommentMutation)
	req.Var("id", testRunId)
	req.Var("comment", message)

	var resp struct {
		UpdateTestRunComment *string `json:"updateTestRunComment"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return errors.Wrapf(err, "failed to comment on test run %s", testRunId)
	}
	return nil
}

// UpdateTestRun sets the comment and the start and finish times of a run.
// Zero times are left out.
func (c *Client) UpdateTestRun(ctx context.Context, testRunId, comment string, startedOn, finishedOn strfmt.DateTime) error {
	req := graphql.NewRequest(updateTestRunMutation)
	req.Var("id", testRunId)
	req.Var("comment", comment)
	if s := rfc3339(startedOn); s != "" {
		req.Var("startedOn", s)
	}
	if s := rfc3339(finishedOn); s != "" {
		req.Var("finishedOn", s)
	}

	var resp struct {
		UpdateTestRun struct {
			Warnings []string `json:"warnings"`
		} `json:"updateTestRun"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return errors.Wrapf(err, "failed to update test run %s", testRunId)
	}
	for _, w := range resp.UpdateTestRun.Warnings {
		c.log.Warn(w)
	}
	return nil
}

func rfc3339(t strfmt.DateTime) string {
	if time.Time(t).IsZero() {
		return ""
	}
	return time.Time(t).UTC().Format(time.RFC3339)
}
