package xray

import (
	"context"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
)

const testPlanLimit = 100

func (c *Client) AddTestExecutionToTestPlan(ctx context.Context, testPlanId, testExecutionId string) error {
	req := graphql.NewRequest(addTestExecutionsToTestPlanMutation)
	req.Var("issueId", testPlanId)
	req.Var("testExecIssueIds", []string{testExecutionId})

	var resp struct {
		AddTestExecutionsToTestPlan struct {
			AddedTestExecutions []string `json:"addedTestExecutions"`
			Warning             string   `json:"warning"`
		} `json:"addTestExecutionsToTestPlan"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return errors.Wrapf(err, "failed to add execution %s to test plan %s", testExecutionId, testPlanId)
	}
	if w := resp.AddTestExecutionsToTestPlan.Warning; w != "" {
		c.log.Debug(w)
	}
	return nil
}

// GetTestPlanTests returns the issue ids of the tests in a test plan.
func (c *Client) GetTestPlanTests(ctx context.Context, testPlanId string) ([]string, error) {
	req := graphql.NewRequest(getTestPlanQuery)
	req.Var("issueId", testPlanId)
	req.Var("limit", testPlanLimit)

	var resp struct {
		GetTestPlan *struct {
			Tests struct {
				Results []struct {
					IssueID string `json:"issueId"`
				} `json:"results"`
			} `json:"tests"`
		} `json:"getTestPlan"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to get test plan %s", testPlanId)
	}
	if resp.GetTestPlan == nil {
		return nil, errors.Errorf("test plan %s not found", testPlanId)
	}
	ids := make([]string, 0, len(resp.GetTestPlan.Tests.Results))
	for _, r := range resp.GetTestPlan.Tests.Results {
		ids = append(ids, r.IssueID)
	}
	return ids, nil
}
