// Package reporter publishes the outcome of one test to Xray: it finds or
// creates the execution for the environment and date, adds the test to it
// and records the status, comment and evidence on the resulting run.
package reporter

import (
	"context"
	"time"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/connectors/jira"
	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/connectors/xray"

	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const testIssueType = "Test"

// Xray is the part of the Xray client the reporter drives.
type Xray interface {
	CreateTestExecution(ctx context.Context, osType, environment, date string) (string, error)
	AddTestToExecution(ctx context.Context, testIssueId, executionIssueId string) error
	AddTestExecutionToTestPlan(ctx context.Context, testPlanId, testExecutionId string) error
	GetTestRun(ctx context.Context, testIssueId, executionIssueId string) (*xray.TestRun, error)
	UpdateTestRunStatus(ctx context.Context, testRunId, status string) error
	AddCommentToTestRun(ctx context.Context, testRunId, message string) error
	UpdateTestRun(ctx context.Context, testRunId, comment string, startedOn, finishedOn strfmt.DateTime) error
	AddEvidenceToTestRun(ctx context.Context, testRunId, data string, i int) (*xray.EvidenceResult, error)
}

// Jira is the part of the Jira client the reporter drives.
type Jira interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
}

type TestRunResult struct {
	// TestKey is the Jira key of the test, e.g. "ET-12"
	TestKey     string
	OsType      string
	Environment string
	// Date is part of the execution summary, usually "2006-01-02"
	Date   string
	Status string
	// Comment replaces the comment of the run when not empty
	Comment string
	// Evidence lists image files attached as evidence0.png, evidence1.png, ...
	Evidence []string
	// TestPlanId links the execution to a test plan when not empty
	TestPlanId string
	StartedOn  time.Time
	FinishedOn time.Time
}

type Report struct {
	TestIssueId      string
	ExecutionIssueId string
	TestRunId        string
	Status           string
	EvidenceCount    int
}

type Reporter struct {
	xray Xray
	jira Jira
	log  *log.Entry
}

func New(x Xray, j Jira) *Reporter {
	return &Reporter{
		xray: x,
		jira: j,
		log:  log.WithField("component", "reporter"),
	}
}

// Report records result in Xray. It stops at the first step that fails.
func (r *Reporter) Report(ctx context.Context, result TestRunResult) (*Report, error) {
	if result.TestKey == "" || result.Status == "" {
		return nil, errors.New("a test key and a status are required")
	}
	entry := r.log.WithField("test", result.TestKey)

	issue, err := r.jira.GetIssue(ctx, result.TestKey)
	if err != nil {
		return nil, err
	}
	if issue.Fields.IssueType == nil || issue.Fields.IssueType.Name != testIssueType {
		return nil, errors.Errorf("%s doesn't have issue type '%s'", result.TestKey, testIssueType)
	}

	execId, err := r.xray.CreateTestExecution(ctx, result.OsType, result.Environment, result.Date)
	if err != nil {
		return nil, err
	}
	if result.TestPlanId != "" {
		if err = r.xray.AddTestExecutionToTestPlan(ctx, result.TestPlanId, execId); err != nil {
			return nil, err
		}
	}
	if err = r.xray.AddTestToExecution(ctx, issue.Id, execId); err != nil {
		return nil, err
	}
	run, err := r.xray.GetTestRun(ctx, issue.Id, execId)
	if err != nil {
		return nil, err
	}
	entry = entry.WithField("run", run.ID)

	if err = r.xray.UpdateTestRunStatus(ctx, run.ID, result.Status); err != nil {
		return nil, err
	}
	if !result.StartedOn.IsZero() || !result.FinishedOn.IsZero() {
		err = r.xray.UpdateTestRun(ctx, run.ID, result.Comment,
			strfmt.DateTime(result.StartedOn), strfmt.DateTime(result.FinishedOn))
		if err != nil {
			return nil, err
		}
	} else if result.Comment != "" {
		if err = r.xray.AddCommentToTestRun(ctx, run.ID, result.Comment); err != nil {
			return nil, err
		}
	}

	for i, path := range result.Evidence {
		data, err := xray.EncodeFileAsBase64(path)
		if err != nil {
			return nil, errors.Wrapf(err, "evidence %s", path)
		}
		if _, err = r.xray.AddEvidenceToTestRun(ctx, run.ID, data, i); err != nil {
			return nil, err
		}
	}

	entry.WithField("status", result.Status).Info("test run reported")
	return &Report{
		TestIssueId:      issue.Id,
		ExecutionIssueId: execId,
		TestRunId:        run.ID,
		Status:           result.Status,
		EvidenceCount:    len(result.Evidence),
	}, nil
}
