package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/common/config"
	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/common/logger"
	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/connectors/jira"
	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/connectors/xray"
	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/reporter"

	"github.com/fatih/color"
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
)

const dateLayout = "2006-01-02"

var (
	runCtx           = context.Background()
	out    io.Writer = os.Stdout
)

type command struct {
	name, short, long string
	data              interface{}
}

func commands() []command {
	return []command{
		{"list-executions", "List test executions", "List up to 100 test executions of the project", &listExecutionsCmd{}},
		{"create-execution", "Find or create a test execution", "Print the id of the execution for an environment and date, creating it when missing", &createExecutionCmd{}},
		{"add-test", "Add a test to an execution", "Add a test issue to a test execution", &addTestCmd{}},
		{"get-run", "Show a test run", "Show the run of a test within an execution", &getRunCmd{}},
		{"update-status", "Set the status of a test run", "Set the status of a test run, e.g. PASSED or FAILED", &updateStatusCmd{}},
		{"comment", "Set the comment of a test run", "Replace the comment of a test run", &commentCmd{}},
		{"attach-evidence", "Attach image evidence to a test run", "Attach image files as evidence<index>.png, numbering from --index", &attachEvidenceCmd{}},
		{"resolve-issue", "Print the issue id of a Jira key", "Resolve a Jira issue key to its internal id", &resolveIssueCmd{}},
		{"report", "Report a test result", "Find or create the execution, add the test and record status, comment and evidence", &reportCmd{}},
		{"show-config", "Print the resolved configuration", "Print the resolved configuration with credentials masked", &showConfigCmd{}},
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.ConfigFile, opts.EnvFile)
	if err != nil {
		return nil, err
	}
	logger.InitLogger(&cfg.Logger)
	return cfg, nil
}

func newXrayClient() (*xray.Client, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err = cfg.ValidateXray(); err != nil {
		return nil, nil, err
	}
	return xray.NewClient(cfg), cfg, nil
}

func newJiraClient() (*jira.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err = cfg.ValidateJira(); err != nil {
		return nil, err
	}
	return jira.NewClient(cfg), nil
}

// parseTime accepts an RFC 3339 timestamp, the empty string is the zero time.
func parseTime(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	dt, err := strfmt.ParseDateTime(value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid %s", flag)
	}
	return time.Time(dt), nil
}

func printStatus(s xray.Status) {
	c := color.New(color.FgYellow)
	switch s.Name {
	case "PASSED":
		c = color.New(color.FgGreen)
	case "FAILED", "ABORTED":
		c = color.New(color.FgRed)
	}
	c.Fprint(out, s.Name)
	fmt.Fprintln(out)
}

type listExecutionsCmd struct{}

func (c *listExecutionsCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	executions, err := client.ListTestExecutions(runCtx)
	if err != nil {
		return err
	}
	for _, e := range executions {
		fmt.Fprintf(out, "%s\t%s\n", e.IssueID, e.Summary)
	}
	return nil
}

type createExecutionCmd struct {
	OsType      string `long:"os" description:"test environment tag" required:"true"`
	Environment string `long:"environment" description:"environment named in the summary" required:"true"`
	Date        string `long:"date" description:"date named in the summary, today when omitted"`
}

func (c *createExecutionCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	if c.Date == "" {
		c.Date = time.Now().Format(dateLayout)
	}
	id, err := client.CreateTestExecution(runCtx, c.OsType, c.Environment, c.Date)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

type addTestCmd struct {
	Test      string `long:"test" description:"test issue id" required:"true"`
	Execution string `long:"execution" description:"test execution issue id" required:"true"`
}

func (c *addTestCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	return client.AddTestToExecution(runCtx, c.Test, c.Execution)
}

type getRunCmd struct {
	Test      string `long:"test" description:"test issue id" required:"true"`
	Execution string `long:"execution" description:"test execution issue id" required:"true"`
}

func (c *getRunCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	run, err := client.GetTestRun(runCtx, c.Test, c.Execution)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t", run.ID)
	printStatus(run.Status)
	for _, e := range run.Examples {
		fmt.Fprintf(out, "  example %s\t", e.ID)
		printStatus(e.Status)
	}
	if run.Gherkin != "" {
		fmt.Fprintln(out, run.Gherkin)
	}
	return nil
}

type updateStatusCmd struct {
	Run    string `long:"run" description:"test run id" required:"true"`
	Status string `long:"status" description:"status name" required:"true"`
}

func (c *updateStatusCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	return client.UpdateTestRunStatus(runCtx, c.Run, c.Status)
}

type commentCmd struct {
	Run     string `long:"run" description:"test run id" required:"true"`
	Message string `long:"message" description:"comment text" required:"true"`
}

func (c *commentCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	return client.AddCommentToTestRun(runCtx, c.Run, c.Message)
}

type attachEvidenceCmd struct {
	Run   string `long:"run" description:"test run id" required:"true"`
	Index int    `long:"index" description:"number of the first evidence file" default:"0"`
	Args  struct {
		Files []string `positional-arg-name:"file" required:"1"`
	} `positional-args:"yes"`
}

func (c *attachEvidenceCmd) Execute([]string) error {
	client, _, err := newXrayClient()
	if err != nil {
		return err
	}
	for i, path := range c.Args.Files {
		data, err := xray.EncodeFileAsBase64(path)
		if err != nil {
			return err
		}
		if _, err = client.AddEvidenceToTestRun(runCtx, c.Run, data, c.Index+i); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s\t%s\n", xray.EvidenceFilename(c.Index+i), path)
	}
	return nil
}

type resolveIssueCmd struct {
	Args struct {
		Key string `positional-arg-name:"key" required:"yes"`
	} `positional-args:"yes"`
}

func (c *resolveIssueCmd) Execute([]string) error {
	client, err := newJiraClient()
	if err != nil {
		return err
	}
	id, err := client.ResolveIssueID(runCtx, c.Args.Key)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, id)
	return nil
}

type reportCmd struct {
	Test        string   `long:"test" description:"Jira key of the test" required:"true"`
	OsType      string   `long:"os" description:"test environment tag" required:"true"`
	Environment string   `long:"environment" description:"environment named in the execution summary" required:"true"`
	Date        string   `long:"date" description:"date named in the execution summary, today when omitted"`
	Status      string   `long:"status" description:"status name" required:"true"`
	Comment     string   `long:"comment" description:"comment for the test run"`
	TestPlan    string   `long:"test-plan" description:"test plan issue id to link the execution to"`
	Evidence    []string `long:"evidence" description:"image file to attach, may be repeated"`
	StartedOn   string   `long:"started" description:"start of the run, RFC 3339"`
	FinishedOn  string   `long:"finished" description:"end of the run, RFC 3339"`
}

func (c *reportCmd) Execute([]string) error {
	startedOn, err := parseTime("--started", c.StartedOn)
	if err != nil {
		return err
	}
	finishedOn, err := parseTime("--finished", c.FinishedOn)
	if err != nil {
		return err
	}
	client, cfg, err := newXrayClient()
	if err != nil {
		return err
	}
	if err = cfg.ValidateJira(); err != nil {
		return err
	}
	if c.Date == "" {
		c.Date = time.Now().Format(dateLayout)
	}
	r := reporter.New(client, jira.NewClient(cfg))
	report, err := r.Report(runCtx, reporter.TestRunResult{
		TestKey:     c.Test,
		OsType:      c.OsType,
		Environment: c.Environment,
		Date:        c.Date,
		Status:      c.Status,
		Comment:     c.Comment,
		Evidence:    c.Evidence,
		TestPlanId:  c.TestPlan,
		StartedOn:   startedOn,
		FinishedOn:  finishedOn,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "execution %s run %s\t", report.ExecutionIssueId, report.TestRunId)
	printStatus(xray.Status{Name: report.Status})
	return nil
}

type showConfigCmd struct{}

func (c *showConfigCmd) Execute([]string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	b, err := cfg.Dump()
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}
