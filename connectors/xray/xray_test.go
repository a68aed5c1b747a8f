package xray

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/common/config"
	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/connectors/fake"

	"github.com/go-openapi/strfmt"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		Xray: config.Xray{
			ClientId:     "client",
			ClientSecret: "secret",
			BaseURL:      url + "/api/v2",
			Timeout:      5 * time.Second,
		},
		Jira: config.Jira{
			ProjectKey: "ET",
			BaseURL:    url,
		},
	}
}

var _ = Describe("Xray client", func() {
	var (
		ctx    context.Context
		xray   *fake.Server
		server *httptest.Server
		client *Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		xray = fake.NewServer("client", "secret")
		server = httptest.NewServer(xray.Router())
		client = NewClient(testConfig(server.URL))
	})

	AfterEach(func() {
		server.Close()
	})

	Context("looking up test executions", func() {
		It("should list the executions of the project", func() {
			first := xray.AddExecution("ET", "Test Execution for qa 2024-01-01")
			second := xray.AddExecution("ET", "Test Execution for qa 2024-01-02")

			executions, err := client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(executions).To(Equal([]TestExecution{
				{IssueID: first, Summary: "Test Execution for qa 2024-01-01", Key: "ET-" + first},
				{IssueID: second, Summary: "Test Execution for qa 2024-01-02", Key: "ET-" + second},
			}))
		})

		It("should leave out the executions of other projects", func() {
			xray.AddExecution("OPS", "Test Execution for qa 2024-01-01")
			want := xray.AddExecution("ET", "Test Execution for qa 2024-01-01")

			executions, err := client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(executions).To(HaveLen(1))
			Expect(executions[0].IssueID).To(Equal(want))

			cfg := testConfig(server.URL)
			cfg.Jira.ProjectKey = "OTHER"
			other := NewClient(cfg)
			_, found, err := other.FindExecutionIDByName(ctx, "Test Execution for qa 2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
		})

		It("should refuse to work without a project key", func() {
			cfg := testConfig(server.URL)
			cfg.Jira.ProjectKey = ""
			client = NewClient(cfg)

			_, err := client.ListTestExecutions(ctx)
			Expect(errors.Is(err, ErrNoProjectKey)).To(BeTrue())
			_, err = client.CreateTestExecution(ctx, "linux", "staging", "2024-01-01")
			Expect(errors.Is(err, ErrNoProjectKey)).To(BeTrue())
			Expect(xray.Calls("getTestExecutions")).To(Equal(0))
			Expect(xray.Calls("createTestExecution")).To(Equal(0))
		})

		It("should truncate the list at the execution limit", func() {
			for i := 0; i < ExecutionLimit+5; i++ {
				xray.AddExecution("ET", "bulk")
			}
			executions, err := client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(executions).To(HaveLen(ExecutionLimit))
		})

		It("should return the first execution with an exactly matching summary", func() {
			xray.AddExecution("ET", "Test Execution for QA 2024-01-01")
			want := xray.AddExecution("ET", "Test Execution for qa 2024-01-01")
			xray.AddExecution("ET", "Test Execution for qa 2024-01-01")

			id, found, err := client.FindExecutionIDByName(ctx, "Test Execution for qa 2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(id).To(Equal(want))
		})

		It("should report a missing execution as not found rather than an error", func() {
			xray.AddExecution("ET", "Test Execution for qa 2024-01-01")

			id, found, err := client.FindExecutionIDByName(ctx, "Test Execution for qa 2024-01-01 ")
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
			Expect(id).To(BeEmpty())
		})

		It("should fetch the list again on every lookup", func() {
			for i := 0; i < 3; i++ {
				_, _, err := client.FindExecutionIDByName(ctx, "anything")
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(xray.Calls("getTestExecutions")).To(Equal(3))
		})
	})

	Context("creating test executions", func() {
		It("should create an execution when the project has none", func() {
			id, err := client.CreateTestExecution(ctx, "linux", "staging", "2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			Expect(id).ToNot(BeEmpty())

			Expect(xray.Calls("getTestExecutions")).To(Equal(1))
			Expect(xray.Calls("createTestExecution")).To(Equal(1))
			Expect(xray.Executions()).To(ConsistOf(fake.Execution{
				IssueID:      id,
				Key:          "ET-" + id,
				Project:      "ET",
				Summary:      "Test Execution for staging 2024-01-01",
				Environments: []string{"linux"},
			}))
		})

		It("should reuse the execution for the same environment and date", func() {
			first, err := client.CreateTestExecution(ctx, "linux", "staging", "2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			second, err := client.CreateTestExecution(ctx, "windows", "staging", "2024-01-01")
			Expect(err).ToNot(HaveOccurred())

			Expect(second).To(Equal(first))
			Expect(xray.Calls("getTestExecutions")).To(Equal(2))
			Expect(xray.Calls("createTestExecution")).To(Equal(1))
		})

		It("should create distinct executions for distinct environments and dates", func() {
			a, err := client.CreateTestExecution(ctx, "linux", "staging", "2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			b, err := client.CreateTestExecution(ctx, "linux", "staging", "2024-01-02")
			Expect(err).ToNot(HaveOccurred())
			c, err := client.CreateTestExecution(ctx, "linux", "production", "2024-01-01")
			Expect(err).ToNot(HaveOccurred())

			Expect(a).ToNot(Equal(b))
			Expect(a).ToNot(Equal(c))
			Expect(b).ToNot(Equal(c))
			Expect(xray.Calls("createTestExecution")).To(Equal(3))
		})

		It("should keep quotes in caller values out of the query text", func() {
			id, err := client.CreateTestExecution(ctx, `li"nux`, `sta"ging`, "2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			Expect(xray.Executions()[0].Summary).To(Equal(`Test Execution for sta"ging 2024-01-01`))

			again, err := client.CreateTestExecution(ctx, `li"nux`, `sta"ging`, "2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			Expect(again).To(Equal(id))
		})
	})

	Context("updating test runs", func() {
		var execId, runId string

		BeforeEach(func() {
			var err error
			execId, err = client.CreateTestExecution(ctx, "linux", "staging", "2024-01-01")
			Expect(err).ToNot(HaveOccurred())
			Expect(client.AddTestToExecution(ctx, "20001", execId)).To(Succeed())

			run, err := client.GetTestRun(ctx, "20001", execId)
			Expect(err).ToNot(HaveOccurred())
			Expect(run.Status.Name).To(Equal("TODO"))
			runId = run.ID
		})

		It("should return the scenario and example results of a run", func() {
			Expect(xray.SetRunDetails(runId, "Scenario Outline: login as <user>",
				fake.Example{ID: "ex-1", Status: "PASSED"},
				fake.Example{ID: "ex-2", Status: "FAILED"},
			)).To(BeTrue())

			run, err := client.GetTestRun(ctx, "20001", execId)
			Expect(err).ToNot(HaveOccurred())
			Expect(run.Gherkin).To(Equal("Scenario Outline: login as <user>"))
			Expect(run.Examples).To(HaveLen(2))
			Expect(run.Examples[0].ID).To(Equal("ex-1"))
			Expect(run.Examples[0].Status.Name).To(Equal("PASSED"))
			Expect(run.Examples[1].Status).To(Equal(Status{Name: "FAILED", Color: "#D45D52", Description: "failed"}))
		})

		It("should ignore adding the same test twice", func() {
			Expect(client.AddTestToExecution(ctx, "20001", execId)).To(Succeed())
			Expect(xray.Calls("addTestsToTestExecution")).To(Equal(2))
		})

		It("should fail to add a test to an unknown execution", func() {
			err := client.AddTestToExecution(ctx, "20001", "404")
			Expect(err).To(MatchError(ContainSubstring("not found")))
		})

		It("should report a missing run", func() {
			_, err := client.GetTestRun(ctx, "20002", execId)
			Expect(errors.Is(err, ErrTestRunNotFound)).To(BeTrue())
		})

		It("should set the status of a run", func() {
			Expect(client.UpdateTestRunStatus(ctx, runId, "PASSED")).To(Succeed())

			run, err := client.GetTestRun(ctx, "20001", execId)
			Expect(err).ToNot(HaveOccurred())
			Expect(run.Status).To(Equal(Status{Name: "PASSED", Color: "#95C160", Description: "passed"}))
		})

		It("should surface an unknown status as the remote error", func() {
			err := client.UpdateTestRunStatus(ctx, runId, "GREEN")
			Expect(err).To(MatchError(ContainSubstring(`status "GREEN" is not valid`)))
		})

		It("should overwrite the comment of a run", func() {
			Expect(client.AddCommentToTestRun(ctx, runId, "first")).To(Succeed())
			Expect(client.AddCommentToTestRun(ctx, runId, "second")).To(Succeed())

			run, ok := xray.Run(runId)
			Expect(ok).To(BeTrue())
			Expect(run.Comment).To(Equal("second"))
		})

		It("should record start and finish times", func() {
			started := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
			Expect(client.UpdateTestRun(ctx, runId, "done", strfmt.DateTime(started), strfmt.DateTime{})).To(Succeed())

			run, _ := xray.Run(runId)
			Expect(run.Comment).To(Equal("done"))
			Expect(run.StartedOn).To(Equal("2024-01-01T10:00:00Z"))
			Expect(run.FinishedOn).To(BeEmpty())
		})

		It("should replace evidence attached with the same index", func() {
			_, err := client.AddEvidenceToTestRun(ctx, runId, "Zmlyc3Q=", 0)
			Expect(err).ToNot(HaveOccurred())
			res, err := client.AddEvidenceToTestRun(ctx, runId, "c2Vjb25k", 0)
			Expect(err).ToNot(HaveOccurred())
			Expect(res.AddedEvidence).To(HaveLen(1))

			run, _ := xray.Run(runId)
			Expect(run.Evidence).To(Equal(map[string]string{"evidence0.png": "c2Vjb25k"}))
		})

		It("should keep evidence attached with different indices", func() {
			for i, data := range []string{"YQ==", "Yg==", "Yw=="} {
				_, err := client.AddEvidenceToTestRun(ctx, runId, data, i)
				Expect(err).ToNot(HaveOccurred())
			}
			run, _ := xray.Run(runId)
			Expect(run.Evidence).To(HaveLen(3))
			Expect(run.Evidence).To(HaveKeyWithValue("evidence2.png", "Yw=="))
		})
	})

	Context("test plans", func() {
		It("should list the tests of a plan", func() {
			xray.AddTestPlan("30000", "20001", "20002")
			tests, err := client.GetTestPlanTests(ctx, "30000")
			Expect(err).ToNot(HaveOccurred())
			Expect(tests).To(Equal([]string{"20001", "20002"}))
		})

		It("should fail for an unknown plan", func() {
			_, err := client.GetTestPlanTests(ctx, "30001")
			Expect(err).To(HaveOccurred())
		})

		It("should link an execution to a plan", func() {
			Expect(client.AddTestExecutionToTestPlan(ctx, "30000", "10001")).To(Succeed())
			Expect(xray.Calls("addTestExecutionsToTestPlan")).To(Equal(1))
		})
	})

	Context("authentication", func() {
		It("should authenticate once and reuse the token", func() {
			for i := 0; i < 3; i++ {
				_, err := client.ListTestExecutions(ctx)
				Expect(err).ToNot(HaveOccurred())
			}
			Expect(xray.AuthCalls()).To(Equal(1))
		})

		It("should keep an empty token and fail every call with an authorization error", func() {
			xray.AuthBody = `""`

			_, err := client.ListTestExecutions(ctx)
			var se *StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.StatusCode).To(Equal(http.StatusUnauthorized))

			_, err = client.ListTestExecutions(ctx)
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(xray.AuthCalls()).To(Equal(1))
		})

		It("should cache a rejected credential response as the token", func() {
			cfg := testConfig(server.URL)
			cfg.Xray.ClientSecret = "wrong"
			client = NewClient(cfg)

			_, err := client.ListTestExecutions(ctx)
			var se *StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.StatusCode).To(Equal(http.StatusUnauthorized))

			_, err = client.CreateTestExecution(ctx, "linux", "staging", "2024-01-01")
			Expect(err).To(HaveOccurred())
			Expect(xray.AuthCalls()).To(Equal(1))
			Expect(xray.Calls("createTestExecution")).To(Equal(0))
		})

		It("should authenticate again after the token is reset", func() {
			xray.AuthBody = `""`
			_, err := client.ListTestExecutions(ctx)
			Expect(err).To(HaveOccurred())

			xray.AuthBody = ""
			client.ResetToken()
			_, err = client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(xray.AuthCalls()).To(Equal(2))
		})

		It("should not cache a token that is not JSON", func() {
			xray.AuthBody = "<html>gateway</html>"
			_, err := client.ListTestExecutions(ctx)
			Expect(err).To(MatchError(ContainSubstring("unable to parse xray authentication response")))

			xray.AuthBody = ""
			_, err = client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(xray.AuthCalls()).To(Equal(2))
		})

		It("should authenticate again once the token expires", func() {
			cfg := testConfig(server.URL)
			cfg.Xray.TokenTTL = 50 * time.Millisecond
			client = NewClient(cfg)

			_, err := client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			time.Sleep(100 * time.Millisecond)
			_, err = client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(xray.AuthCalls()).To(Equal(2))
		})
	})

	Context("server failures", func() {
		var failures int32

		BeforeEach(func() {
			server.Close()
			failures = 1
			router := xray.Router()
			server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == fake.GraphQLPath && atomic.AddInt32(&failures, -1) >= 0 {
					w.WriteHeader(http.StatusServiceUnavailable)
					return
				}
				router.ServeHTTP(w, r)
			}))
		})

		It("should not retry by default", func() {
			client = NewClient(testConfig(server.URL))
			_, err := client.ListTestExecutions(ctx)
			var se *StatusError
			Expect(errors.As(err, &se)).To(BeTrue())
			Expect(se.StatusCode).To(Equal(http.StatusServiceUnavailable))
			Expect(xray.Calls("getTestExecutions")).To(Equal(0))
		})

		It("should retry server errors when configured to", func() {
			cfg := testConfig(server.URL)
			cfg.Xray.Retries = 2
			client = NewClient(cfg)
			_, err := client.ListTestExecutions(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(xray.Calls("getTestExecutions")).To(Equal(1))
		})
	})
})

var _ = Describe("Evidence encoding", func() {
	It("should round trip file content", func() {
		content := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0xff, 0x10}
		dir, err := os.MkdirTemp("", "evidence")
		Expect(err).ToNot(HaveOccurred())
		defer os.RemoveAll(dir)
		path := filepath.Join(dir, "shot.png")
		Expect(os.WriteFile(path, content, 0644)).To(Succeed())

		encoded, err := EncodeFileAsBase64(path)
		Expect(err).ToNot(HaveOccurred())
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		Expect(err).ToNot(HaveOccurred())
		Expect(decoded).To(Equal(content))
	})

	It("should fail for a missing file", func() {
		_, err := EncodeFileAsBase64(filepath.Join(os.TempDir(), "does-not-exist.png"))
		Expect(err).To(HaveOccurred())
	})

	It("should name evidence by index", func() {
		Expect(EvidenceFilename(3)).To(Equal("evidence3.png"))
	})
})

var _ = Describe("Retry classification", func() {
	It("should retry server errors only", func() {
		Expect(retryable(&StatusError{StatusCode: http.StatusBadGateway})).To(BeTrue())
		Expect(retryable(&StatusError{StatusCode: http.StatusUnauthorized})).To(BeFalse())
		Expect(retryable(errors.New("graphql: status is not valid"))).To(BeFalse())
		Expect(retryable(context.Canceled)).To(BeFalse())
	})
})
