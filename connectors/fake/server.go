// Package fake serves the parts of the Xray Cloud and Jira APIs the
// connectors use, backed by memory. It records how often each GraphQL
// operation was called so tests can assert on the traffic.
package fake

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	AuthPath    = "/api/v2/authenticate"
	GraphQLPath = "/api/v2/graphql"
	IssuePath   = "/rest/api/3/issue/{key}"
)

// Operations in the order they are matched against the query text.
var operations = []string{
	"getTestExecutions",
	"createTestExecution",
	"addTestsToTestExecution",
	"getTestRun",
	"updateTestRunStatus",
	"updateTestRunComment",
	"updateTestRun",
	"addEvidenceToTestRun",
	"addTestExecutionsToTestPlan",
	"getTestPlan",
}

var projectClause = regexp.MustCompile(`project\s*=\s*'([^']*)'`)

var statuses = map[string]string{
	"TODO":      "#A2A6AE",
	"EXECUTING": "#F1E069",
	"PASSED":    "#95C160",
	"FAILED":    "#D45D52",
	"ABORTED":   "#111111",
}

type Execution struct {
	IssueID      string
	Key          string
	Project      string
	Summary      string
	Environments []string
}

type Example struct {
	ID     string
	Status string
}

type Run struct {
	ID          string
	TestIssueID string
	ExecIssueID string
	Status      string
	Comment     string
	StartedOn   string
	FinishedOn  string
	Gherkin     string
	Examples    []Example
	// Evidence maps file name to base64 data
	Evidence map[string]string
}

type Issue struct {
	Key       string
	Id        string
	Summary   string
	IssueType string
}

type Server struct {
	ClientId     string
	ClientSecret string
	Token        string
	// AuthBody, when set, is returned by the authenticate endpoint whatever
	// the credentials
	AuthBody string
	JiraAuth string

	mu         sync.Mutex
	nextID     int
	calls      map[string]int
	authCalls  int
	executions []*Execution
	runs       map[string]*Run
	issues     map[string]Issue
	plans      map[string][]string
}

func NewServer(clientId, clientSecret string) *Server {
	return &Server{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		Token:        "fake-xray-token",
		nextID:       10000,
		calls:        map[string]int{},
		runs:         map[string]*Run{},
		issues:       map[string]Issue{},
		plans:        map[string][]string{},
	}
}

func (s *Server) Router() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc(AuthPath, s.authenticate).Methods("POST")
	router.HandleFunc(GraphQLPath, s.graphql).Methods("POST")
	router.HandleFunc(IssuePath, s.issue).Methods("GET")
	return router
}

// Calls returns how many times a GraphQL operation was requested.
func (s *Server) Calls(operation string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[operation]
}

func (s *Server) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

func (s *Server) newID() string {
	s.nextID++
	return fmt.Sprint(s.nextID)
}

// AddExecution stores an execution of project as if it had been created
// earlier.
func (s *Server) AddExecution(project, summary string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	s.executions = append(s.executions, &Execution{
		IssueID: id,
		Key:     project + "-" + id,
		Project: project,
		Summary: summary,
	})
	return id
}

func (s *Server) Executions() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Execution, 0, len(s.executions))
	for _, e := range s.executions {
		list = append(list, *e)
	}
	return list
}

func (s *Server) AddIssue(issue Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issues[issue.Key] = issue
}

func (s *Server) AddTestPlan(planId string, testIds ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[planId] = append(s.plans[planId], testIds...)
}

// SetRunDetails gives a run the scenario text and example results of a
// Cucumber test.
func (s *Server) SetRunDetails(runId, gherkin string, examples ...Example) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runId]
	if !ok {
		return false
	}
	r.Gherkin = gherkin
	r.Examples = append([]Example(nil), examples...)
	return true
}

// Run returns a copy of a test run.
func (s *Server) Run(runId string) (Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runId]
	if !ok {
		return Run{}, false
	}
	cp := *r
	cp.Examples = append([]Example(nil), r.Examples...)
	cp.Evidence = make(map[string]string, len(r.Evidence))
	for k, v := range r.Evidence {
		cp.Evidence[k] = v
	}
	return cp, true
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.authCalls++
	s.mu.Unlock()

	if s.AuthBody != "" {
		fmt.Fprint(w, s.AuthBody)
		return
	}
	var auth struct {
		ClientId     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&auth); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
		return
	}
	if auth.ClientId != s.ClientId || auth.ClientSecret != s.ClientSecret {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Authentication failed. Invalid client credentials!"}`)
		return
	}
	_ = json.NewEncoder(w).Encode(s.Token)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request) {
	if s.JiraAuth != "" && r.Header.Get("Authorization") != s.JiraAuth {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"errorMessages":["You do not have permission to see this issue."]}`)
		return
	}
	key := mux.Vars(r)["key"]
	s.mu.Lock()
	issue, ok := s.issues[key]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"errorMessages":["Issue does not exist or you do not have permission to see it."],"errors":{}}`)
		return
	}
	writeJSON(w, map[string]interface{}{
		"id":  issue.Id,
		"key": issue.Key,
		"fields": map[string]interface{}{
			"summary":   issue.Summary,
			"issuetype": map[string]string{"name": issue.IssueType},
			"status":    map[string]string{"name": "Open"},
		},
	})
}

func (s *Server) graphql(w http.ResponseWriter, r *http.Request) {
	if s.Token == "" || r.Header.Get("Authorization") != "Bearer "+s.Token {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"Authentication failed. Invalid token!"}`)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil || !gjson.ValidBytes(body) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"malformed request"}`)
		return
	}
	query := gjson.GetBytes(body, "query").String()
	vars := gjson.GetBytes(body, "variables")

	op := ""
	for _, o := range operations {
		if strings.Contains(query, o+"(") {
			op = o
			break
		}
	}
	log.WithField("operation", op).Trace("fake xray request")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++

	var data interface{}
	switch op {
	case "getTestExecutions":
		data = s.getTestExecutions(vars)
	case "createTestExecution":
		data, err = s.createTestExecution(vars)
	case "addTestsToTestExecution":
		data, err = s.addTestsToTestExecution(vars)
	case "getTestRun":
		data = s.getTestRun(vars)
	case "updateTestRunStatus":
		data, err = s.updateTestRunStatus(vars)
	case "updateTestRunComment":
		data, err = s.updateTestRunComment(vars)
	case "updateTestRun":
		data, err = s.updateTestRun(vars)
	case "addEvidenceToTestRun":
		data, err = s.addEvidenceToTestRun(vars)
	case "addTestExecutionsToTestPlan":
		data = s.addTestExecutionsToTestPlan(vars)
	case "getTestPlan":
		data = s.getTestPlan(vars)
	default:
		err = fmt.Errorf("unsupported operation in %q", query)
	}
	if err != nil {
		writeJSON(w, map[string]interface{}{
			"errors": []map[string]string{{"message": err.Error()}},
			"data":   nil,
		})
		return
	}
	writeJSON(w, map[string]interface{}{"data": data})
}

// getTestExecutions understands the "project = 'KEY'" clause only; any
// other jql lists every execution.
func (s *Server) getTestExecutions(vars gjson.Result) interface{} {
	limit := int(vars.Get("limit").Int())
	m := projectClause.FindStringSubmatch(vars.Get("jql").String())
	total := 0
	results := []interface{}{}
	for _, e := range s.executions {
		if m != nil && e.Project != m[1] {
			continue
		}
		total++
		if len(results) == limit {
			continue
		}
		results = append(results, map[string]interface{}{
			"issueId": e.IssueID,
			"jira":    map[string]string{"summary": e.Summary, "key": e.Key},
		})
	}
	return map[string]interface{}{
		"getTestExecutions": map[string]interface{}{
			"total":   total,
			"start":   0,
			"limit":   limit,
			"results": results,
		},
	}
}

func (s *Server) createTestExecution(vars gjson.Result) (interface{}, error) {
	project := vars.Get("jira.fields.project.key").String()
	if project == "" {
		return nil, fmt.Errorf("project is required")
	}
	id := s.newID()
	e := &Execution{
		IssueID: id,
		Key:     project + "-" + id,
		Project: project,
		Summary: vars.Get("jira.fields.summary").String(),
	}
	for _, env := range vars.Get("testEnvironments").Array() {
		e.Environments = append(e.Environments, env.String())
	}
	s.executions = append(s.executions, e)
	return map[string]interface{}{
		"createTestExecution": map[string]interface{}{
			"testExecution": map[string]interface{}{
				"issueId": e.IssueID,
				"jira":    map[string]string{"key": e.Key},
			},
			"warnings":                []string{},
			"createdTestEnvironments": e.Environments,
		},
	}, nil
}

func (s *Server) execution(id string) *Execution {
	for _, e := range s.executions {
		if e.IssueID == id {
			return e
		}
	}
	return nil
}

func (s *Server) findRun(testIssueId, execIssueId string) *Run {
	for _, r := range s.runs {
		if r.TestIssueID == testIssueId && r.ExecIssueID == execIssueId {
			return r
		}
	}
	return nil
}

func (s *Server) addTestsToTestExecution(vars gjson.Result) (interface{}, error) {
	execId := vars.Get("issueId").String()
	if s.execution(execId) == nil {
		return nil, fmt.Errorf("test execution with id %s not found", execId)
	}
	added := []string{}
	warning := ""
	for _, t := range vars.Get("testIssueIds").Array() {
		if s.findRun(t.String(), execId) != nil {
			warning = fmt.Sprintf("Test with id %s is already associated with the Test Execution", t.String())
			continue
		}
		id := s.newID()
		s.runs[id] = &Run{
			ID:          id,
			TestIssueID: t.String(),
			ExecIssueID: execId,
			Status:      "TODO",
			Evidence:    map[string]string{},
		}
		added = append(added, t.String())
	}
	return map[string]interface{}{
		"addTestsToTestExecution": map[string]interface{}{
			"addedTests": added,
			"warning":    warning,
		},
	}, nil
}

func statusOf(name string) map[string]string {
	return map[string]string{"name": name, "color": statuses[name], "description": strings.ToLower(name)}
}

func (s *Server) getTestRun(vars gjson.Result) interface{} {
	r := s.findRun(vars.Get("testIssueId").String(), vars.Get("testExecIssueId").String())
	if r == nil {
		return map[string]interface{}{"getTestRun": nil}
	}
	examples := make([]map[string]interface{}, 0, len(r.Examples))
	for _, e := range r.Examples {
		examples = append(examples, map[string]interface{}{
			"id":     e.ID,
			"status": statusOf(e.Status),
		})
	}
	return map[string]interface{}{
		"getTestRun": map[string]interface{}{
			"id":       r.ID,
			"status":   statusOf(r.Status),
			"gherkin":  r.Gherkin,
			"examples": examples,
		},
	}
}

func (s *Server) run(vars gjson.Result) (*Run, error) {
	id := vars.Get("id").String()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("test run with id %s not found", id)
	}
	return r, nil
}

func (s *Server) updateTestRunStatus(vars gjson.Result) (interface{}, error) {
	r, err := s.run(vars)
	if err != nil {
		return nil, err
	}
	status := vars.Get("status").String()
	if _, ok := statuses[status]; !ok {
		return nil, fmt.Errorf("status %q is not valid", status)
	}
	r.Status = status
	return map[string]interface{}{"updateTestRunStatus": "Status updated"}, nil
}

func (s *Server) updateTestRunComment(vars gjson.Result) (interface{}, error) {
	r, err := s.run(vars)
	if err != nil {
		return nil, err
	}
	r.Comment = vars.Get("comment").String()
	return map[string]interface{}{"updateTestRunComment": "Comment updated"}, nil
}

func (s *Server) updateTestRun(vars gjson.Result) (interface{}, error) {
	r, err := s.run(vars)
	if err != nil {
		return nil, err
	}
	r.Comment = vars.Get("comment").String()
	r.StartedOn = vars.Get("startedOn").String()
	r.FinishedOn = vars.Get("finishedOn").String()
	return map[string]interface{}{
		"updateTestRun": map[string]interface{}{"warnings": []string{}},
	}, nil
}

func (s *Server) addEvidenceToTestRun(vars gjson.Result) (interface{}, error) {
	r, err := s.run(vars)
	if err != nil {
		return nil, err
	}
	added := []string{}
	for _, e := range vars.Get("evidence").Array() {
		filename := e.Get("filename").String()
		r.Evidence[filename] = e.Get("data").String()
		added = append(added, r.ID+"/"+filename)
	}
	return map[string]interface{}{
		"addEvidenceToTestRun": map[string]interface{}{
			"addedEvidence": added,
			"warnings":      []string{},
		},
	}, nil
}

func (s *Server) addTestExecutionsToTestPlan(vars gjson.Result) interface{} {
	added := []string{}
	for _, e := range vars.Get("testExecIssueIds").Array() {
		added = append(added, e.String())
	}
	return map[string]interface{}{
		"addTestExecutionsToTestPlan": map[string]interface{}{
			"addedTestExecutions": added,
			"warning":             "",
		},
	}
}

func (s *Server) getTestPlan(vars gjson.Result) interface{} {
	tests, ok := s.plans[vars.Get("issueId").String()]
	if !ok {
		return map[string]interface{}{"getTestPlan": nil}
	}
	results := make([]map[string]string, 0, len(tests))
	for _, t := range tests {
		results = append(results, map[string]string{"issueId": t})
	}
	return map[string]interface{}{
		"getTestPlan": map[string]interface{}{
			"tests": map[string]interface{}{"results": results},
		},
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err)
	}
}
