// fake_xray serves an in-memory Xray and Jira for trying the reporter
// without a cloud account. Point XRAY_BASE_URL at http://<addr>/api/v2 and
// JIRA_BASE_URL at http://<addr>.
package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/KhaoulaSoussi/testcafe-reporter-xray-jira/connectors/fake"

	log "github.com/sirupsen/logrus"
)

func main() {
	addr := os.Getenv("FAKE_XRAY_ADDR")
	if addr == "" {
		addr = "127.0.0.1:10012"
	}
	server := fake.NewServer(os.Getenv("XRAY_CLIENT_ID"), os.Getenv("XRAY_CLIENT_SECRET"))

	// FAKE_JIRA_TESTS holds KEY=id pairs separated by commas, e.g. "ET-1=10001,ET-2=10002"
	for _, pair := range strings.Split(os.Getenv("FAKE_JIRA_TESTS"), ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		server.AddIssue(fake.Issue{Key: kv[0], Id: kv[1], IssueType: "Test"})
	}

	log.WithField("addr", addr).Info("fake xray listening")
	log.Fatal(http.ListenAndServe(addr, server.Router()))
}
