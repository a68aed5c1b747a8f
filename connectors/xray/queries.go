package xray

// Caller supplied values travel as GraphQL variables and are never spliced
// into the query text.
const (
	getTestExecutionsQuery = `query ($jql: String, $limit: Int!) {
	getTestExecutions(jql: $jql, limit: $limit) {
		total
		start
		limit
		results {
			issueId
			jira(fields: ["summary", "key"])
		}
	}
}`

	createTestExecutionMutation = `mutation ($testEnvironments: [String], $jira: JSON!) {
	createTestExecution(testIssueIds: [], testEnvironments: $testEnvironments, jira: $jira) {
		testExecution {
			issueId
			jira(fields: ["key"])
		}
		warnings
		createdTestEnvironments
	}
}`

	addTestsToTestExecutionMutation = `mutation ($issueId: String!, $testIssueIds: [String]!) {
	addTestsToTestExecution(issueId: $issueId, testIssueIds: $testIssueIds) {
		addedTests
		warning
	}
}`

	getTestRunQuery = `query ($testIssueId: String, $testExecIssueId: String) {
	getTestRun(testIssueId: $testIssueId, testExecIssueId: $testExecIssueId) {
		id
		status {
			name
			color
			description
		}
		gherkin
		examples {
			id
			status {
				name
				color
				description
			}
		}
	}
}`

	updateTestRunStatusMutation = `mutation ($id: String!, $status: String!) {
	updateTestRunStatus(id: $id, status: $status)
}`

	updateTestRunCommentMutation = `mutation ($id: String!, $comment: String!) {
	updateTestRunComment(id: $id, comment: $comment)
}`

	updateTestRunMutation = `mutation ($id: String!, $comment: String, $startedOn: String, $finishedOn: String) {
	updateTestRun(id: $id, comment: $comment, startedOn: $startedOn, finishedOn: $finishedOn) {
		warnings
	}
}`

	addEvidenceToTestRunMutation = `mutation ($id: String!, $evidence: [AttachmentDataInput]!) {
	addEvidenceToTestRun(id: $id, evidence: $evidence) {
		addedEvidence
		warnings
	}
}`

	addTestExecutionsToTestPlanMutation = `mutation ($issueId: String!, $testExecIssueIds: [String]) {
	addTestExecutionsToTestPlan(issueId: $issueId, testExecIssueIds: $testExecIssueIds) {
		addedTestExecutions
		warning
	}
}`

	getTestPlanQuery = `query ($issueId: String, $limit: Int!) {
	getTestPlan(issueId: $issueId) {
		tests(limit: $limit) {
			results {
				issueId
			}
		}
	}
}`
)
