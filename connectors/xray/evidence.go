package xray

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/machinebox/graphql"
	"github.com/pkg/errors"
)

const evidenceMimeType = "png"

type AttachmentData struct {
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type EvidenceResult struct {
	AddedEvidence []string `json:"addedEvidence"`
	Warnings      []string `json:"warnings"`
}

// EvidenceFilename is the name evidence number i is attached under.
func EvidenceFilename(i int) string {
	return fmt.Sprintf("evidence%d.png", i)
}

// AddEvidenceToTestRun attaches base64 encoded PNG data to a run as
// evidence<i>.png. Attaching again with the same i replaces that file, so
// callers number their evidence.
func (c *Client) AddEvidenceToTestRun(ctx context.Context, testRunId, data string, i int) (*EvidenceResult, error) {
	req := graphql.NewRequest(addEvidenceToTestRunMutation)
	req.Var("id", testRunId)
	req.Var("evidence", []AttachmentData{{
		Filename: EvidenceFilename(i),
		MimeType: evidenceMimeType,
		Data:     data,
	}})

	var resp struct {
		AddEvidenceToTestRun EvidenceResult `json:"addEvidenceToTestRun"`
	}
	if err := c.run(ctx, req, &resp); err != nil {
		return nil, errors.Wrapf(err, "failed to add %s to test run %s", EvidenceFilename(i), testRunId)
	}
	for _, w := range resp.AddEvidenceToTestRun.Warnings {
		c.log.Warn(w)
	}
	return &resp.AddEvidenceToTestRun, nil
}

// EncodeFileAsBase64 reads a file and returns its standard base64 encoding.
func EncodeFileAsBase64(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to read evidence file")
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
