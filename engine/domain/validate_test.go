package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateDocument(t *testing.T) {
	d := Document{ID: "file_abc", SizeBytes: 10, Promotion: PromotionPending}
	require.NoError(t, ValidateDocument(d))

	d.ID = "abc"
	assert.Error(t, ValidateDocument(d))

	d.ID = "file_abc"
	d.SizeBytes = -1
	assert.Error(t, ValidateDocument(d))

	d.SizeBytes = 10
	d.Promotion = "bogus"
	assert.Error(t, ValidateDocument(d))
}

func TestValidateProcessedDocument(t *testing.T) {
	pd := ProcessedDocument{DocumentType: ClassProject, Project: &ProjectBlock{Name: "x"}}
	require.NoError(t, ValidateProcessedDocument(pd))

	pd.Project = nil
	assert.Error(t, ValidateProcessedDocument(pd))

	pd.DocumentType = "bogus"
	assert.Error(t, ValidateProcessedDocument(pd))
}

func TestDemoteToOther(t *testing.T) {
	pd := ProcessedDocument{DocumentType: ClassPatent, Patent: &PatentBlock{Title: "x"}}
	demoted := DemoteToOther(pd, "missing required field")
	assert.Equal(t, ClassOther, demoted.DocumentType)
	require.NotNil(t, demoted.Error)
	assert.Equal(t, "missing required field", demoted.Error.Reason)
}

func TestValidateJob(t *testing.T) {
	j := Job{Status: JobPending}
	require.NoError(t, ValidateJob(j))

	j.Status = JobProcessing
	assert.Error(t, ValidateJob(j)) // no ClaimedBy

	j.ClaimedBy = "worker-1"
	assert.NoError(t, ValidateJob(j))

	j.Status = "bogus"
	assert.Error(t, ValidateJob(j))
}
