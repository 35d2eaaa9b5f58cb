package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts []*s3.PutObjectInput
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, input)
	return &s3.PutObjectOutput{}, nil
}

func archivableState() *ConversationState {
	state := NewConversationState("conv-1", "user-1", time.Now())
	state.AppendHistory(ChatRoleUser, "I feel low", time.Now())
	state.AppendHistory(ChatRoleAssistant, "I'm here with you.", time.Now())
	state.EscalationInvoked = true
	state.CaseID = "case-1"
	state.EndAssessment = &ConversationAssessment{
		OverallRiskLevel: RiskHigh,
		RiskTrend:        TrendStable,
		ShouldEscalate:   true,
	}
	return state
}

func TestArchive_WritesDatedAssessmentDocument(t *testing.T) {
	client := &fakeS3{}
	archive := NewAssessmentArchive(client, "havenline-assessments", nil)
	require.True(t, archive.Enabled())

	require.NoError(t, archive.Archive(context.Background(), archivableState()))

	require.Len(t, client.puts, 1)
	put := client.puts[0]
	assert.Equal(t, "havenline-assessments", *put.Bucket)
	assert.True(t, strings.HasPrefix(*put.Key, "assessments/v1/by-date/"))
	assert.True(t, strings.HasSuffix(*put.Key, "/conv-1.json"))
	assert.Equal(t, "application/json", *put.ContentType)

	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	var doc archivedAssessment
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "conv-1", doc.ConversationID)
	assert.True(t, doc.Escalated)
	assert.Equal(t, "case-1", doc.CaseID)
	assert.Equal(t, 2, doc.MessageCount)
	require.NotNil(t, doc.Assessment)
	assert.Equal(t, RiskHigh, doc.Assessment.OverallRiskLevel)
}

func TestArchive_DisabledConfigurationsAreNoOps(t *testing.T) {
	client := &fakeS3{}

	noBucket := NewAssessmentArchive(client, "", nil)
	assert.False(t, noBucket.Enabled())
	assert.NoError(t, noBucket.Archive(context.Background(), archivableState()))

	var nilArchive *AssessmentArchive
	assert.False(t, nilArchive.Enabled())
	assert.NoError(t, nilArchive.Archive(context.Background(), archivableState()))

	assert.Empty(t, client.puts)
}

func TestArchive_SkipsStatesWithoutAssessment(t *testing.T) {
	client := &fakeS3{}
	archive := NewAssessmentArchive(client, "havenline-assessments", nil)

	state := NewConversationState("conv-1", "user-1", time.Now())
	require.NoError(t, archive.Archive(context.Background(), state))
	require.NoError(t, archive.Archive(context.Background(), nil))

	assert.Empty(t, client.puts)
}

func TestArchive_SurfacesPutFailure(t *testing.T) {
	archive := NewAssessmentArchive(&fakeS3{err: errors.New("access denied")}, "havenline-assessments", nil)

	err := archive.Archive(context.Background(), archivableState())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}
