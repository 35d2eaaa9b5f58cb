package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSNS struct {
	published []*sns.PublishInput
	err       error
}

func (f *fakeSNS) Publish(_ context.Context, input *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.published = append(f.published, input)
	return &sns.PublishOutput{MessageId: aws.String("msg-1")}, nil
}

func TestSNSSender_PublishesTransactionalSMS(t *testing.T) {
	client := &fakeSNS{}
	sender := NewSNSSender(client, nil)

	err := sender.SendSMS(context.Background(), "+15551230000", "Havenline case case-1 opened")

	require.NoError(t, err)
	require.Len(t, client.published, 1)
	input := client.published[0]
	assert.Equal(t, "+15551230000", *input.PhoneNumber)
	assert.Equal(t, "Havenline case case-1 opened", *input.Message)
	attr, ok := input.MessageAttributes["AWS.SNS.SMS.SMSType"]
	require.True(t, ok)
	assert.Equal(t, "Transactional", *attr.StringValue)
}

func TestSNSSender_PublishFailure(t *testing.T) {
	sender := NewSNSSender(&fakeSNS{err: errors.New("opted out")}, nil)

	err := sender.SendSMS(context.Background(), "+15551230000", "alert")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "opted out")
}

func TestSNSSender_RequiresRecipient(t *testing.T) {
	client := &fakeSNS{}
	sender := NewSNSSender(client, nil)

	err := sender.SendSMS(context.Background(), "", "alert")

	require.Error(t, err)
	assert.Empty(t, client.published)
}

func TestNewSNSSender_NilClientDisablesChannel(t *testing.T) {
	assert.Nil(t, NewSNSSender(nil, nil))
}
