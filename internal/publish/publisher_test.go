package publish

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishFinalized(context.Background(), LeadFinalized{SessionID: "s"}))
	p.Close()
}

func TestLeadFinalizedJSON(t *testing.T) {
	lead := LeadFinalized{
		SessionID:     "s1",
		OriginalQuery: "EGFR inhibitors",
		ThesisVersion: 2,
		Thesis:        json.RawMessage(`{"unit":"assets"}`),
		FinalizedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(lead)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "s1", decoded["session_id"])
	assert.Equal(t, float64(2), decoded["thesis_version"])
	assert.NotContains(t, decoded, "email")
	assert.Equal(t, map[string]interface{}{"unit": "assets"}, decoded["thesis"])
}

// Runs against a JetStream-enabled server when TEST_NATS_URL is set.
func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	p, err := NewNATSPublisher(url, "", logger)
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, p.Connected())
	assert.NoError(t, p.PublishFinalized(context.Background(), LeadFinalized{
		SessionID:     "s1",
		OriginalQuery: "CAR-T therapies",
		ThesisVersion: 1,
		Thesis:        json.RawMessage(`{}`),
	}))
}
