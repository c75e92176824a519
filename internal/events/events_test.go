package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	got []Event
	err error
}

func (r *recorder) Publish(_ context.Context, evs ...Event) error {
	r.got = append(r.got, evs...)
	return r.err
}

func TestNew_StampsIDAndUTC(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	e := New(RemittanceCreated, at, "GA", "r-1", nil)
	assert.NotEqual(t, e.ID, New(RemittanceCreated, at, "GA", "r-1", nil).ID)
	assert.Equal(t, time.UTC, e.At.Location())
	assert.True(t, e.At.Equal(at))
}

func TestMulti_FansOutAndKeepsFirstError(t *testing.T) {
	boom := errors.New("boom")
	a, b := &recorder{err: boom}, &recorder{}
	err := Multi{a, b}.Publish(context.Background(), New(AgentRegistered, time.Now(), "", "GA", nil))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := NewLogPublisher(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, p.Publish(context.Background(), New(TokenDelisted, time.Now(), "GADMIN", "USDC", nil)))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "token.delisted", rec["type"])
	assert.Equal(t, "USDC", rec["subject"])
}

func TestEncode(t *testing.T) {
	e := New(RemittanceSettled, time.Unix(0, 0), "GAGENT", "r-9", map[string]string{"reference": "REF-1"})
	b, err := Encode(e)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"remittance.settled"`)
	assert.Contains(t, string(b), `"reference":"REF-1"`)
}

func TestKafkaPublisher_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaPublisher(nil, "t")
	assert.Error(t, err)
}
