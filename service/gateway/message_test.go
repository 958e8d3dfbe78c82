package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"PRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func obj(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestParseMessage(t *testing.T) {
	msg, err := ParseMessage(obj(t, `{
		"key": {"id": "3EB0A1", "remoteJid": "5511999@s.whatsapp.net", "fromMe": true},
		"pushName": "Ana",
		"messageType": "conversation",
		"messageTimestamp": 1700000000,
		"message": {"conversation": "oi"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, Message{
		ID:        "3EB0A1",
		RemoteJid: "5511999@s.whatsapp.net",
		FromMe:    true,
		PushName:  "Ana",
		Text:      "oi",
		Timestamp: time.Unix(1700000000, 0).UTC(),
		Type:      "conversation",
	}, msg)
}

func TestParseMessageTextSources(t *testing.T) {
	msg, err := ParseMessage(obj(t, `{"key":{"id":"1"},"message":{"extendedTextMessage":{"text":"long"}},"messageTimestamp":"1700000001"}`))
	require.NoError(t, err)
	assert.Equal(t, "long", msg.Text)
	assert.Equal(t, int64(1700000001), msg.Timestamp.Unix())

	msg, err = ParseMessage(obj(t, `{"key":{"id":"2"},"message":{"imageMessage":{"caption":"pic"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "pic", msg.Text)
}

func TestParseMessageDefaults(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := now
	now = func() time.Time { return fixed }
	defer func() { now = prev }()

	msg, err := ParseMessage(obj(t, `{"key":{"id":"1"},"messageTimestamp":{"low":1,"high":0}}`))
	require.NoError(t, err)
	assert.Equal(t, fixed, msg.Timestamp)
	assert.Equal(t, "unknown", msg.Type)
	assert.Empty(t, msg.Text)
}

func TestParseMessageRequiresKey(t *testing.T) {
	for _, s := range []string{`{}`, `{"key":"x"}`, `{"key":{"remoteJid":"a"}}`} {
		_, err := ParseMessage(obj(t, s))
		require.Error(t, err, s)
		assert.True(t, errs.ErrBadRequest.Is(err))
	}
}

func TestParseMessagesCountsBad(t *testing.T) {
	msgs, bad := ParseMessages([]map[string]any{
		obj(t, `{"key":{"id":"1"}}`),
		obj(t, `{"nokey":true}`),
		obj(t, `{"key":{"id":"2"}}`),
	})
	assert.Len(t, msgs, 2)
	assert.Equal(t, 1, bad)
}
