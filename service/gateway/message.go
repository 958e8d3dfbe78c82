package gateway

import (
	"time"

	"PRelay/tools/decode"
	"PRelay/tools/errs"
)

// Message is the display form of a gateway message. The gateway's shape is only
// partially known; ParseMessage validates the key and defaults everything else.
type Message struct {
	ID        string    `json:"id"`
	RemoteJid string    `json:"remoteJid"`
	FromMe    bool      `json:"fromMe"`
	PushName  string    `json:"pushName"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

type rawMessage struct {
	Key struct {
		ID        string `json:"id"`
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
	} `json:"key"`
	PushName         string `json:"pushName"`
	MessageType      string `json:"messageType"`
	MessageTimestamp int64  `json:"messageTimestamp"`
	Message          struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage struct {
			Caption string `json:"caption"`
		} `json:"imageMessage"`
	} `json:"message"`
}

var now = time.Now

// ParseMessage turns one raw gateway message into a Message. A missing key or key.id
// is an error; a missing timestamp becomes now, a missing type "unknown".
func ParseMessage(m map[string]any) (Message, error) {
	if _, ok := m["key"].(map[string]any); !ok {
		return Message{}, errs.ErrBadRequest.WrapMsg("message without key")
	}
	raw, err := decode.Map[rawMessage](scalarTimestamp(m))
	if err != nil {
		return Message{}, errs.ErrBadRequest.WrapErr(err, "decode message")
	}
	if raw.Key.ID == "" {
		return Message{}, errs.ErrBadRequest.WrapMsg("message without key.id")
	}

	out := Message{
		ID:        raw.Key.ID,
		RemoteJid: raw.Key.RemoteJid,
		FromMe:    raw.Key.FromMe,
		PushName:  raw.PushName,
		Type:      raw.MessageType,
	}
	switch {
	case raw.Message.Conversation != "":
		out.Text = raw.Message.Conversation
	case raw.Message.ExtendedTextMessage.Text != "":
		out.Text = raw.Message.ExtendedTextMessage.Text
	case raw.Message.ImageMessage.Caption != "":
		out.Text = raw.Message.ImageMessage.Caption
	}
	if out.Type == "" {
		out.Type = "unknown"
	}
	if raw.MessageTimestamp > 0 {
		out.Timestamp = time.Unix(raw.MessageTimestamp, 0).UTC()
	} else {
		out.Timestamp = now().UTC()
	}
	return out, nil
}

// scalarTimestamp drops a messageTimestamp that is not a plain number or string
// (some gateway builds send a {low, high} long), so it defaults instead of failing.
func scalarTimestamp(m map[string]any) map[string]any {
	switch m["messageTimestamp"].(type) {
	case nil, float64, int64, int, string:
		return m
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	delete(cp, "messageTimestamp")
	return cp
}

// ParseMessages parses what it can; entries that fail are counted, not fatal.
func ParseMessages(raws []map[string]any) ([]Message, int) {
	out := make([]Message, 0, len(raws))
	bad := 0
	for _, r := range raws {
		msg, err := ParseMessage(r)
		if err != nil {
			bad++
			continue
		}
		out = append(out, msg)
	}
	return out, bad
}
