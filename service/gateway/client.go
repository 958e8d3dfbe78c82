package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"PRelay/tools/decode"
	"PRelay/tools/errs"
)

// Instance is one gateway session (a connected phone number).
type Instance struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Owner  string `json:"owner"`
}

type Chat struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Unread int    `json:"unread"`
}

// Client is what the diagnostics need from the messaging gateway.
type Client interface {
	Health(ctx context.Context) error
	Instances(ctx context.Context) ([]Instance, error)
	Chats(ctx context.Context, instance string) ([]Chat, error)
	Messages(ctx context.Context, instance, remoteJid string) ([]map[string]any, error)
}

// HTTPClient talks to the gateway REST API with the shared credential in the apikey header.
type HTTPClient struct {
	base   string
	apikey string
	hc     *http.Client
}

func NewHTTPClient(base, apikey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		base:   strings.TrimRight(base, "/"),
		apikey: apikey,
		hc:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/", nil)
	return err
}

func (c *HTTPClient) Instances(ctx context.Context) ([]Instance, error) {
	body, err := c.do(ctx, http.MethodGet, "/instance/fetchInstances", nil)
	if err != nil {
		return nil, err
	}
	var raws []map[string]any
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.ErrProtocolMismatch.WrapErr(err, "decode instances")
	}
	out := make([]Instance, 0, len(raws))
	for _, r := range raws {
		if inst, ok := parseInstance(r); ok {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (c *HTTPClient) Chats(ctx context.Context, instance string) ([]Chat, error) {
	body, err := c.do(ctx, http.MethodPost, "/chat/findChats/"+url.PathEscape(instance), map[string]any{})
	if err != nil {
		return nil, err
	}
	var raws []map[string]any
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, errs.ErrProtocolMismatch.WrapErr(err, "decode chats")
	}
	out := make([]Chat, 0, len(raws))
	for _, r := range raws {
		ch, err := decode.Map[struct {
			ID          string `json:"id"`
			RemoteJid   string `json:"remoteJid"`
			Name        string `json:"name"`
			PushName    string `json:"pushName"`
			UnreadCount int    `json:"unreadCount"`
		}](r)
		if err != nil {
			continue
		}
		id := ch.RemoteJid
		if id == "" {
			id = ch.ID
		}
		name := ch.Name
		if name == "" {
			name = ch.PushName
		}
		out = append(out, Chat{ID: id, Name: name, Unread: ch.UnreadCount})
	}
	return out, nil
}

// Messages returns raw message objects; callers parse them with ParseMessage.
func (c *HTTPClient) Messages(ctx context.Context, instance, remoteJid string) ([]map[string]any, error) {
	query := map[string]any{"where": map[string]any{"key": map[string]any{"remoteJid": remoteJid}}}
	body, err := c.do(ctx, http.MethodPost, "/chat/findMessages/"+url.PathEscape(instance), query)
	if err != nil {
		return nil, err
	}
	return messageRecords(body)
}

// messageRecords accepts a bare array or {"messages": {"records": [...]}}.
func messageRecords(body []byte) ([]map[string]any, error) {
	var arr []map[string]any
	if err := json.Unmarshal(body, &arr); err == nil {
		return arr, nil
	}
	var wrapped struct {
		Messages struct {
			Records []map[string]any `json:"records"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, errs.ErrProtocolMismatch.WrapErr(err, "decode messages")
	}
	return wrapped.Messages.Records, nil
}

// parseInstance handles both {"instance": {"instanceName", "status"}} and {"name", "connectionStatus"}.
func parseInstance(r map[string]any) (Instance, bool) {
	if inner, ok := r["instance"].(map[string]any); ok {
		r = inner
	}
	v, err := decode.Map[struct {
		Name             string `json:"name"`
		InstanceName     string `json:"instanceName"`
		Status           string `json:"status"`
		ConnectionStatus string `json:"connectionStatus"`
		Owner            string `json:"owner"`
		OwnerJid         string `json:"ownerJid"`
	}](r)
	if err != nil {
		return Instance{}, false
	}
	inst := Instance{Name: v.Name, Status: v.ConnectionStatus, Owner: v.OwnerJid}
	if inst.Name == "" {
		inst.Name = v.InstanceName
	}
	if inst.Status == "" {
		inst.Status = v.Status
	}
	if inst.Owner == "" {
		inst.Owner = v.Owner
	}
	return inst, inst.Name != ""
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, errs.ErrBadRequest.WrapErr(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, errs.ErrBadRequest.WrapErr(err, "build request", "path", path)
	}
	req.Header.Set("apikey", c.apikey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classifyTransport(err, method+" "+path)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, errs.ErrTransportError.WrapErr(err, "read body", "path", path)
	}
	if err := statusError(resp.StatusCode, path, out); err != nil {
		return nil, err
	}
	return out, nil
}

func statusError(code int, path string, body []byte) error {
	if code < 300 {
		return nil
	}
	sample := string(body)
	if len(sample) > 200 {
		sample = sample[:200]
	}
	detail := fmt.Sprintf("%s -> %d", path, code)
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return errs.ErrAuthRejected.WrapMsg(detail, "body", sample)
	case code == http.StatusNotFound:
		return errs.ErrNotFound.WrapMsg(detail, "body", sample)
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return errs.ErrTransportTimeout.WrapMsg(detail)
	default:
		return errs.ErrTransportError.WrapMsg(detail, "body", sample)
	}
}

func classifyTransport(err error, what string) error {
	var ne net.Error
	var oe *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return errs.ErrTransportTimeout.WrapErr(err, what)
	case errors.As(err, &oe):
		return errs.ErrUnreachable.WrapErr(err, what)
	default:
		return errs.ErrTransportError.WrapErr(err, what)
	}
}
