// Package evolution implements whatsapp.Provider on top of the Evolution API
// HTTP server.
package evolution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/tidwall/gjson"
	"github.com/wavite/wavite/pkg/wavite/whatsapp"
	"go.uber.org/zap"
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// MaxRetries bounds retries of idempotent reads. Zero means 3.
	MaxRetries uint64
	Logger     *zap.Logger
}

// Client talks to one Evolution API server.
type Client struct {
	baseURL    string
	apiKey     string
	http       *http.Client
	maxRetries uint64
	log        *zap.Logger
}

var _ whatsapp.Provider = (*Client)(nil)

// StatusError is a non-2xx answer from the Evolution API.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("evolution api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("evolution api returned %d: %s", e.StatusCode, e.Message)
}

// New returns a client using a pooled cleanhttp client.
func New(opts Options) *Client {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = opts.Timeout
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 15 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		http:       httpClient,
		maxRetries: opts.MaxRetries,
		log:        opts.Logger.Named("evolution"),
	}
}

// CreateGroup creates a group on the instance and returns its JID. It is
// not retried: a retry after a lost response would create a second group.
func (c *Client) CreateGroup(ctx context.Context, instance string, req whatsapp.CreateGroupRequest) (string, error) {
	participants := req.Participants
	if participants == nil {
		participants = []string{}
	}
	body := map[string]any{
		"subject":      req.Subject,
		"description":  req.Description,
		"participants": participants,
	}
	res, err := c.do(ctx, http.MethodPost, "/group/create/"+url.PathEscape(instance), nil, body)
	if err != nil {
		return "", err
	}
	for _, path := range []string{"id", "groupMetadata.id", "gid"} {
		if jid := res.Get(path).String(); jid != "" {
			return jid, nil
		}
	}
	return "", errors.New("evolution api: create group response has no id")
}

// InviteCode fetches the group's current invite link.
func (c *Client) InviteCode(ctx context.Context, instance, jid string) (whatsapp.Invite, error) {
	var res gjson.Result
	err := c.retry(ctx, func() (err error) {
		res, err = c.do(ctx, http.MethodGet, "/group/inviteCode/"+url.PathEscape(instance), url.Values{"groupJid": {jid}}, nil)
		return err
	})
	if err != nil {
		return whatsapp.Invite{}, err
	}
	if link := res.Get("inviteUrl").String(); link != "" {
		return whatsapp.NewInvite(link), nil
	}
	if code := res.Get("inviteCode").String(); code != "" {
		return whatsapp.NewInvite(code), nil
	}
	return whatsapp.Invite{}, errors.New("evolution api: invite code response is empty")
}

// FetchGroup returns the group's subject and live participant count.
func (c *Client) FetchGroup(ctx context.Context, instance, jid string) (whatsapp.GroupInfo, error) {
	var res gjson.Result
	err := c.retry(ctx, func() (err error) {
		res, err = c.do(ctx, http.MethodGet, "/group/findGroupInfos/"+url.PathEscape(instance), url.Values{"groupJid": {jid}}, nil)
		return err
	})
	if err != nil {
		return whatsapp.GroupInfo{}, err
	}
	info := groupInfo(res)
	if info.JID == "" {
		info.JID = jid
	}
	return info, nil
}

// FetchGroups lists every group the instance belongs to, without
// participant lists.
func (c *Client) FetchGroups(ctx context.Context, instance string) ([]whatsapp.GroupInfo, error) {
	var res gjson.Result
	err := c.retry(ctx, func() (err error) {
		res, err = c.do(ctx, http.MethodGet, "/group/fetchAllGroups/"+url.PathEscape(instance), url.Values{"getParticipants": {"false"}}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return nil, errors.New("evolution api: fetch groups response is not a list")
	}
	var groups []whatsapp.GroupInfo
	res.ForEach(func(_, value gjson.Result) bool {
		if info := groupInfo(value); info.JID != "" {
			groups = append(groups, info)
		}
		return true
	})
	return groups, nil
}

// SendText posts a text message to the group. It is not retried: a timeout
// after delivery would duplicate the message.
func (c *Client) SendText(ctx context.Context, instance, jid, text string) error {
	_, err := c.do(ctx, http.MethodPost, "/message/sendText/"+url.PathEscape(instance), nil, map[string]any{
		"number": jid,
		"text":   text,
	})
	return err
}

// AddParticipants adds phone numbers to the group.
func (c *Client) AddParticipants(ctx context.Context, instance, jid string, participants []string) error {
	_, err := c.do(ctx, http.MethodPost, "/group/updateParticipant/"+url.PathEscape(instance), url.Values{"groupJid": {jid}}, map[string]any{
		"action":       "add",
		"participants": participants,
	})
	return err
}

func groupInfo(v gjson.Result) whatsapp.GroupInfo {
	size := int(v.Get("size").Int())
	if size == 0 {
		size = int(v.Get("participants.#").Int())
	}
	return whatsapp.GroupInfo{
		JID:          v.Get("id").String(),
		Subject:      v.Get("subject").String(),
		Participants: size,
	}
}

// retry runs op with exponential backoff. Client errors (4xx) are final.
func (c *Client) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second

	return backoff.RetryNotify(func() error {
		err := op()
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx), func(err error, next time.Duration) {
		c.log.Warn("retrying evolution api call", zap.Error(err), zap.Duration("next", next))
	})
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (gjson.Result, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return gjson.Result{}, err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return gjson.Result{}, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if len(raw) > 0 && !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("evolution api: invalid json from %s", path)
	}
	return gjson.ParseBytes(raw), nil
}

// errorMessage pulls the human readable part out of an Evolution error body.
func errorMessage(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return strings.TrimSpace(string(raw))
	}
	res := gjson.ParseBytes(raw)
	for _, path := range []string{"response.message", "message", "error"} {
		v := res.Get(path)
		if !v.Exists() {
			continue
		}
		if v.IsArray() {
			parts := make([]string, 0, len(v.Array()))
			for _, p := range v.Array() {
				parts = append(parts, p.String())
			}
			return strings.Join(parts, "; ")
		}
		return v.String()
	}
	return ""
}
