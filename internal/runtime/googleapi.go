// Package runtime adapts the Gmail REST API to gmail.Client. Each call is
// paced by the quota limiter and wrapped in the retry policy.
package runtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/inboxd/internal/gmail"
	"github.com/joshsymonds/inboxd/internal/rate"
	"github.com/joshsymonds/inboxd/internal/retry"
)

const (
	me           = "me"
	listPageSize = 500
)

// MetadataHeaders are requested with FormatMetadata.
var MetadataHeaders = []string{
	"From", "To", "Subject", "Date", "Message-ID", "References", "In-Reply-To", "Reply-To", "List-Id",
}

// TokenSource is an account's refreshing token source; *auth.TokenSource
// satisfies it.
type TokenSource interface {
	oauth2.TokenSource
	Invalidate(ctx context.Context) error
}

// Provider implements gmail.Client over google.golang.org/api/gmail/v1,
// building one service per account on first use.
type Provider struct {
	Sources  func(ctx context.Context, account string) (TokenSource, error)
	Limiter  rate.Limiter
	Policy   retry.Policy
	Logger   *slog.Logger
	Endpoint string
	Base     http.RoundTripper

	mu       sync.Mutex
	accounts map[string]*accountService
}

type accountService struct {
	svc *gm.Service
	ts  TokenSource
}

func (p *Provider) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Provider) service(ctx context.Context, account string) (*accountService, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if as, ok := p.accounts[account]; ok {
		return as, nil
	}
	ts, err := p.Sources(ctx, account)
	if err != nil {
		return nil, err
	}
	// oauth2.Transport is used directly so Invalidate on ts takes effect
	// on the next request.
	client := &http.Client{Transport: &oauth2.Transport{Source: ts, Base: p.Base}}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if p.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.Endpoint))
	}
	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service for %s: %w", account, err)
	}
	if p.accounts == nil {
		p.accounts = map[string]*accountService{}
	}
	as := &accountService{svc: svc, ts: ts}
	p.accounts[account] = as
	return as, nil
}

// call runs fn with pacing and retries on account's service.
func (p *Provider) call(ctx context.Context, account, name string, units int, fn func(ctx context.Context, svc *gm.Service) error) error {
	as, err := p.service(ctx, account)
	if err != nil {
		return err
	}
	limiter := p.Limiter
	if limiter == nil {
		limiter = rate.Unlimited{}
	}
	hooks := retry.Hooks{OnUnauthorized: as.ts.Invalidate, Logger: p.logger()}
	return retry.Do(ctx, p.Policy, name, hooks, func(ctx context.Context) error {
		if err := limiter.WaitN(ctx, units); err != nil {
			return err
		}
		return fn(ctx, as.svc)
	})
}

func (p *Provider) List(ctx context.Context, account string, q gc.Query, maxResults int) ([]gc.MessageID, error) {
	var ids []gc.MessageID
	token := ""
	for {
		size := listPageSize
		if maxResults > 0 && maxResults-len(ids) < size {
			size = maxResults - len(ids)
		}
		var res *gm.ListMessagesResponse
		err := p.call(ctx, account, "messages.list", rate.UnitsMessagesList, func(ctx context.Context, svc *gm.Service) error {
			call := svc.Users.Messages.List(me).MaxResults(int64(size))
			if q.Raw != "" {
				call = call.Q(q.Raw)
			}
			if token != "" {
				call = call.PageToken(token)
			}
			var err error
			res, err = call.Context(ctx).Do()
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		for _, m := range res.Messages {
			ids = append(ids, gc.MessageID(m.Id))
		}
		if res.NextPageToken == "" || (maxResults > 0 && len(ids) >= maxResults) {
			return ids, nil
		}
		token = res.NextPageToken
	}
}

func (p *Provider) Get(ctx context.Context, account string, id gc.MessageID, format gc.Format) (gc.Message, error) {
	if format == "" {
		format = gc.FormatMetadata
	}
	var msg *gm.Message
	err := p.call(ctx, account, "messages.get", rate.UnitsMessagesGet, func(ctx context.Context, svc *gm.Service) error {
		call := svc.Users.Messages.Get(me, string(id)).Format(string(format))
		if format == gc.FormatMetadata {
			call = call.MetadataHeaders(MetadataHeaders...)
		}
		var err error
		msg, err = call.Context(ctx).Do()
		return err
	})
	if err != nil {
		return gc.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return toMessage(msg)
}

func toMessage(msg *gm.Message) (gc.Message, error) {
	out := gc.Message{
		ID:       gc.MessageID(msg.Id),
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Headers:  map[string]string{},
	}
	for _, l := range msg.LabelIds {
		out.LabelIDs = append(out.LabelIDs, gc.LabelID(l))
	}
	if msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			if _, dup := out.Headers[h.Name]; !dup {
				out.Headers[h.Name] = h.Value
			}
		}
	}
	if msg.Raw != "" {
		raw, err := base64.URLEncoding.DecodeString(msg.Raw)
		if err != nil {
			raw, err = base64.RawURLEncoding.DecodeString(msg.Raw)
		}
		if err != nil {
			return gc.Message{}, fmt.Errorf("decode raw message %s: %w", msg.Id, err)
		}
		out.Raw = raw
	}
	return out, nil
}

func (p *Provider) Send(ctx context.Context, account string, raw []byte, threadID string) (gc.MessageID, error) {
	req := &gm.Message{Raw: base64.URLEncoding.EncodeToString(raw), ThreadId: threadID}
	var sent *gm.Message
	err := p.call(ctx, account, "messages.send", rate.UnitsMessagesSend, func(ctx context.Context, svc *gm.Service) error {
		var err error
		sent, err = svc.Users.Messages.Send(me, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return gc.MessageID(sent.Id), nil
}

func (p *Provider) Trash(ctx context.Context, account string, id gc.MessageID) error {
	err := p.call(ctx, account, "messages.trash", rate.UnitsMessagesTrash, func(ctx context.Context, svc *gm.Service) error {
		_, err := svc.Users.Messages.Trash(me, string(id)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("trash %s: %w", id, err)
	}
	return nil
}

func (p *Provider) Untrash(ctx context.Context, account string, id gc.MessageID) error {
	err := p.call(ctx, account, "messages.untrash", rate.UnitsMessagesTrash, func(ctx context.Context, svc *gm.Service) error {
		_, err := svc.Users.Messages.Untrash(me, string(id)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("untrash %s: %w", id, err)
	}
	return nil
}

func (p *Provider) Modify(ctx context.Context, account string, id gc.MessageID, ops gc.ModifyOps) error {
	req := &gm.ModifyMessageRequest{
		AddLabelIds:    labelStrings(ops.Add),
		RemoveLabelIds: labelStrings(ops.Remove),
	}
	err := p.call(ctx, account, "messages.modify", rate.UnitsMessagesModify, func(ctx context.Context, svc *gm.Service) error {
		_, err := svc.Users.Messages.Modify(me, string(id), req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("modify %s: %w", id, err)
	}
	return nil
}

// UnreadCount reports the unread count of the INBOX label.
func (p *Provider) UnreadCount(ctx context.Context, account string) (int, error) {
	var label *gm.Label
	err := p.call(ctx, account, "labels.get", rate.UnitsLabelsGet, func(ctx context.Context, svc *gm.Service) error {
		var err error
		label, err = svc.Users.Labels.Get(me, string(gc.LabelInbox)).Context(ctx).Do()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return int(label.MessagesUnread), nil
}

func (p *Provider) Profile(ctx context.Context, account string) (gc.Profile, error) {
	var prof *gm.Profile
	err := p.call(ctx, account, "users.getProfile", rate.UnitsGetProfile, func(ctx context.Context, svc *gm.Service) error {
		var err error
		prof, err = svc.Users.GetProfile(me).Context(ctx).Do()
		return err
	})
	if err != nil {
		return gc.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return gc.Profile{EmailAddress: prof.EmailAddress, MessagesTotal: prof.MessagesTotal}, nil
}

func labelStrings(labels []gc.LabelID) []string {
	if len(labels) == 0 {
		return nil
	}
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}

var _ gc.Client = (*Provider)(nil)
