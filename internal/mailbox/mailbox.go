// Package mailbox implements C8: Gmail-backed search, fetch, label-modify
// and archive operations for the Fetch stage, plus sender categorization
// against SenderStore and OAuth token lifecycle against TokenStore.
package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
	"github.com/planetaryescape/ai-digest-sub001/internal/store"
)

// BatchDelay is the pause between list pages, per §4.2.
const BatchDelay = 1 * time.Second

// BatchGetSize is the Gmail API's effective batch-get group size.
const BatchGetSize = 100

// CleanupCap bounds the unbounded `cleanup` mode query.
const CleanupCap = 2000

// MaxHistoricalWindowDays is model.MaxHistoricalWindowDays under a local
// name, used by buildQuery's window-length check and its error message.
const MaxHistoricalWindowDays = model.MaxHistoricalWindowDays

// ErrAuthInvalid is returned when Gmail rejects the refresh token.
var ErrAuthInvalid = fmt.Errorf("gmail authentication invalid")

// Config configures Mailbox's Gmail client.
type Config struct {
	ClientID     string
	ClientSecret string
	UserEmail    string
	MaxResults   int64
}

// Mailbox is C8.
type Mailbox struct {
	service *gmail.Service
	userID  string
	cfg     Config
	tokens  *store.TokenStore
	senders *store.SenderStore
}

// New constructs a Mailbox backed by the stored OAuth refresh token for
// store.DefaultUserID, falling back to envRefreshToken if no token is on
// record yet (first-run bootstrap).
func New(ctx context.Context, cfg Config, tokens *store.TokenStore, senders *store.SenderStore, envRefreshToken string) (*Mailbox, error) {
	refreshToken := envRefreshToken
	if tok, err := tokens.Get(store.DefaultUserID); err == nil && tok != nil && tok.RefreshToken != "" {
		refreshToken = tok.RefreshToken
	}

	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: refreshToken, TokenType: "Bearer"}
	httpClient := oauthCfg.Client(ctx, token)

	service, err := gmail.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	userID := "me"
	if cfg.UserEmail != "" {
		userID = cfg.UserEmail
	}

	return &Mailbox{service: service, userID: userID, cfg: cfg, tokens: tokens, senders: senders}, nil
}

// FetchResult is Fetch's return value.
type FetchResult struct {
	Emails      []model.EmailItem
	KnownAIIDs  []string
	UnknownIDs  []string
	KnownNonAI  int
}

// Fetch implements the §4.2 contract: Fetch(mode, window?) → (emails,
// metadata, known_ai_ids, unknown_ids).
func (m *Mailbox) Fetch(ctx context.Context, mode model.RunMode, window *model.DateWindow) (*FetchResult, error) {
	query, err := buildQuery(mode, window)
	if err != nil {
		return nil, err
	}

	ids, err := m.listMessageIDs(ctx, query, mode == model.ModeCleanup)
	if err != nil {
		if isAuthError(err) {
			return nil, fmt.Errorf("%w: %v", ErrAuthInvalid, err)
		}
		return nil, fmt.Errorf("list messages: %w", err)
	}

	emails := make([]model.EmailItem, 0, len(ids))
	for start := 0; start < len(ids); start += BatchGetSize {
		end := start + BatchGetSize
		if end > len(ids) {
			end = len(ids)
		}
		for _, id := range ids[start:end] {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			item, err := m.getFullMessage(id)
			if err != nil {
				slog.Warn("mailbox: failed to fetch message, skipping", "id", id, "error", err)
				continue
			}
			emails = append(emails, *item)
		}
	}

	result := &FetchResult{}
	for _, e := range emails {
		rec, err := m.senders.Get(e.Sender.Address)
		if err != nil {
			slog.Warn("mailbox: sender lookup failed, treating as unknown", "sender", e.Sender.Address, "error", err)
			result.UnknownIDs = append(result.UnknownIDs, e.ID)
			continue
		}
		if rec == nil {
			result.UnknownIDs = append(result.UnknownIDs, e.ID)
			continue
		}
		known := rec.IsKnown(1.0, time.Now().UnixMilli())
		switch {
		case rec.Classification == model.ClassificationAI && known:
			result.KnownAIIDs = append(result.KnownAIIDs, e.ID)
		case rec.Classification == model.ClassificationNonAI && known:
			result.KnownNonAI++
		default:
			result.UnknownIDs = append(result.UnknownIDs, e.ID)
		}
	}
	result.Emails = emails

	if err := m.tokens.TouchLastUsed(store.DefaultUserID); err != nil {
		slog.Warn("mailbox: failed to touch token last_used", "error", err)
	}

	return result, nil
}

func buildQuery(mode model.RunMode, window *model.DateWindow) (string, error) {
	switch mode {
	case model.ModeWeekly:
		return "in:inbox newer_than:7d", nil
	case model.ModeCleanup:
		return "in:inbox", nil
	case model.ModeHistorical:
		if window == nil {
			return "", fmt.Errorf("historical mode requires a date window")
		}
		if window.Start == "" || window.End == "" {
			return "", fmt.Errorf("historical mode requires both start and end dates")
		}
		start, err := time.Parse("2006-01-02", window.Start)
		if err != nil {
			return "", fmt.Errorf("start date is not valid: %w", err)
		}
		end, err := time.Parse("2006-01-02", window.End)
		if err != nil {
			return "", fmt.Errorf("end date is not valid: %w", err)
		}
		if start.After(end) {
			return "", fmt.Errorf("start date must not be after end date")
		}
		if end.After(time.Now()) {
			return "", fmt.Errorf("end date must not be in the future")
		}
		if end.Sub(start) > MaxHistoricalWindowDays*24*time.Hour {
			return "", fmt.Errorf("historical window must not exceed %d days", MaxHistoricalWindowDays)
		}
		// Gmail's before: is exclusive, so the query ends the day after End.
		return fmt.Sprintf("after:%s before:%s", start.Format("2006/1/2"), end.AddDate(0, 0, 1).Format("2006/1/2")), nil
	default:
		return "", fmt.Errorf("unknown run mode: %s", mode)
	}
}

func (m *Mailbox) listMessageIDs(ctx context.Context, query string, capAt2000 bool) ([]string, error) {
	var ids []string
	pageToken := ""
	first := true

	for {
		if !first {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(BatchDelay):
			}
		}
		first = false

		req := m.service.Users.Messages.List(m.userID).Q(query)
		if m.cfg.MaxResults > 0 {
			req = req.MaxResults(m.cfg.MaxResults)
		}
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}

		resp, err := req.Do()
		if err != nil {
			return nil, err
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}

		if capAt2000 && len(ids) >= CleanupCap {
			return ids[:CleanupCap], nil
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return ids, nil
}

func (m *Mailbox) getFullMessage(id string) (*model.EmailItem, error) {
	msg, err := m.service.Users.Messages.Get(m.userID, id).Format("full").Do()
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return parseMessage(msg)
}

func parseMessage(msg *gmail.Message) (*model.EmailItem, error) {
	item := &model.EmailItem{ID: msg.Id, ThreadID: msg.ThreadId, Labels: msg.LabelIds, Snippet: msg.Snippet}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "subject":
				item.Subject = h.Value
			case "from":
				item.Sender = parseSender(h.Value)
			case "date":
				if d, err := mail.ParseDate(h.Value); err == nil {
					item.Date = d
				}
			}
		}
		item.Body = extractBody(msg.Payload)
	}

	return item, nil
}

func parseSender(from string) model.Sender {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return model.Sender{Address: from}
	}
	return model.Sender{Name: addr.Name, Address: addr.Address}
}

func extractBody(payload *gmail.MessagePart) string {
	var plain, html string
	if payload.MimeType == "text/plain" && payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload.Body.Data, "=")); err == nil {
			plain = string(decoded)
		}
	} else if payload.MimeType == "text/html" && payload.Body != nil && payload.Body.Data != "" {
		if decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(payload.Body.Data, "=")); err == nil {
			html = string(decoded)
		}
	}

	for _, part := range payload.Parts {
		partPlain, partHTML := splitExtractBody(part)
		if plain == "" {
			plain = partPlain
		}
		if html == "" {
			html = partHTML
		}
	}

	if plain != "" {
		return plain
	}
	return htmlToText(html)
}

func splitExtractBody(payload *gmail.MessagePart) (plain, html string) {
	body := extractBody(payload)
	if payload.MimeType == "text/html" {
		return "", body
	}
	return body, ""
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)
var spacePattern = regexp.MustCompile(`\s+`)

func htmlToText(html string) string {
	if html == "" {
		return ""
	}
	text := tagPattern.ReplaceAllString(html, " ")
	replacer := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#39;", "'", "&nbsp;", " ")
	text = replacer.Replace(text)
	return strings.TrimSpace(spacePattern.ReplaceAllString(text, " "))
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid_grant") || strings.Contains(msg, "401") || strings.Contains(msg, "403")
}

// ModifyLabels batch-removes/adds labels on a set of message IDs, used by
// Archive to strip the INBOX label.
func (m *Mailbox) ModifyLabels(ctx context.Context, ids []string, addLabels, removeLabels []string) error {
	if len(ids) == 0 {
		return nil
	}
	req := &gmail.BatchModifyMessagesRequest{Ids: ids, AddLabelIds: addLabels, RemoveLabelIds: removeLabels}
	return m.service.Users.Messages.BatchModify(m.userID, req).Context(ctx).Do()
}

// Archive removes the INBOX label from the given message IDs. Per §4.7,
// archive failures are non-critical: callers should log, not fail the run.
func (m *Mailbox) Archive(ctx context.Context, ids []string) error {
	return m.ModifyLabels(ctx, ids, nil, []string{"INBOX"})
}
