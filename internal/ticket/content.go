package ticket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	readability "codeberg.org/readeck/go-readability/v2"
)

// Content is the channel-specific payload of a ticket. Each variant keeps
// the raw fields of its source channel and knows how to derive a plain-text
// body and attachment list from them.
type Content interface {
	// Type returns the wire tag of the variant ("email", "discord", ...).
	Type() string
	// Sender identifies who created the content, in channel-native form.
	Sender() string
	// SentAt is when the content was produced at the source, if known.
	SentAt() time.Time
	// ExtractBody returns the main plain-text body.
	ExtractBody() string
	// ExtractAttachments returns attachment references, if any.
	ExtractAttachments() []string
	// Metadata returns channel-specific fields useful for routing and
	// resolution callbacks.
	Metadata() map[string]any
}

// EmailContent is a ticket ingested from an inbound email.
type EmailContent struct {
	SenderEmail    string            `json:"sender_email"`
	RecipientEmail string            `json:"recipient_email"`
	Subject        string            `json:"subject"`
	Body           string            `json:"body"`
	Timestamp      time.Time         `json:"timestamp"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Attachments    []string          `json:"attachments,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
}

func (c *EmailContent) Type() string      { return "email" }
func (c *EmailContent) Sender() string    { return c.SenderEmail }
func (c *EmailContent) SentAt() time.Time { return c.Timestamp }

// ExtractBody returns the email body as plain text. HTML bodies are run
// through readability so quoted chrome and markup don't leak into triage.
func (c *EmailContent) ExtractBody() string {
	if !looksLikeHTML(c.Body) {
		return strings.TrimSpace(c.Body)
	}
	base, _ := url.Parse("message:body")
	article, err := readability.FromReader(strings.NewReader(c.Body), base)
	if err != nil {
		return strings.TrimSpace(c.Body)
	}
	var buf bytes.Buffer
	if err := article.RenderText(&buf); err != nil {
		return strings.TrimSpace(c.Body)
	}
	text := strings.TrimSpace(buf.String())
	if text == "" {
		return strings.TrimSpace(c.Body)
	}
	return text
}

func (c *EmailContent) ExtractAttachments() []string { return c.Attachments }

func (c *EmailContent) Metadata() map[string]any {
	return map[string]any{
		"sender_email":    c.SenderEmail,
		"recipient_email": c.RecipientEmail,
		"subject":         c.Subject,
		"thread_id":       c.ThreadID,
	}
}

// looksLikeHTML is a cheap heuristic: real HTML email bodies always carry
// tags; plain text with a stray '<' is left alone unless it closes one.
func looksLikeHTML(s string) bool {
	s = strings.ToLower(s)
	if strings.Contains(s, "<html") || strings.Contains(s, "<body") || strings.Contains(s, "<div") {
		return true
	}
	return strings.Contains(s, "</") && strings.Contains(s, ">")
}

// DiscordContent is a ticket ingested from a Discord message.
type DiscordContent struct {
	ChannelID   string   `json:"channel_id"`
	UserID      string   `json:"user_id"`
	MessageID   string   `json:"message_id"`
	MessageText string   `json:"message_text"`
	Username    string   `json:"username"`
	GuildID     string   `json:"guild_id,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

func (c *DiscordContent) Type() string                 { return "discord" }
func (c *DiscordContent) Sender() string               { return c.Username }
func (c *DiscordContent) SentAt() time.Time            { return time.Time{} }
func (c *DiscordContent) ExtractBody() string          { return c.MessageText }
func (c *DiscordContent) ExtractAttachments() []string { return c.Attachments }

func (c *DiscordContent) Metadata() map[string]any {
	return map[string]any{
		"channel_id": c.ChannelID,
		"user_id":    c.UserID,
		"message_id": c.MessageID,
		"username":   c.Username,
		"guild_id":   c.GuildID,
	}
}

// GitHubContent is a ticket ingested from a GitHub issue event.
type GitHubContent struct {
	Repo        string   `json:"repo"`
	IssueNumber int      `json:"issue_number"`
	Author      string   `json:"author"`
	IssueTitle  string   `json:"issue_title"`
	IssueBody   string   `json:"issue_body"`
	Labels      []string `json:"labels,omitempty"`
	URL         string   `json:"url,omitempty"`
}

func (c *GitHubContent) Type() string                 { return "github" }
func (c *GitHubContent) Sender() string               { return c.Author }
func (c *GitHubContent) SentAt() time.Time            { return time.Time{} }
func (c *GitHubContent) ExtractBody() string          { return c.IssueBody }
func (c *GitHubContent) ExtractAttachments() []string { return nil }

func (c *GitHubContent) Metadata() map[string]any {
	return map[string]any{
		"repo":         c.Repo,
		"issue_number": c.IssueNumber,
		"author":       c.Author,
		"labels":       c.Labels,
		"url":          c.URL,
	}
}

// FormContent is a ticket submitted through a web form.
type FormContent struct {
	FormFields     map[string]any `json:"form_fields"`
	SubmissionTime time.Time      `json:"submission_time"`
	FormID         string         `json:"form_id,omitempty"`
	SubmitterEmail string         `json:"submitter_email,omitempty"`
	SubmitterName  string         `json:"submitter_name,omitempty"`
}

func (c *FormContent) Type() string      { return "form" }
func (c *FormContent) Sender() string    { return c.SubmitterEmail }
func (c *FormContent) SentAt() time.Time { return c.SubmissionTime }

// ExtractBody flattens the form fields into "key: value" lines so the
// classifier sees every answer.
func (c *FormContent) ExtractBody() string {
	if msg, ok := c.FormFields["message"].(string); ok && len(c.FormFields) == 1 {
		return msg
	}
	var b strings.Builder
	for k, v := range c.FormFields {
		fmt.Fprintf(&b, "%s: %v\n", k, v)
	}
	return strings.TrimSpace(b.String())
}

func (c *FormContent) ExtractAttachments() []string { return nil }

func (c *FormContent) Metadata() map[string]any {
	return map[string]any{
		"form_id":         c.FormID,
		"submitter_email": c.SubmitterEmail,
		"submitter_name":  c.SubmitterName,
	}
}

// SMSContent is a ticket ingested from an inbound SMS webhook.
type SMSContent struct {
	SenderPhoneNumber    string `json:"sender_phone_number"`
	RecipientPhoneNumber string `json:"recipient_phone_number"`
	MessageBody          string `json:"message_body"`
	MessageSID           string `json:"message_sid,omitempty"`
}

func (c *SMSContent) Type() string                 { return "sms" }
func (c *SMSContent) Sender() string               { return c.SenderPhoneNumber }
func (c *SMSContent) SentAt() time.Time            { return time.Time{} }
func (c *SMSContent) ExtractBody() string          { return c.MessageBody }
func (c *SMSContent) ExtractAttachments() []string { return nil }

func (c *SMSContent) Metadata() map[string]any {
	return map[string]any{
		"sender_phone_number":    c.SenderPhoneNumber,
		"recipient_phone_number": c.RecipientPhoneNumber,
		"message_sid":            c.MessageSID,
	}
}

// contentEnvelope is the tagged wire form shared by all variants.
type contentEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"-"`
}

// MarshalContent serializes c with its type tag inlined alongside the
// variant's own fields.
func MarshalContent(c Content) ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	fields["type"] = json.RawMessage(fmt.Sprintf("%q", c.Type()))
	return json.Marshal(fields)
}

// UnmarshalContent decodes a tagged content payload into the matching
// variant. Unknown type tags are an error.
func UnmarshalContent(data []byte) (Content, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("ticket: decode content: %w", err)
	}
	var c Content
	switch tag.Type {
	case "email":
		c = &EmailContent{}
	case "discord":
		c = &DiscordContent{}
	case "github":
		c = &GitHubContent{}
	case "form":
		c = &FormContent{}
	case "sms":
		c = &SMSContent{}
	default:
		return nil, fmt.Errorf("ticket: unknown content type %q", tag.Type)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("ticket: decode %s content: %w", tag.Type, err)
	}
	return c, nil
}
