package ticket

import (
	"strings"
	"testing"
	"time"
)

func TestUnmarshalContentVariants(t *testing.T) {
	tests := []struct {
		name string
		json string
		want string
	}{
		{"email", `{"type":"email","sender_email":"a@b.c","recipient_email":"s@b.c","subject":"hi","body":"text"}`, "email"},
		{"discord", `{"type":"discord","channel_id":"1","user_id":"2","message_id":"3","message_text":"yo","username":"dave"}`, "discord"},
		{"github", `{"type":"github","repo":"org/app","issue_number":42,"author":"kim","issue_title":"bug","issue_body":"it broke"}`, "github"},
		{"form", `{"type":"form","form_fields":{"message":"help"},"submission_time":"2026-03-01T10:00:00Z"}`, "form"},
		{"sms", `{"type":"sms","sender_phone_number":"+15550001","recipient_phone_number":"+15550002","message_body":"URGENT"}`, "sms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := UnmarshalContent([]byte(tt.json))
			if err != nil {
				t.Fatalf("UnmarshalContent: %v", err)
			}
			if c.Type() != tt.want {
				t.Errorf("Type() = %q, want %q", c.Type(), tt.want)
			}
		})
	}
}

func TestUnmarshalContentUnknownType(t *testing.T) {
	if _, err := UnmarshalContent([]byte(`{"type":"carrier_pigeon"}`)); err == nil {
		t.Fatal("expected error for unknown content type")
	}
}

func TestMarshalContentInlinesTag(t *testing.T) {
	c := &SMSContent{SenderPhoneNumber: "+15550001", RecipientPhoneNumber: "+15550002", MessageBody: "hi"}
	data, err := MarshalContent(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"type":"sms"`) {
		t.Errorf("missing type tag: %s", data)
	}
	back, err := UnmarshalContent(data)
	if err != nil {
		t.Fatal(err)
	}
	sms, ok := back.(*SMSContent)
	if !ok {
		t.Fatalf("got %T", back)
	}
	if sms.MessageBody != "hi" {
		t.Errorf("body = %q", sms.MessageBody)
	}
}

func TestEmailExtractBodyPlainText(t *testing.T) {
	c := &EmailContent{Body: "  just plain text  "}
	if got := c.ExtractBody(); got != "just plain text" {
		t.Errorf("ExtractBody() = %q", got)
	}
}

func TestEmailExtractBodyHTML(t *testing.T) {
	c := &EmailContent{Body: `<html><body><div><p>My invoice is wrong, please check order 1234 because the total does not match what I was quoted on the phone last week.</p></div></body></html>`}
	got := c.ExtractBody()
	if strings.Contains(got, "<") {
		t.Errorf("ExtractBody() leaked markup: %q", got)
	}
	if !strings.Contains(got, "invoice") {
		t.Errorf("ExtractBody() lost text: %q", got)
	}
}

func TestFormExtractBody(t *testing.T) {
	c := &FormContent{FormFields: map[string]any{"message": "reset my password"}}
	if got := c.ExtractBody(); got != "reset my password" {
		t.Errorf("ExtractBody() = %q", got)
	}
	multi := &FormContent{FormFields: map[string]any{"name": "Ana", "issue": "billing"}}
	body := multi.ExtractBody()
	if !strings.Contains(body, "name: Ana") || !strings.Contains(body, "issue: billing") {
		t.Errorf("ExtractBody() = %q", body)
	}
}

func TestContentMetadata(t *testing.T) {
	gh := &GitHubContent{Repo: "org/app", IssueNumber: 7, Author: "kim", URL: "https://github.com/org/app/issues/7"}
	md := gh.Metadata()
	if md["repo"] != "org/app" || md["issue_number"] != 7 {
		t.Errorf("metadata = %v", md)
	}
}

func TestContentSentAt(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	e := &EmailContent{Timestamp: ts}
	if !e.SentAt().Equal(ts) {
		t.Errorf("SentAt() = %v", e.SentAt())
	}
	d := &DiscordContent{}
	if !d.SentAt().IsZero() {
		t.Errorf("discord SentAt() = %v, want zero", d.SentAt())
	}
}
