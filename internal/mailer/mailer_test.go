package mailer

import (
	"strings"
	"testing"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

func TestMailer_Send_NoopWhenSMTPUnconfigured(t *testing.T) {
	m := New(Config{Recipient: "me@example.com"})
	if err := m.SendDigest(model.DigestOutput{Headline: "Weekly roundup", Mode: model.ModeWeekly}); err != nil {
		t.Errorf("expected no error when SMTP host unset, got %v", err)
	}
}

func TestMailer_Send_ErrorsWithoutRecipient(t *testing.T) {
	m := New(Config{Host: "smtp.example.com", Port: 587})
	if err := m.SendDigest(model.DigestOutput{Headline: "x"}); err == nil {
		t.Error("expected error when no recipient is configured")
	}
}

func TestRenderDigest_IncludesSummaryFields(t *testing.T) {
	output := model.DigestOutput{
		Headline: "This week in AI",
		Mode:     model.ModeWeekly,
		Summaries: []model.Summary{
			{
				Title:        "New model released",
				Sender:       model.Sender{Name: "AI News", Address: "news@example.com"},
				Summary:      "A new model dropped.",
				KeyInsights:  []string{"insight one", "insight two"},
				WhyItMatters: "Because it's fast.",
				ActionItems:  []string{"try it out"},
				Critique:     "Skeptical it beats the incumbent.",
			},
		},
		Stats: model.DigestStats{TotalEmails: 1, ProcessedEmails: 1, TotalCost: 0.04},
	}

	html := RenderDigest(output)

	for _, want := range []string{"New model released", "news@example.com", "insight one", "Because it&#39;s fast.", "try it out", "Skeptical it beats the incumbent."} {
		if !strings.Contains(html, want) {
			t.Errorf("expected rendered digest to contain %q", want)
		}
	}
}

func TestRenderErrorNotice_IncludesContextAndMessage(t *testing.T) {
	pipelineErr := model.NewPipelineError(model.ErrLLMResponseInvalid, model.StageAnalyze, "bad json from model")
	html := RenderErrorNotice("weekly run", pipelineErr)

	if !strings.Contains(html, "weekly run") {
		t.Error("expected context in rendered error notice")
	}
	if !strings.Contains(html, "bad json from model") {
		t.Error("expected error message in rendered error notice")
	}
}

func TestRenderReauthNotice_IncludesURL(t *testing.T) {
	html := RenderReauthNotice("https://digest.example.com/reauth")
	if !strings.Contains(html, "https://digest.example.com/reauth") {
		t.Error("expected reauth URL in rendered notice")
	}
}

func TestStripHTML_RemovesTagsKeepsText(t *testing.T) {
	got := stripHTML("<p>Hello <strong>world</strong></p>")
	if got != "Hello world" {
		t.Errorf("unexpected stripped text: %q", got)
	}
}
