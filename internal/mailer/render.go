package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/planetaryescape/ai-digest-sub001/internal/model"
)

var digestTemplate = template.Must(template.New("digest").Parse(`
<html><body>
<h1>{{.Headline}}</h1>
{{if .ShortMessage}}<p>{{.ShortMessage}}</p>{{end}}
{{range .Summaries}}
<div class="item">
  <h2>{{.Title}}</h2>
  <p><em>From: {{.Sender.Name}} &lt;{{.Sender.Address}}&gt;</em></p>
  <p>{{.Summary}}</p>
  {{if .KeyInsights}}
  <ul>
  {{range .KeyInsights}}<li>{{.}}</li>
  {{end}}
  </ul>
  {{end}}
  {{if .WhyItMatters}}<p><strong>Why it matters:</strong> {{.WhyItMatters}}</p>{{end}}
  {{if .ActionItems}}
  <ul>
  {{range .ActionItems}}<li>{{.}}</li>
  {{end}}
  </ul>
  {{end}}
  {{if .Critique}}<p><i>{{.Critique}}</i></p>{{end}}
</div>
{{end}}
<hr/>
<p>{{.Stats.ProcessedEmails}} of {{.Stats.TotalEmails}} emails processed. Total cost: ${{printf "%.2f" .Stats.TotalCost}}</p>
</body></html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`
<html><body>
<h1>AI Digest Error</h1>
<p><strong>Context:</strong> {{.Context}}</p>
{{if .Error}}
<p><strong>Message:</strong> {{.Error.Message}}</p>
<p><strong>Stage:</strong> {{.Error.Stage}}</p>
<p><strong>Code:</strong> {{.Error.Code}}</p>
<pre>{{.Detail}}</pre>
{{end}}
</body></html>
`))

var reauthTemplate = template.Must(template.New("reauth").Parse(`
<html><body>
<h1>AI Digest: Re-authorization required</h1>
<p>The Gmail connection has expired or been revoked. Please re-authorize to resume digest runs.</p>
<p><a href="{{.URL}}">{{.URL}}</a></p>
</body></html>
`))

// RenderDigest renders the full HTML digest email per §6's Email Format.
func RenderDigest(output model.DigestOutput) string {
	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, output); err != nil {
		return fmt.Sprintf("<html><body><p>failed to render digest: %v</p></body></html>", err)
	}
	return buf.String()
}

// RenderErrorNotice renders the alert email body for a non-retryable
// pipeline failure.
func RenderErrorNotice(context string, pipelineErr *model.PipelineError) string {
	data := struct {
		Context string
		Error   *model.PipelineError
		Detail  string
	}{Context: context, Error: pipelineErr}

	if pipelineErr != nil {
		data.Detail = detailJSON(pipelineErr)
	}

	var buf bytes.Buffer
	if err := errorTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("<html><body><p>failed to render error notice: %v</p></body></html>", err)
	}
	return buf.String()
}

// RenderReauthNotice renders the re-authorization alert email body.
func RenderReauthNotice(url string) string {
	var buf bytes.Buffer
	data := struct{ URL string }{URL: url}
	if err := reauthTemplate.Execute(&buf, data); err != nil {
		return fmt.Sprintf("<html><body><p>failed to render reauth notice: %v</p></body></html>", err)
	}
	return buf.String()
}

func detailJSON(e *model.PipelineError) string {
	var b strings.Builder
	b.WriteString("{")
	fmt.Fprintf(&b, `"code":%q,"stage":%q,"retryable":%v,"details":%q`, e.Code, e.Stage, e.Retryable, e.Details)
	b.WriteString("}")
	return b.String()
}
