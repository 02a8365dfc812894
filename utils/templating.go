package utils

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"

	"careerlyst/models"
)

// TemplateSource resolves a template id and version to its stored content.
type TemplateSource interface {
	GetTemplate(ctx context.Context, templateID string, version int) (*models.EmailTemplate, error)
}

// RenderedEmail is template output ready for the provider client.
type RenderedEmail struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// TemplateRenderer executes a scheduled email's template over its variables.
// The unsubscribe URL is injected as the UnsubscribeURL key alongside the
// caller-supplied variables.
type TemplateRenderer struct {
	Templates TemplateSource
}

func NewTemplateRenderer(templates TemplateSource) *TemplateRenderer {
	return &TemplateRenderer{Templates: templates}
}

// Render produces the subject and both bodies. A missing template or a
// malformed template body is a permanent condition: retrying the send will
// not fix it.
func (r *TemplateRenderer) Render(ctx context.Context, email *models.ScheduledEmail, unsubscribeURL string) (*RenderedEmail, error) {
	tmpl, err := r.Templates.GetTemplate(ctx, email.TemplateID, email.TemplateVersion)
	if err != nil {
		return nil, fmt.Errorf("resolve template %s v%d: %w", email.TemplateID, email.TemplateVersion, err)
	}

	data := make(map[string]interface{}, len(email.Variables)+1)
	for k, v := range email.Variables {
		data[k] = v
	}
	data["UnsubscribeURL"] = unsubscribeURL

	subject, err := renderText(tmpl.Subject, data)
	if err != nil {
		return nil, fmt.Errorf("render subject for %s: %w", email.TemplateID, err)
	}
	htmlBody, err := renderHTML(tmpl.HTMLContent, data)
	if err != nil {
		return nil, fmt.Errorf("render html body for %s: %w", email.TemplateID, err)
	}
	textBody, err := renderText(tmpl.TextContent, data)
	if err != nil {
		return nil, fmt.Errorf("render text body for %s: %w", email.TemplateID, err)
	}

	return &RenderedEmail{Subject: subject, HTMLBody: htmlBody, TextBody: textBody}, nil
}

func renderHTML(content string, data map[string]interface{}) (string, error) {
	if content == "" {
		return "", nil
	}
	tmpl, err := htmltemplate.New("body").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(content string, data map[string]interface{}) (string, error) {
	if content == "" {
		return "", nil
	}
	tmpl, err := texttemplate.New("text").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
