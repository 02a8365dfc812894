package utils

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"careerlyst/models"
)

type fakeTemplateSource struct {
	templates map[string]*models.EmailTemplate
}

func (f *fakeTemplateSource) GetTemplate(_ context.Context, templateID string, version int) (*models.EmailTemplate, error) {
	tmpl, ok := f.templates[fmt.Sprintf("%s:%d", templateID, version)]
	if !ok {
		return nil, fmt.Errorf("template %s v%d not found", templateID, version)
	}
	return tmpl, nil
}

func TestRenderSubstitutesVariables(t *testing.T) {
	renderer := NewTemplateRenderer(&fakeTemplateSource{templates: map[string]*models.EmailTemplate{
		"welcome:1": {
			TemplateID:  "welcome",
			Version:     1,
			Subject:     "Welcome, {{.FirstName}}!",
			HTMLContent: `<p>Hi {{.FirstName}}</p><a href="{{.UnsubscribeURL}}">Unsubscribe</a>`,
			TextContent: "Hi {{.FirstName}}. Unsubscribe: {{.UnsubscribeURL}}",
		},
	}})

	email := &models.ScheduledEmail{
		TemplateID:      "welcome",
		TemplateVersion: 1,
		Variables:       models.JSONMap{"FirstName": "Ada"},
	}
	rendered, err := renderer.Render(context.Background(), email, "https://app.example.com/unsubscribe/tok")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rendered.Subject != "Welcome, Ada!" {
		t.Errorf("subject = %q", rendered.Subject)
	}
	if !strings.Contains(rendered.HTMLBody, "Hi Ada") {
		t.Errorf("html body missing variable: %q", rendered.HTMLBody)
	}
	if !strings.Contains(rendered.HTMLBody, "https://app.example.com/unsubscribe/tok") {
		t.Errorf("html body missing unsubscribe url: %q", rendered.HTMLBody)
	}
	if !strings.Contains(rendered.TextBody, "https://app.example.com/unsubscribe/tok") {
		t.Errorf("text body missing unsubscribe url: %q", rendered.TextBody)
	}
}

func TestRenderEscapesHTMLVariables(t *testing.T) {
	renderer := NewTemplateRenderer(&fakeTemplateSource{templates: map[string]*models.EmailTemplate{
		"welcome:1": {Subject: "hi", HTMLContent: "<p>{{.Name}}</p>"},
	}})

	email := &models.ScheduledEmail{
		TemplateID:      "welcome",
		TemplateVersion: 1,
		Variables:       models.JSONMap{"Name": `<script>alert("x")</script>`},
	}
	rendered, err := renderer.Render(context.Background(), email, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(rendered.HTMLBody, "<script>") {
		t.Errorf("html body not escaped: %q", rendered.HTMLBody)
	}
}

func TestRenderMissingTemplate(t *testing.T) {
	renderer := NewTemplateRenderer(&fakeTemplateSource{templates: map[string]*models.EmailTemplate{}})

	_, err := renderer.Render(context.Background(), &models.ScheduledEmail{TemplateID: "nope", TemplateVersion: 1}, "")
	if err == nil {
		t.Fatal("expected error for missing template")
	}
}

func TestRenderMalformedTemplate(t *testing.T) {
	renderer := NewTemplateRenderer(&fakeTemplateSource{templates: map[string]*models.EmailTemplate{
		"broken:1": {Subject: "ok", HTMLContent: "{{.Unclosed"},
	}})

	_, err := renderer.Render(context.Background(), &models.ScheduledEmail{TemplateID: "broken", TemplateVersion: 1}, "")
	if err == nil {
		t.Fatal("expected error for malformed template body")
	}
}

func TestRenderEmptyContent(t *testing.T) {
	renderer := NewTemplateRenderer(&fakeTemplateSource{templates: map[string]*models.EmailTemplate{
		"minimal:1": {Subject: "Just a subject"},
	}})

	rendered, err := renderer.Render(context.Background(), &models.ScheduledEmail{TemplateID: "minimal", TemplateVersion: 1}, "")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if rendered.HTMLBody != "" || rendered.TextBody != "" {
		t.Errorf("empty template content must render empty, got html=%q text=%q", rendered.HTMLBody, rendered.TextBody)
	}
}
