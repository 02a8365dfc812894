package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"careerlyst/models"
	"careerlyst/store"
	"careerlyst/utils"

	"github.com/gofiber/fiber/v2"
)

type fakeFlows struct {
	flows map[uint]*models.EmailFlow
	steps map[uint][]models.EmailFlowStep
}

func (f *fakeFlows) GetFlow(_ context.Context, id uint) (*models.EmailFlow, error) {
	flow, ok := f.flows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return flow, nil
}

func (f *fakeFlows) GetSteps(_ context.Context, flowID uint) ([]models.EmailFlowStep, error) {
	return f.steps[flowID], nil
}

type fakeTemplates struct{ names map[string]string }

func (f *fakeTemplates) GetTemplate(_ context.Context, templateID string, version int) (*models.EmailTemplate, error) {
	name, ok := f.names[templateID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.EmailTemplate{TemplateID: templateID, Version: version, Name: name}, nil
}

type fakeStats struct {
	counts    []store.FlowStatusCount
	instances []store.FlowInstanceStat
}

func (f *fakeStats) StatusCountsByFlow(context.Context) ([]store.FlowStatusCount, error) {
	return f.counts, nil
}

func (f *fakeStats) InstanceStatsByFlow(context.Context) ([]store.FlowInstanceStat, error) {
	return f.instances, nil
}

type fakeSequencerWriter struct {
	byKey map[string]*models.ScheduledEmail
}

func (w *fakeSequencerWriter) InsertIdempotent(_ context.Context, email *models.ScheduledEmail) (*models.ScheduledEmail, bool, error) {
	if existing, ok := w.byKey[email.IdempotencyKey]; ok {
		return existing, false, nil
	}
	clone := *email
	clone.ID = uint(len(w.byKey) + 1)
	w.byKey[email.IdempotencyKey] = &clone
	return &clone, true, nil
}

type notSuppressed struct{}

func (notSuppressed) IsSuppressed(context.Context, *uint, string) (bool, error) { return false, nil }

func newFlowApp(t *testing.T) (*fiber.App, *fakeSequencerWriter) {
	t.Helper()
	flows := &fakeFlows{
		flows: map[uint]*models.EmailFlow{
			1: {Name: "onboarding", IsActive: true},
			2: {Name: "retired", IsActive: false},
		},
		steps: map[uint][]models.EmailFlowStep{
			1: {
				{FlowID: 1, TemplateID: "welcome", TemplateVersion: 1, StepOrder: 1, Category: models.StepCategoryTransactional},
				{FlowID: 1, TemplateID: "check-in", TemplateVersion: 1, StepOrder: 2, DelayFromTrigger: 72 * time.Hour, Category: models.StepCategoryMarketing},
			},
		},
	}
	flows.flows[1].ID = 1
	flows.flows[2].ID = 2

	writer := &fakeSequencerWriter{byKey: make(map[string]*models.ScheduledEmail)}
	sequencer := utils.NewSequencer(flows, writer, notSuppressed{}, discardLogger())
	templates := &fakeTemplates{names: map[string]string{"welcome": "Welcome", "check-in": "Check In"}}
	stats := &fakeStats{
		counts: []store.FlowStatusCount{
			{FlowID: 1, FlowName: "onboarding", Status: models.EmailStatusSent, Count: 10},
			{FlowID: 1, FlowName: "onboarding", Status: models.EmailStatusScheduled, Count: 4},
		},
		instances: []store.FlowInstanceStat{
			{FlowID: 1, ActiveInstances: 2, UniqueRecipients: 7},
		},
	}

	fc := NewFlowController(flows, templates, stats, sequencer, discardLogger())
	app := fiber.New()
	app.Post("/email/flows/trigger", fc.TriggerFlow)
	app.Get("/email/flows/stats", fc.GetFlowStats)
	app.Get("/email/flows/:id", fc.GetFlow)
	return app, writer
}

func TestTriggerFlow(t *testing.T) {
	app, writer := newFlowApp(t)

	body := fiber.Map{
		"flowId":       1,
		"emailAddress": "member@example.com",
		"variables":    fiber.Map{"FirstName": "Ada"},
	}
	resp := postJSON(t, app, "/email/flows/trigger", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	var out struct {
		ScheduledEmails []models.ScheduledEmail `json:"scheduledEmails"`
		Count           int                     `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Count != 2 || len(out.ScheduledEmails) != 2 {
		t.Fatalf("count = %d with %d rows, want 2", out.Count, len(out.ScheduledEmails))
	}
	if len(writer.byKey) != 2 {
		t.Errorf("stored %d rows, want 2", len(writer.byKey))
	}
}

func TestTriggerFlowIdempotentReplay(t *testing.T) {
	app, writer := newFlowApp(t)

	body := fiber.Map{
		"flowId":               1,
		"emailAddress":         "member@example.com",
		"idempotencyKeyPrefix": "onboard_u42",
		"triggerEventId":       "evt_1",
	}
	postJSON(t, app, "/email/flows/trigger", body)
	postJSON(t, app, "/email/flows/trigger", body)

	if len(writer.byKey) != 2 {
		t.Fatalf("replayed trigger stored %d rows, want 2", len(writer.byKey))
	}
}

func TestTriggerFlowErrors(t *testing.T) {
	app, _ := newFlowApp(t)

	cases := []struct {
		name string
		body fiber.Map
		want int
	}{
		{"missing flow", fiber.Map{"flowId": 99, "emailAddress": "member@example.com"}, http.StatusNotFound},
		{"inactive flow", fiber.Map{"flowId": 2, "emailAddress": "member@example.com"}, http.StatusConflict},
		{"missing email", fiber.Map{"flowId": 1}, http.StatusBadRequest},
		{"bad email", fiber.Map{"flowId": 1, "emailAddress": "nope"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, app, "/email/flows/trigger", tc.body)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestGetFlowResolvesTemplateNames(t *testing.T) {
	app, _ := newFlowApp(t)

	req := httptest.NewRequest(http.MethodGet, "/email/flows/1", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Steps []map[string]interface{} `json:"steps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(out.Steps))
	}
	if got := out.Steps[0]["template_name"]; got != "Welcome" {
		t.Errorf("template_name = %v, want Welcome", got)
	}
	if got := out.Steps[1]["delay_from_trigger"]; got != "72h0m0s" {
		t.Errorf("delay_from_trigger = %v, want 72h0m0s", got)
	}
}

func TestGetFlowStats(t *testing.T) {
	app, _ := newFlowApp(t)

	req := httptest.NewRequest(http.MethodGet, "/email/flows/stats", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out struct {
		Flows []struct {
			FlowID           uint             `json:"flow_id"`
			StatusCounts     map[string]int64 `json:"status_counts"`
			ActiveInstances  int64            `json:"active_instances"`
			UniqueRecipients int64            `json:"unique_recipients"`
		} `json:"flows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Flows) != 1 {
		t.Fatalf("flows = %d, want 1", len(out.Flows))
	}
	stats := out.Flows[0]
	if stats.StatusCounts[models.EmailStatusSent] != 10 || stats.StatusCounts[models.EmailStatusScheduled] != 4 {
		t.Errorf("status counts = %v", stats.StatusCounts)
	}
	if stats.ActiveInstances != 2 || stats.UniqueRecipients != 7 {
		t.Errorf("instances = %d recipients = %d, want 2 and 7", stats.ActiveInstances, stats.UniqueRecipients)
	}
}
