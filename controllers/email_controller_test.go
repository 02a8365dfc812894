package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"careerlyst/models"
	"careerlyst/store"

	"github.com/gofiber/fiber/v2"
)

type fakeScheduledEmails struct {
	byKey  map[string]*models.ScheduledEmail
	nextID uint
}

func newFakeScheduledEmails() *fakeScheduledEmails {
	return &fakeScheduledEmails{byKey: make(map[string]*models.ScheduledEmail), nextID: 1}
}

func (s *fakeScheduledEmails) InsertIdempotent(_ context.Context, email *models.ScheduledEmail) (*models.ScheduledEmail, bool, error) {
	if existing, ok := s.byKey[email.IdempotencyKey]; ok {
		return existing, false, nil
	}
	clone := *email
	clone.ID = s.nextID
	s.nextID++
	s.byKey[email.IdempotencyKey] = &clone
	return &clone, true, nil
}

func (s *fakeScheduledEmails) List(_ context.Context, filter store.EmailFilter) ([]models.ScheduledEmail, error) {
	var out []models.ScheduledEmail
	for _, row := range s.byKey {
		if filter.Status != "" && row.Status != filter.Status {
			continue
		}
		out = append(out, *row)
	}
	return out, nil
}

func (s *fakeScheduledEmails) Cancel(_ context.Context, id uint) (bool, error) {
	for _, row := range s.byKey {
		if row.ID == id && !row.IsTerminal() && row.Status != models.EmailStatusSending {
			row.Status = models.EmailStatusCancelled
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeScheduledEmails) GetByID(_ context.Context, id uint) (*models.ScheduledEmail, error) {
	for _, row := range s.byKey {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, store.ErrNotFound
}

func newEmailApp(t *testing.T) (*fiber.App, *fakeScheduledEmails) {
	t.Helper()
	emails := newFakeScheduledEmails()
	ec := NewEmailController(emails, discardLogger())

	app := fiber.New()
	app.Post("/email/schedule", ec.ScheduleEmail)
	app.Get("/email/scheduled", ec.ListScheduled)
	app.Post("/email/scheduled/:id/cancel", ec.CancelScheduled)
	return app, emails
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	return resp
}

func scheduleBody() fiber.Map {
	return fiber.Map{
		"emailAddress":   "member@example.com",
		"templateId":     "welcome",
		"scheduledAt":    time.Now().Add(time.Hour).Format(time.RFC3339),
		"idempotencyKey": "adhoc_1",
	}
}

func TestScheduleEmailCreates(t *testing.T) {
	app, emails := newEmailApp(t)

	resp := postJSON(t, app, "/email/schedule", scheduleBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}

	row := emails.byKey["adhoc_1"]
	if row == nil {
		t.Fatal("row not stored")
	}
	if row.Status != models.EmailStatusScheduled {
		t.Errorf("future email status = %q, want scheduled", row.Status)
	}
	if row.Category != models.StepCategoryMarketing {
		t.Errorf("default category = %q, want marketing", row.Category)
	}
}

func TestScheduleEmailIdempotentReplay(t *testing.T) {
	app, emails := newEmailApp(t)

	first := postJSON(t, app, "/email/schedule", scheduleBody())
	second := postJSON(t, app, "/email/schedule", scheduleBody())
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.StatusCode)
	}
	if second.StatusCode != http.StatusOK {
		t.Fatalf("replay status = %d, want 200", second.StatusCode)
	}
	if len(emails.byKey) != 1 {
		t.Fatalf("stored %d rows, want 1", len(emails.byKey))
	}
}

func TestScheduleEmailValidation(t *testing.T) {
	app, _ := newEmailApp(t)

	cases := []struct {
		name   string
		mutate func(fiber.Map)
	}{
		{"missing email", func(m fiber.Map) { delete(m, "emailAddress") }},
		{"bad email", func(m fiber.Map) { m["emailAddress"] = "not-an-address" }},
		{"missing template", func(m fiber.Map) { delete(m, "templateId") }},
		{"missing idempotency key", func(m fiber.Map) { delete(m, "idempotencyKey") }},
		{"bad timestamp", func(m fiber.Map) { m["scheduledAt"] = "tomorrow" }},
		{"bad category", func(m fiber.Map) { m["category"] = "spam" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := scheduleBody()
			tc.mutate(body)
			resp := postJSON(t, app, "/email/schedule", body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestScheduleEmailPastDueIsPending(t *testing.T) {
	app, emails := newEmailApp(t)

	body := scheduleBody()
	body["scheduledAt"] = time.Now().Add(-time.Minute).Format(time.RFC3339)
	resp := postJSON(t, app, "/email/schedule", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if got := emails.byKey["adhoc_1"].Status; got != models.EmailStatusPending {
		t.Errorf("past-due status = %q, want pending", got)
	}
}

func TestCancelScheduled(t *testing.T) {
	app, emails := newEmailApp(t)
	postJSON(t, app, "/email/schedule", scheduleBody())

	resp := postJSON(t, app, "/email/scheduled/1/cancel", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := emails.byKey["adhoc_1"].Status; got != models.EmailStatusCancelled {
		t.Errorf("status = %q, want cancelled", got)
	}

	// Already terminal: conflict, not repeat-cancel.
	resp = postJSON(t, app, "/email/scheduled/1/cancel", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("re-cancel status = %d, want 409", resp.StatusCode)
	}

	resp = postJSON(t, app, "/email/scheduled/99/cancel", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", resp.StatusCode)
	}
}

func TestListScheduledFiltersByStatus(t *testing.T) {
	app, emails := newEmailApp(t)
	postJSON(t, app, "/email/schedule", scheduleBody())
	sent := &models.ScheduledEmail{EmailAddress: "other@example.com", Status: models.EmailStatusSent, IdempotencyKey: "adhoc_2"}
	sent.ID = 2
	emails.byKey["adhoc_2"] = sent

	req := httptest.NewRequest(http.MethodGet, "/email/scheduled?status=sent", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var out struct {
		ScheduledEmails []models.ScheduledEmail `json:"scheduledEmails"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.ScheduledEmails) != 1 || out.ScheduledEmails[0].Status != models.EmailStatusSent {
		t.Errorf("filtered list = %+v, want the single sent row", out.ScheduledEmails)
	}
}
