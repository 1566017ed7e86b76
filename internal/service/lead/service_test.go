package lead

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"omnidesk-backend/internal/model"
)

type memoryRepository struct {
	mu        sync.Mutex
	campaigns []model.CampaignItem
	leads     map[string]model.CampaignLeadItem
	contacts  map[string]model.ContactItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		leads:    make(map[string]model.CampaignLeadItem),
		contacts: make(map[string]model.ContactItem),
	}
}

func (m *memoryRepository) ListCampaigns(ctx context.Context, orgID string) ([]model.CampaignItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.CampaignItem, 0)
	for _, campaign := range m.campaigns {
		if campaign.OrgID == orgID {
			out = append(out, campaign)
		}
	}
	return out, nil
}

func (m *memoryRepository) GetCampaignLead(ctx context.Context, orgID, leadID string) (model.CampaignLeadItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead, ok := m.leads[model.CampaignLeadPK(orgID, leadID)]
	if !ok {
		return model.CampaignLeadItem{}, ErrNotFound
	}
	return lead, nil
}

func (m *memoryRepository) PutCampaignLead(ctx context.Context, item model.CampaignLeadItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[item.PK] = item
	return nil
}

func (m *memoryRepository) FindContactByEmail(ctx context.Context, orgID, email string) (model.ContactItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, contact := range m.contacts {
		if contact.OrgID == orgID && contact.Email == email {
			return contact, nil
		}
	}
	return model.ContactItem{}, ErrNotFound
}

func (m *memoryRepository) PutContact(ctx context.Context, contact model.ContactItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contacts[contact.PK] = contact
	return nil
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 16, 0, 0, 0, time.UTC)
}

func newTestService(t *testing.T) (*Service, *memoryRepository) {
	t.Helper()
	repo := newMemoryRepository()
	repo.campaigns = []model.CampaignItem{
		{PK: model.CampaignPK("org-1", "camp-1"), OrgID: "org-1", CampaignID: "camp-1", Name: "Spring", PageID: "page-9", FormID: "form-7"},
	}
	service := NewWithRepository(repo, fixedNow)

	seq := 0
	service.newID = func() string {
		seq++
		return fmt.Sprintf("id-%d", seq)
	}
	return service, repo
}

func testOrg() model.OrganizationItem {
	return model.OrganizationItem{
		OrgID:         "org-1",
		FBVerifyToken: "expected-token",
		FBAppSecret:   "app-secret",
	}
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func leadBody(t *testing.T, leadID string, fields []LeadField) []byte {
	t.Helper()
	body, err := json.Marshal(WebhookPayload{
		Object: "page",
		Entry: []WebhookEntry{{
			ID: "page-9",
			Changes: []WebhookChange{{
				Field: "leadgen",
				Value: LeadValue{LeadgenID: leadID, PageID: "page-9", FormID: "form-7", FieldData: fields},
			}},
		}},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return body
}

func TestVerifySubscription(t *testing.T) {
	service, _ := newTestService(t)
	org := testOrg()

	challenge, ok := service.VerifySubscription(org, "subscribe", "expected-token", "challenge-123")
	if !ok || challenge != "challenge-123" {
		t.Fatalf("VerifySubscription = (%q, %v)", challenge, ok)
	}

	if _, ok := service.VerifySubscription(org, "subscribe", "wrong-token", "challenge-123"); ok {
		t.Fatal("wrong token must not verify")
	}
	if _, ok := service.VerifySubscription(org, "unsubscribe", "expected-token", "challenge-123"); ok {
		t.Fatal("non-subscribe mode must not verify")
	}
	if _, ok := service.VerifySubscription(model.OrganizationItem{}, "subscribe", "", "c"); ok {
		t.Fatal("org without a configured token must never verify")
	}
}

func TestVerifySignature(t *testing.T) {
	service, _ := newTestService(t)
	org := testOrg()
	body := []byte(`{"object":"page"}`)

	if !service.VerifySignature(org, body, sign("app-secret", body)) {
		t.Fatal("valid signature must verify")
	}
	if service.VerifySignature(org, []byte(`{"object":"tampered"}`), sign("app-secret", body)) {
		t.Fatal("tampered body must not verify")
	}
	if service.VerifySignature(org, body, sign("other-secret", body)) {
		t.Fatal("wrong secret must not verify")
	}
	if service.VerifySignature(org, body, "md5=abcdef") {
		t.Fatal("wrong scheme must not verify")
	}
	if service.VerifySignature(model.OrganizationItem{}, body, sign("", body)) {
		t.Fatal("org without app secret must never verify")
	}
}

func TestProcessWebhookCreatesContactAndLeadRow(t *testing.T) {
	service, repo := newTestService(t)

	body := leadBody(t, "lead-1", []LeadField{
		{Name: "FULL_NAME", Values: []string{"Ana Souza"}},
		{Name: "your_email_address", Values: []string{"ana@x.com"}},
		{Name: "phone_number", Values: []string{"+5511988880000"}},
	})
	service.ProcessWebhook(context.Background(), testOrg(), body)

	lead, ok := repo.leads[model.CampaignLeadPK("org-1", "lead-1")]
	if !ok {
		t.Fatal("campaign lead row not recorded")
	}
	if lead.CampaignID != "camp-1" {
		t.Fatalf("campaign = %q", lead.CampaignID)
	}

	contact, err := repo.FindContactByEmail(context.Background(), "org-1", "ana@x.com")
	if err != nil {
		t.Fatalf("contact not created: %v", err)
	}
	if contact.Name != "Ana Souza" || contact.Phone != "+5511988880000" {
		t.Fatalf("contact = %+v", contact)
	}
	if lead.ContactID != contact.ContactID {
		t.Fatalf("lead row links %q, contact is %q", lead.ContactID, contact.ContactID)
	}
}

func TestProcessWebhookDeduplicatesLeadID(t *testing.T) {
	service, repo := newTestService(t)

	body := leadBody(t, "lead-1", []LeadField{
		{Name: "email", Values: []string{"ana@x.com"}},
	})
	service.ProcessWebhook(context.Background(), testOrg(), body)
	service.ProcessWebhook(context.Background(), testOrg(), body)

	if len(repo.leads) != 1 {
		t.Fatalf("lead rows = %d, want 1", len(repo.leads))
	}
	if len(repo.contacts) != 1 {
		t.Fatalf("contacts = %d, want 1", len(repo.contacts))
	}
}

func TestProcessWebhookSkipsUnknownCampaign(t *testing.T) {
	service, repo := newTestService(t)
	repo.campaigns = nil

	body := leadBody(t, "lead-1", []LeadField{
		{Name: "email", Values: []string{"ana@x.com"}},
	})
	service.ProcessWebhook(context.Background(), testOrg(), body)

	if len(repo.leads) != 0 || len(repo.contacts) != 0 {
		t.Fatal("lead without a matching campaign must be skipped entirely")
	}
}

func TestProcessWebhookMergesByEmail(t *testing.T) {
	service, repo := newTestService(t)
	existing := model.ContactItem{
		PK: model.ContactPK("org-1", "c-existing"), OrgID: "org-1", ContactID: "c-existing",
		Email: "ana@x.com",
	}
	repo.contacts[existing.PK] = existing

	body := leadBody(t, "lead-1", []LeadField{
		{Name: "full_name", Values: []string{"Ana Souza"}},
		{Name: "email", Values: []string{"ana@x.com"}},
	})
	service.ProcessWebhook(context.Background(), testOrg(), body)

	if len(repo.contacts) != 1 {
		t.Fatalf("contacts = %d, lead must merge into existing contact", len(repo.contacts))
	}
	merged := repo.contacts[existing.PK]
	if merged.Name != "Ana Souza" {
		t.Fatalf("name = %q, want filled in", merged.Name)
	}
	if repo.leads[model.CampaignLeadPK("org-1", "lead-1")].ContactID != "c-existing" {
		t.Fatal("lead row must reference the merged contact")
	}
}

func TestProcessWebhookNoEmailAlwaysCreates(t *testing.T) {
	service, repo := newTestService(t)

	service.ProcessWebhook(context.Background(), testOrg(), leadBody(t, "lead-1", []LeadField{
		{Name: "full_name", Values: []string{"Ana"}},
	}))
	service.ProcessWebhook(context.Background(), testOrg(), leadBody(t, "lead-2", []LeadField{
		{Name: "full_name", Values: []string{"Ana"}},
	}))

	if len(repo.contacts) != 2 {
		t.Fatalf("contacts = %d, email-less leads never merge", len(repo.contacts))
	}
}

func TestExtractFieldFuzzyMatching(t *testing.T) {
	fields := []LeadField{
		{Name: "What is your e-mail?", Values: []string{"x@y.com"}},
		{Name: "nome_completo", Values: []string{"Jo"}},
		{Name: "celular / whatsapp", Values: []string{"+55..."}},
	}

	if got := extractField(fields, emailPreferences); got != "x@y.com" {
		t.Fatalf("email = %q", got)
	}
	if got := extractField(fields, phonePreferences); got != "+55..." {
		t.Fatalf("phone = %q", got)
	}
	if got := extractField(nil, emailPreferences); got != "" {
		t.Fatalf("empty fields = %q", got)
	}
}
