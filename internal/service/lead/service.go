package lead

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/model"

	"github.com/google/uuid"
)

// WebhookPayload mirrors the lead-capture callback body: a batch of
// entries, each carrying one or more leadgen changes.
type WebhookPayload struct {
	Object string         `json:"object"`
	Entry  []WebhookEntry `json:"entry"`
}

type WebhookEntry struct {
	ID      string          `json:"id"`
	Time    int64           `json:"time"`
	Changes []WebhookChange `json:"changes"`
}

type WebhookChange struct {
	Field string    `json:"field"`
	Value LeadValue `json:"value"`
}

type LeadValue struct {
	LeadgenID   string      `json:"leadgen_id"`
	PageID      string      `json:"page_id"`
	FormID      string      `json:"form_id"`
	CreatedTime int64       `json:"created_time"`
	FieldData   []LeadField `json:"field_data"`
}

type LeadField struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Field-name preference lists for fuzzy extraction. Order matters: the
// first term that matches any field wins.
var (
	namePreferences  = []string{"full_name", "full name", "name", "nome"}
	emailPreferences = []string{"email", "e-mail", "mail"}
	phonePreferences = []string{"phone", "telefone", "tel", "mobile", "whatsapp", "number"}
)

type Service struct {
	repo  Repository
	now   func() time.Time
	newID func() string
}

func New(db *database.Database) *Service {
	return &Service{
		repo:  NewDynamoRepository(db),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func NewWithRepository(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:  repo,
		now:   now,
		newID: uuid.NewString,
	}
}

// VerifySubscription implements the webhook handshake: the challenge is
// echoed back only when the caller presents the organization's expected
// verification token.
func (s *Service) VerifySubscription(org model.OrganizationItem, mode, verifyToken, challenge string) (string, bool) {
	if mode != "subscribe" {
		return "", false
	}
	if org.FBVerifyToken == "" || verifyToken != org.FBVerifyToken {
		return "", false
	}
	return challenge, true
}

// VerifySignature checks the HMAC-SHA256 signature header against the
// raw request body using the organization's app secret. Comparison is
// constant time. A failed check rejects the whole batch before any
// entry is processed.
func (s *Service) VerifySignature(org model.OrganizationItem, body []byte, signatureHeader string) bool {
	if org.FBAppSecret == "" {
		return false
	}

	const prefix = "sha256="
	if !strings.HasPrefix(signatureHeader, prefix) {
		return false
	}
	received, err := hex.DecodeString(strings.TrimPrefix(signatureHeader, prefix))
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(org.FBAppSecret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}

// ProcessWebhook walks every lead entry in the batch. Per-entry failures
// are logged and skipped; the caller has already acked the delivery, so
// an error here must never cause an upstream retry of the whole batch.
func (s *Service) ProcessWebhook(ctx context.Context, org model.OrganizationItem, body []byte) {
	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("lead: bad webhook payload for org %s: %v", org.OrgID, err)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "leadgen" {
				continue
			}
			if err := s.processLead(ctx, org, change.Value); err != nil {
				log.Printf("lead: process lead %s: %v", change.Value.LeadgenID, err)
			}
		}
	}
}

func (s *Service) processLead(ctx context.Context, org model.OrganizationItem, value LeadValue) error {
	if value.LeadgenID == "" {
		return errors.New("missing leadgen id")
	}

	campaign, ok, err := s.matchCampaign(ctx, org.OrgID, value)
	if err != nil {
		return err
	}
	if !ok {
		// No configured campaign for this page/form; nothing to record.
		return nil
	}

	if _, err := s.repo.GetCampaignLead(ctx, org.OrgID, value.LeadgenID); err == nil {
		// Redelivered lead.
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	name := extractField(value.FieldData, namePreferences)
	email := extractField(value.FieldData, emailPreferences)
	phone := extractField(value.FieldData, phonePreferences)

	contact, err := s.upsertContact(ctx, org.OrgID, campaign, name, email, phone)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	leadRow := model.CampaignLeadItem{
		PK:         model.CampaignLeadPK(org.OrgID, value.LeadgenID),
		OrgID:      org.OrgID,
		LeadID:     value.LeadgenID,
		CampaignID: campaign.CampaignID,
		ContactID:  contact.ContactID,
		RawPayload: string(raw),
		CreatedAt:  s.now().UTC().Format(time.RFC3339),
	}
	return s.repo.PutCampaignLead(ctx, leadRow)
}

// matchCampaign resolves the owning campaign by the lead's page or form
// identifier.
func (s *Service) matchCampaign(ctx context.Context, orgID string, value LeadValue) (model.CampaignItem, bool, error) {
	campaigns, err := s.repo.ListCampaigns(ctx, orgID)
	if err != nil {
		return model.CampaignItem{}, false, err
	}

	for _, campaign := range campaigns {
		if campaign.FormID != "" && campaign.FormID == value.FormID {
			return campaign, true, nil
		}
		if campaign.PageID != "" && campaign.PageID == value.PageID {
			return campaign, true, nil
		}
	}
	return model.CampaignItem{}, false, nil
}

// upsertContact keys on (org, email) when an email is present; leads
// without an email always create a new contact since there is nothing
// reliable to merge on.
func (s *Service) upsertContact(ctx context.Context, orgID string, campaign model.CampaignItem, name, email, phone string) (model.ContactItem, error) {
	nowStr := s.now().UTC().Format(time.RFC3339)

	if email != "" {
		contact, err := s.repo.FindContactByEmail(ctx, orgID, email)
		if err == nil {
			changed := false
			if contact.Name == "" && name != "" {
				contact.Name = name
				changed = true
			}
			if contact.Phone == "" && phone != "" {
				contact.Phone = phone
				changed = true
			}
			if changed {
				contact.UpdatedAt = nowStr
				if err := s.repo.PutContact(ctx, contact); err != nil {
					return model.ContactItem{}, err
				}
			}
			return contact, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return model.ContactItem{}, err
		}
	}

	contact := model.ContactItem{
		OrgID:      orgID,
		ContactID:  s.newID(),
		Name:       name,
		Email:      email,
		Phone:      phone,
		ConvStatus: model.ConversationStatusPending,
		CreatedAt:  nowStr,
		UpdatedAt:  nowStr,
	}
	contact.PK = model.ContactPK(orgID, contact.ContactID)
	if err := s.repo.PutContact(ctx, contact); err != nil {
		return model.ContactItem{}, err
	}
	return contact, nil
}

// extractField scans the submitted fields for the first preference term
// that substring-matches a field name in either direction.
func extractField(fields []LeadField, preferences []string) string {
	for _, term := range preferences {
		for _, field := range fields {
			name := normalizeFieldName(field.Name)
			if name == "" || len(field.Values) == 0 {
				continue
			}
			if strings.Contains(name, term) || strings.Contains(term, name) {
				return strings.TrimSpace(field.Values[0])
			}
		}
	}
	return ""
}

func normalizeFieldName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
