package conversation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
)

type memoryRepository struct {
	mu       sync.Mutex
	orgs     map[string]model.OrganizationItem
	users    map[string]model.UserItem
	contacts map[string]model.ContactItem
	messages map[string][]model.MessageItem
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		orgs:     make(map[string]model.OrganizationItem),
		users:    make(map[string]model.UserItem),
		contacts: make(map[string]model.ContactItem),
		messages: make(map[string][]model.MessageItem),
	}
}

func (m *memoryRepository) GetOrganization(ctx context.Context, orgID string) (model.OrganizationItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.orgs[orgID]
	if !ok {
		return model.OrganizationItem{}, ErrNotFound
	}
	return org, nil
}

func (m *memoryRepository) GetUser(ctx context.Context, orgID, userID string) (model.UserItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[model.OrgScopedPK(orgID, userID)]
	if !ok {
		return model.UserItem{}, ErrNotFound
	}
	return user, nil
}

func (m *memoryRepository) GetContact(ctx context.Context, orgID, contactID string) (model.ContactItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	contact, ok := m.contacts[model.ContactPK(orgID, contactID)]
	if !ok {
		return model.ContactItem{}, ErrNotFound
	}
	return contact, nil
}

func (m *memoryRepository) UpdateContactStatus(ctx context.Context, orgID, contactID string, status model.ConversationStatus, assignedToID *string, updatedAt string) (model.ContactItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := model.ContactPK(orgID, contactID)
	contact, ok := m.contacts[pk]
	if !ok {
		return model.ContactItem{}, ErrNotFound
	}
	contact.ConvStatus = status
	contact.UpdatedAt = updatedAt
	if assignedToID != nil {
		contact.AssignedToID = *assignedToID
	}
	m.contacts[pk] = contact
	return contact, nil
}

func (m *memoryRepository) ListContacts(ctx context.Context, orgID string, limit int) ([]model.ContactItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.ContactItem, 0)
	for _, contact := range m.contacts {
		if contact.OrgID == orgID {
			out = append(out, contact)
		}
	}
	return out, nil
}

func (m *memoryRepository) ListMessages(ctx context.Context, orgID, contactID string, limit int) ([]model.MessageItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.messages[contactID], nil
}

type capturedEvents struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func captureOrgEvents(bus *eventbus.Bus, orgID string) *capturedEvents {
	captured := &capturedEvents{}
	bus.Subscribe(eventbus.OrganizationTopic(orgID), func(ev eventbus.Event) {
		captured.mu.Lock()
		defer captured.mu.Unlock()
		captured.events = append(captured.events, ev)
	})
	return captured
}

func (c *capturedEvents) all() []eventbus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]eventbus.Event, len(c.events))
	copy(out, c.events)
	return out
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
}

func seedService(t *testing.T) (*Service, *memoryRepository, *eventbus.Bus) {
	t.Helper()
	repo := newMemoryRepository()
	repo.orgs["org-1"] = model.OrganizationItem{OrgID: "org-1", Domain: "acme.example.com", Name: "Acme"}
	repo.users[model.OrgScopedPK("org-1", "agent-a")] = model.UserItem{
		PK: model.OrgScopedPK("org-1", "agent-a"), OrgID: "org-1", UserID: "agent-a", Role: model.RoleAgent,
	}
	repo.users[model.OrgScopedPK("org-1", "agent-b")] = model.UserItem{
		PK: model.OrgScopedPK("org-1", "agent-b"), OrgID: "org-1", UserID: "agent-b", Role: model.RoleAgent,
	}
	repo.contacts[model.ContactPK("org-1", "c-1")] = model.ContactItem{
		PK: model.ContactPK("org-1", "c-1"), OrgID: "org-1", ContactID: "c-1",
		ConvStatus: model.ConversationStatusPending, AssignedToID: "agent-a",
	}

	bus := eventbus.New()
	return NewWithRepository(repo, bus, fixedNow), repo, bus
}

func TestOnInboundTransitions(t *testing.T) {
	var machine StateMachine

	cases := []struct {
		current model.ConversationStatus
		want    model.ConversationStatus
		changed bool
	}{
		{"", model.ConversationStatusPending, true},
		{model.ConversationStatusResolved, model.ConversationStatusPending, true},
		{model.ConversationStatusOpen, model.ConversationStatusOpen, false},
		{model.ConversationStatusPending, model.ConversationStatusPending, false},
	}

	for _, tc := range cases {
		got, changed := machine.OnInbound(tc.current)
		if got != tc.want || changed != tc.changed {
			t.Errorf("OnInbound(%q) = (%q, %v), want (%q, %v)", tc.current, got, changed, tc.want, tc.changed)
		}
	}
}

func TestResolveClearsAssignmentAndPublishes(t *testing.T) {
	service, repo, bus := seedService(t)
	captured := captureOrgEvents(bus, "org-1")
	identity := Identity{UserID: "agent-a", OrgID: "org-1"}

	updated, err := service.ResolveConversation(context.Background(), identity, "c-1")
	if err != nil {
		t.Fatalf("ResolveConversation: %v", err)
	}

	if updated.ConvStatus != model.ConversationStatusResolved {
		t.Fatalf("status = %q", updated.ConvStatus)
	}
	if updated.AssignedToID != "" {
		t.Fatalf("assignment not cleared: %q", updated.AssignedToID)
	}

	stored := repo.contacts[model.ContactPK("org-1", "c-1")]
	if stored.AssignedToID != "" || stored.ConvStatus != model.ConversationStatusResolved {
		t.Fatalf("stored contact = %+v", stored)
	}

	events := captured.all()
	if len(events) != 1 || events[0].Type != eventbus.EventConvUpdated {
		t.Fatalf("events = %+v, want one conv_updated", events)
	}
	var payload dto.ConvUpdatedEvent
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ContactID != "c-1" || payload.ConvStatus != "resolved" || payload.AssignedToID != "" {
		t.Fatalf("payload = %+v", payload)
	}
}

func TestOpenKeepsAssignment(t *testing.T) {
	service, repo, _ := seedService(t)
	identity := Identity{UserID: "agent-b", OrgID: "org-1"}

	updated, err := service.OpenConversation(context.Background(), identity, "c-1")
	if err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}
	if updated.ConvStatus != model.ConversationStatusOpen {
		t.Fatalf("status = %q", updated.ConvStatus)
	}
	if updated.AssignedToID != "agent-a" {
		t.Fatalf("open must not touch assignment, got %q", updated.AssignedToID)
	}

	stored := repo.contacts[model.ContactPK("org-1", "c-1")]
	if stored.AssignedToID != "agent-a" {
		t.Fatalf("stored assignment = %q", stored.AssignedToID)
	}
}

func TestAssignKeepsStatus(t *testing.T) {
	service, _, bus := seedService(t)
	captured := captureOrgEvents(bus, "org-1")
	identity := Identity{UserID: "agent-a", OrgID: "org-1"}

	updated, err := service.AssignContact(context.Background(), identity, "c-1", "agent-b")
	if err != nil {
		t.Fatalf("AssignContact: %v", err)
	}
	if updated.AssignedToID != "agent-b" {
		t.Fatalf("assignment = %q", updated.AssignedToID)
	}
	if updated.ConvStatus != model.ConversationStatusPending {
		t.Fatalf("assignment must keep status, got %q", updated.ConvStatus)
	}
	if len(captured.all()) != 1 {
		t.Fatalf("want one conv_updated event, got %d", len(captured.all()))
	}
}

func TestAssignUnknownAgentRejected(t *testing.T) {
	service, _, _ := seedService(t)
	identity := Identity{UserID: "agent-a", OrgID: "org-1"}

	_, err := service.AssignContact(context.Background(), identity, "c-1", "ghost")
	var svcErr *Error
	if err == nil {
		t.Fatal("expected error")
	}
	if !asServiceError(err, &svcErr) || svcErr.Code != ErrorCodeNotFound {
		t.Fatalf("err = %v", err)
	}
}

func TestClearAssignment(t *testing.T) {
	service, repo, _ := seedService(t)
	identity := Identity{UserID: "agent-a", OrgID: "org-1"}

	updated, err := service.AssignContact(context.Background(), identity, "c-1", "")
	if err != nil {
		t.Fatalf("AssignContact: %v", err)
	}
	if updated.AssignedToID != "" {
		t.Fatalf("assignment = %q, want cleared", updated.AssignedToID)
	}
	if repo.contacts[model.ContactPK("org-1", "c-1")].AssignedToID != "" {
		t.Fatal("stored assignment not cleared")
	}
}

func TestOperationsRequireOrgMembership(t *testing.T) {
	service, _, _ := seedService(t)
	outsider := Identity{UserID: "stranger", OrgID: "org-1"}

	if _, err := service.ResolveConversation(context.Background(), outsider, "c-1"); err == nil {
		t.Fatal("expected unauthorized error")
	}
	if _, err := service.ListContacts(context.Background(), outsider, 10); err == nil {
		t.Fatal("expected unauthorized error")
	}
}

func asServiceError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
