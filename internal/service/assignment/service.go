package assignment

import (
	"context"
	"log"
	"math/rand"
	"time"

	"omnidesk-backend/internal/database"
	"omnidesk-backend/internal/dto"
	"omnidesk-backend/internal/eventbus"
	"omnidesk-backend/internal/model"
)

type Service struct {
	repo    Repository
	bus     *eventbus.Bus
	now     func() time.Time
	randInt func(n int) int
}

func New(db *database.Database, bus *eventbus.Bus) *Service {
	return &Service{
		repo:    NewDynamoRepository(db),
		bus:     bus,
		now:     time.Now,
		randInt: rand.Intn,
	}
}

func NewWithRepository(repo Repository, bus *eventbus.Bus, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:    repo,
		bus:     bus,
		now:     now,
		randInt: rand.Intn,
	}
}

// AutoAssign is the pipeline's background hook: it picks an agent for a
// freshly created contact and applies the assignment. Failures are
// logged and swallowed; the contact simply stays unassigned.
func (s *Service) AutoAssign(ctx context.Context, contact model.ContactItem) {
	org, err := s.repo.GetOrganization(ctx, contact.OrgID)
	if err != nil {
		log.Printf("assignment: load org %s: %v", contact.OrgID, err)
		return
	}

	agentID, err := s.DetermineAssignee(ctx, org, contact)
	if err != nil {
		log.Printf("assignment: determine assignee for %s: %v", contact.ContactID, err)
		return
	}
	if agentID == "" {
		return
	}

	nowStr := s.now().UTC().Format(time.RFC3339)
	updated, err := s.repo.UpdateContactAssignment(ctx, contact.OrgID, contact.ContactID, agentID, nowStr)
	if err != nil {
		log.Printf("assignment: assign %s to %s: %v", contact.ContactID, agentID, err)
		return
	}

	s.publishConvUpdated(updated)
}

// DetermineAssignee picks exactly one agent for the contact, or returns
// "" to decline. It never retries and never blocks on a busy pool.
func (s *Service) DetermineAssignee(ctx context.Context, org model.OrganizationItem, contact model.ContactItem) (string, error) {
	if !org.AutoAssign {
		return "", nil
	}

	rules, err := s.repo.ListRules(ctx, org.OrgID)
	if err != nil {
		return "", err
	}

	var matched *model.AssignmentRuleItem
	for i := range rules {
		if !rules[i].Enabled {
			continue
		}
		if s.ruleMatches(rules[i], contact) {
			matched = &rules[i]
			break
		}
	}

	pool, err := s.candidatePool(ctx, org.OrgID, matched)
	if err != nil {
		return "", err
	}
	if len(pool) == 0 {
		return "", nil
	}

	strategy := model.StrategyRoundRobinByLoad
	if matched != nil && matched.Strategy != "" {
		strategy = matched.Strategy
	}

	switch strategy {
	case model.StrategyRandom:
		return pool[s.randInt(len(pool))], nil
	default:
		return s.leastLoaded(ctx, org.OrgID, pool)
	}
}

// ruleMatches evaluates one rule condition. Tag, keyword and time-window
// conditions are accepted in stored rules but evaluate to false; their
// matching semantics were never specified upstream.
func (s *Service) ruleMatches(rule model.AssignmentRuleItem, contact model.ContactItem) bool {
	switch rule.Condition {
	case model.RuleConditionAlways:
		return true
	case model.RuleConditionChannel:
		for _, channelID := range rule.ChannelIDs {
			if channelID == contact.ChannelID {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// candidatePool resolves the agent pool: the rule's explicit list when
// it has one, otherwise every agent-role user in the organization.
func (s *Service) candidatePool(ctx context.Context, orgID string, rule *model.AssignmentRuleItem) ([]string, error) {
	if rule != nil && len(rule.AgentIDs) > 0 {
		return rule.AgentIDs, nil
	}

	agents, err := s.repo.ListAgents(ctx, orgID)
	if err != nil {
		return nil, err
	}
	pool := make([]string, 0, len(agents))
	for _, agent := range agents {
		pool = append(pool, agent.UserID)
	}
	return pool, nil
}

// leastLoaded picks the pool member with the fewest open-or-pending
// assigned conversations. Ties keep the first candidate encountered, so
// the choice is stable for a given pool order.
func (s *Service) leastLoaded(ctx context.Context, orgID string, pool []string) (string, error) {
	best := ""
	bestLoad := -1
	for _, agentID := range pool {
		load, err := s.repo.CountActiveAssignments(ctx, orgID, agentID)
		if err != nil {
			return "", err
		}
		if bestLoad < 0 || load < bestLoad {
			best = agentID
			bestLoad = load
		}
	}
	return best, nil
}

func (s *Service) publishConvUpdated(contact model.ContactItem) {
	if s.bus == nil {
		return
	}
	event, err := eventbus.NewEvent(eventbus.EventConvUpdated, contact.OrgID, dto.ConvUpdatedEvent{
		ContactID:    contact.ContactID,
		ConvStatus:   string(contact.ConvStatus),
		AssignedToID: contact.AssignedToID,
		UpdatedAt:    contact.UpdatedAt,
	})
	if err != nil {
		log.Printf("assignment: marshal conv_updated: %v", err)
		return
	}
	s.bus.Publish(eventbus.OrganizationTopic(contact.OrgID), event)
}
