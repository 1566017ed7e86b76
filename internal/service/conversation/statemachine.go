package conversation

import "omnidesk-backend/internal/model"

// StateMachine owns the conversation status transition rules:
//
//	inbound message  resolved/unset -> pending, otherwise unchanged
//	agent open       any -> open
//	agent resolve    any -> resolved, assignment cleared
//	agent (re)assign status unchanged, assignment set or cleared
//
// An inbound message on an open or pending conversation must not reset
// it to pending, and never touches the assignment, so an agent who is
// actively viewing the thread does not have it yanked away.
type StateMachine struct{}

// OnInbound returns the status after an inbound message and whether it
// changed.
func (StateMachine) OnInbound(current model.ConversationStatus) (model.ConversationStatus, bool) {
	switch current {
	case model.ConversationStatusOpen, model.ConversationStatusPending:
		return current, false
	default:
		return model.ConversationStatusPending, true
	}
}
