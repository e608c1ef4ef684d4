package access

import (
	"time"

	"subgate/internal/subscription"
)

// ChatKind is the type of conversation a request comes from.
type ChatKind string

const (
	ChatPrivate    ChatKind = "private"
	ChatGroup      ChatKind = "group"
	ChatSupergroup ChatKind = "supergroup"
	ChatChannel    ChatKind = "channel"
)

// IsGroup reports whether the chat is a (super)group.
func (k ChatKind) IsGroup() bool {
	return k == ChatGroup || k == ChatSupergroup
}

// Chat identifies the context of a request. ThreadID is the forum topic of
// the message, 0 outside topics.
type Chat struct {
	ID       int64    `json:"id"`
	Kind     ChatKind `json:"kind"`
	ThreadID int64    `json:"thread_id,omitempty"`
}

// Reason explains an access decision.
type Reason string

const (
	ReasonOwner             Reason = "owner"
	ReasonPrivileged        Reason = "privileged"
	ReasonAuthorizedChat    Reason = "authorized_chat"
	ReasonFreeGroup         Reason = "free_group"
	ReasonSubscriberPrivate Reason = "subscriber_private"
	ReasonSubscriberGroup   Reason = "subscriber_bound_group"
	ReasonDenied            Reason = "denied"
)

// Decision is the result of Authorize.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// Policy holds the static access configuration. It is read-only after
// construction.
type Policy struct {
	OwnerID    int64
	Privileged map[int64]struct{}
	// AuthorizedChats maps a chat to the topic threads allowed in it. An
	// empty set allows the whole chat.
	AuthorizedChats map[int64]map[int64]struct{}
	FreeGroupID     int64 // 0 disables the free group
}

// NewPolicy builds a policy from id lists. authorizedChats maps chat ids to
// their allowed thread ids.
func NewPolicy(ownerID int64, privileged []int64, authorizedChats map[int64][]int64, freeGroupID int64) Policy {
	chats := make(map[int64]map[int64]struct{}, len(authorizedChats))
	for chatID, threads := range authorizedChats {
		chats[chatID] = toSet(threads)
	}
	return Policy{
		OwnerID:         ownerID,
		Privileged:      toSet(privileged),
		AuthorizedChats: chats,
		FreeGroupID:     freeGroupID,
	}
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// IsFreeGroup reports whether chatID is the configured free-access group.
func (p Policy) IsFreeGroup(chatID int64) bool {
	return p.FreeGroupID != 0 && chatID == p.FreeGroupID
}

func (p Policy) isPrivileged(principal int64) bool {
	_, ok := p.Privileged[principal]
	return ok
}

// isAuthorizedChat reports whether chat is on the allow-list. A chat limited
// to some threads only passes for messages inside one of them.
func (p Policy) isAuthorizedChat(chat Chat) bool {
	if chat.ID == 0 {
		return false
	}
	threads, ok := p.AuthorizedChats[chat.ID]
	if !ok {
		return false
	}
	if len(threads) == 0 {
		return true
	}
	_, ok = threads[chat.ThreadID]
	return ok && chat.ThreadID != 0
}

// Authorize decides whether principal may use the service from chat. rec is
// the principal's subscription record and may be nil. It performs no I/O.
func (p Policy) Authorize(principal int64, chat Chat, rec *subscription.Record, now time.Time) Decision {
	switch {
	case p.OwnerID != 0 && principal == p.OwnerID:
		return Decision{Allowed: true, Reason: ReasonOwner}
	case p.isPrivileged(principal):
		return Decision{Allowed: true, Reason: ReasonPrivileged}
	case p.IsFreeGroup(chat.ID):
		return Decision{Allowed: true, Reason: ReasonFreeGroup}
	}
	if p.isAuthorizedChat(chat) {
		return Decision{Allowed: true, Reason: ReasonAuthorizedChat}
	}

	if rec != nil && rec.IsActive(now) {
		if chat.Kind == ChatPrivate {
			return Decision{Allowed: true, Reason: ReasonSubscriberPrivate}
		}
		if chat.Kind.IsGroup() && rec.BoundGroupID != 0 && chat.ID == rec.BoundGroupID {
			return Decision{Allowed: true, Reason: ReasonSubscriberGroup}
		}
	}
	return Decision{Allowed: false, Reason: ReasonDenied}
}

// IsSubscriber reports whether principal counts as a paying user: the owner
// and privileged users always do.
func (p Policy) IsSubscriber(principal int64, rec *subscription.Record, now time.Time) bool {
	if p.OwnerID != 0 && principal == p.OwnerID {
		return true
	}
	if p.isPrivileged(principal) {
		return true
	}
	return rec != nil && rec.IsActive(now)
}
