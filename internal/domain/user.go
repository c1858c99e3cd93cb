package domain

import "time"

// UserState is the conversational state of a bot user.
type UserState string

const (
	StateNone                  UserState = ""
	StateAwaitingTargetAddress UserState = "awaiting_target_address"
)

// String returns the string representation of UserState.
func (s UserState) String() string {
	return string(s)
}

// UserStatus marks whether a user currently tracks an address.
type UserStatus string

const (
	StatusNone   UserStatus = ""
	StatusActive UserStatus = "active"
)

// User is the persisted record of a chat user. Keyed by the chat user id.
// Corresponds to the users collection of the document store.
type User struct {
	ID             int64      `json:"id" bson:"_id"`
	State          UserState  `json:"state,omitempty" bson:"state,omitempty"`
	StateTimestamp *time.Time `json:"stateTimestamp,omitempty" bson:"stateTimestamp,omitempty"`
	SubscriptionID *uint64    `json:"subscriptionId,omitempty" bson:"subscriptionId,omitempty"` // handle of the live subscription
	CopyTarget     string     `json:"copyTarget,omitempty" bson:"copyTarget,omitempty"`         // address being tracked
	Status         UserStatus `json:"status,omitempty" bson:"status,omitempty"`
	CreatedAt      time.Time  `json:"createdAt" bson:"createdAt"`
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.StateTimestamp != nil {
		ts := *u.StateTimestamp
		c.StateTimestamp = &ts
	}
	if u.SubscriptionID != nil {
		id := *u.SubscriptionID
		c.SubscriptionID = &id
	}
	return &c
}

// SetState moves the user into state and stamps the transition time.
func (u *User) SetState(state UserState, now time.Time) {
	u.State = state
	if state == StateNone {
		u.StateTimestamp = nil
		return
	}
	ts := now.UTC()
	u.StateTimestamp = &ts
}

// IsTracking reports whether the user has an active tracked address.
func (u *User) IsTracking() bool {
	return u != nil && u.Status == StatusActive && u.CopyTarget != ""
}

// ClearTracking drops the subscription handle and tracked address.
func (u *User) ClearTracking() {
	u.SubscriptionID = nil
	u.CopyTarget = ""
	u.Status = StatusNone
}
