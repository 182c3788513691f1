// Package store holds the durable document-store collaborators the core
// depends on: users with their online flag and visibility preference, and
// persisted notification records.
package store

import (
	"context"
	"time"
)

// User is the durable user record. IsOnline is a cached projection of the
// live connection count, updated only on 0↔1 transitions.
type User struct {
	ID                  string    `bson:"_id,omitempty" json:"id"`
	Username            string    `bson:"username" json:"username"`
	FullName            string    `bson:"fullName" json:"fullName"`
	Email               string    `bson:"email" json:"email"`
	IsOnline            bool      `bson:"isOnline" json:"isOnline"`
	LastActiveAt        time.Time `bson:"lastActiveAt,omitempty" json:"lastActiveAt"`
	DisplayOnlineStatus bool      `bson:"displayOnlineStatus" json:"displayOnlineStatus"`
}

// OnlineStatus is the presence projection written by the coordinator.
type OnlineStatus struct {
	Online       bool
	LastActiveAt *time.Time
}

// UserStore is the durable user collaborator. FindByID and UpdateOnlineStatus
// return (nil, nil) when the user does not exist.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*User, error)
	// UpdateOnlineStatus returns the post-update record so the caller can
	// read the DisplayOnlineStatus preference.
	UpdateOnlineStatus(ctx context.Context, id string, status OnlineStatus) (*User, error)
	// ResetOnlineStatus forces every online flag to false. Run at startup,
	// before connections are accepted: a fresh process has no live
	// connections, whatever a crashed predecessor left behind.
	ResetOnlineStatus(ctx context.Context) (int64, error)
}

// Notification is the persisted notification record. The transient fan-out
// event is a separate thing; see the notify package.
type Notification struct {
	ID        string    `bson:"_id,omitempty" json:"id"`
	Type      string    `bson:"type" json:"type"`
	PostID    string    `bson:"postId,omitempty" json:"postId,omitempty"`
	CommentID string    `bson:"commentId,omitempty" json:"commentId,omitempty"`
	FromIDs   []string  `bson:"fromIds" json:"fromIds"`
	ToID      string    `bson:"toId" json:"toId"`
	Seen      bool      `bson:"seen" json:"seen"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// NotificationStore persists notification records. Fan-out happens after the
// durable write succeeds, never before.
type NotificationStore interface {
	Insert(ctx context.Context, n *Notification) (*Notification, error)
	Delete(ctx context.Context, id string) (bool, error)
	// MarkSeen marks the given ids (or all unseen for the recipient when
	// seenAll is set) and returns how many records changed.
	MarkSeen(ctx context.Context, recipientID string, ids []string, seenAll bool) (int64, error)
}
