package gateway

import (
	"context"
	"fmt"

	"github.com/funsideprojects/open-network-backend/apperr"
	"github.com/funsideprojects/open-network-backend/notify"
	"github.com/funsideprojects/open-network-backend/store"
)

// NotificationResolvers are the mutation handlers for notification records.
// Each one writes durably first and fans out only after the write succeeds,
// so a lost event never means lost data.
type NotificationResolvers struct {
	Notifier *notify.Notifier
}

// UpdateNotificationSeenInput marks specific notifications, or all unseen
// ones for the caller, as seen.
type UpdateNotificationSeenInput struct {
	IDs     []string `json:"ids"`
	SeenAll bool     `json:"seenAll"`
}

// UpdateNotificationSeen marks notifications seen and nudges the caller's
// other devices to refresh their badge.
func (nr *NotificationResolvers) UpdateNotificationSeen(input UpdateNotificationSeenInput) Resolver {
	return RequireAuth(func(ctx context.Context, rc *RequestContext) (any, error) {
		modified, err := rc.Notifications.MarkSeen(ctx, rc.AuthUser.ID, input.IDs, input.SeenAll)
		if err != nil {
			return nil, fmt.Errorf("mark notifications seen: %w", err)
		}

		if modified > 0 {
			nr.Notifier.Notify(ctx, notify.Event{
				Operation:  notify.OperationCreate,
				Type:       notify.TypeNotification,
				Recipients: []string{rc.AuthUser.ID},
			})
		}
		return true, nil
	})
}

// DeleteNotificationInput identifies the record to remove.
type DeleteNotificationInput struct {
	ID string `json:"id"`
}

func (nr *NotificationResolvers) DeleteNotification(input DeleteNotificationInput) Resolver {
	return RequireAuth(func(ctx context.Context, rc *RequestContext) (any, error) {
		if input.ID == "" {
			return nil, apperr.New(apperr.KindInvalidInput, "notification id required")
		}

		deleted, err := rc.Notifications.Delete(ctx, input.ID)
		if err != nil {
			return nil, fmt.Errorf("delete notification: %w", err)
		}

		if deleted {
			nr.Notifier.Notify(ctx, notify.Event{
				Operation:  notify.OperationDelete,
				Type:       notify.TypeNotification,
				Recipients: []string{rc.AuthUser.ID},
			})
		}
		return true, nil
	})
}

// CreateNotificationInput records that an actor did something notification
// worthy to someone else. Recipients are resolved by the caller — the post's
// subscribers, the followed user — with the acting user already excluded.
type CreateNotificationInput struct {
	Type       notify.Type
	DataID     string
	Actor      *notify.Profile
	Recipients []string
}

func (nr *NotificationResolvers) CreateNotification(input CreateNotificationInput) Resolver {
	return RequireAuth(func(ctx context.Context, rc *RequestContext) (any, error) {
		var created *store.Notification
		for _, recipient := range input.Recipients {
			n, err := rc.Notifications.Insert(ctx, &store.Notification{
				Type:    string(input.Type),
				PostID:  input.DataID,
				FromIDs: []string{rc.AuthUser.ID},
				ToID:    recipient,
			})
			if err != nil {
				return nil, fmt.Errorf("insert notification: %w", err)
			}
			created = n
		}

		nr.Notifier.Notify(ctx, notify.Event{
			Operation:  notify.OperationCreate,
			Type:       input.Type,
			DataID:     input.DataID,
			From:       input.Actor,
			Recipients: input.Recipients,
		})
		return created, nil
	})
}
