package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserStore implements UserStore over the users collection.
type MongoUserStore struct {
	coll *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{coll: db.Collection("users")}
}

// userDoc is the BSON shape; ObjectIDs are converted to hex at the boundary.
type userDoc struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty"`
	Username            string             `bson:"username"`
	FullName            string             `bson:"fullName"`
	Email               string             `bson:"email"`
	IsOnline            bool               `bson:"isOnline"`
	LastActiveAt        time.Time          `bson:"lastActiveAt,omitempty"`
	DisplayOnlineStatus bool               `bson:"displayOnlineStatus"`
}

func (d *userDoc) toUser() *User {
	return &User{
		ID:                  d.ID.Hex(),
		Username:            d.Username,
		FullName:            d.FullName,
		Email:               d.Email,
		IsOnline:            d.IsOnline,
		LastActiveAt:        d.LastActiveAt,
		DisplayOnlineStatus: d.DisplayOnlineStatus,
	}
}

func (s *MongoUserStore) FindByID(ctx context.Context, id string) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// Malformed ids come from expired tokens and stale clients; treat
		// them as not found rather than an internal error.
		return nil, nil
	}

	var doc userDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return doc.toUser(), nil
}

func (s *MongoUserStore) UpdateOnlineStatus(ctx context.Context, id string, status OnlineStatus) (*User, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, nil
	}

	set := bson.M{"isOnline": status.Online}
	if status.LastActiveAt != nil {
		set["lastActiveAt"] = *status.LastActiveAt
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc userDoc
	err = s.coll.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update online status for %s: %w", id, err)
	}
	return doc.toUser(), nil
}

func (s *MongoUserStore) ResetOnlineStatus(ctx context.Context) (int64, error) {
	res, err := s.coll.UpdateMany(ctx, bson.M{"isOnline": true}, bson.M{"$set": bson.M{"isOnline": false}})
	if err != nil {
		return 0, fmt.Errorf("reset online status: %w", err)
	}
	return res.ModifiedCount, nil
}

// MongoNotificationStore implements NotificationStore over the notifications
// collection.
type MongoNotificationStore struct {
	coll *mongo.Collection
}

func NewMongoNotificationStore(db *mongo.Database) *MongoNotificationStore {
	return &MongoNotificationStore{coll: db.Collection("notifications")}
}

type notificationDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Type      string             `bson:"type"`
	PostID    string             `bson:"postId,omitempty"`
	CommentID string             `bson:"commentId,omitempty"`
	FromIDs   []string           `bson:"fromIds"`
	ToID      string             `bson:"toId"`
	Seen      bool               `bson:"seen"`
	CreatedAt time.Time          `bson:"createdAt"`
}

func (s *MongoNotificationStore) Insert(ctx context.Context, n *Notification) (*Notification, error) {
	doc := notificationDoc{
		Type:      n.Type,
		PostID:    n.PostID,
		CommentID: n.CommentID,
		FromIDs:   n.FromIDs,
		ToID:      n.ToID,
		Seen:      n.Seen,
		CreatedAt: time.Now(),
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}

	out := *n
	out.ID = res.InsertedID.(primitive.ObjectID).Hex()
	out.CreatedAt = doc.CreatedAt
	return &out, nil
}

func (s *MongoNotificationStore) Delete(ctx context.Context, id string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, fmt.Errorf("delete notification %s: %w", id, err)
	}
	return res.DeletedCount > 0, nil
}

func (s *MongoNotificationStore) MarkSeen(ctx context.Context, recipientID string, ids []string, seenAll bool) (int64, error) {
	var filter bson.M
	switch {
	case seenAll:
		filter = bson.M{"toId": recipientID, "seen": false}
	case len(ids) > 0:
		oids := make([]primitive.ObjectID, 0, len(ids))
		for _, id := range ids {
			if oid, err := primitive.ObjectIDFromHex(id); err == nil {
				oids = append(oids, oid)
			}
		}
		if len(oids) == 0 {
			return 0, nil
		}
		filter = bson.M{"_id": bson.M{"$in": oids}, "seen": false}
	default:
		return 0, nil
	}

	res, err := s.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return 0, fmt.Errorf("mark notifications seen: %w", err)
	}
	return res.ModifiedCount, nil
}

// Connect dials MongoDB with retries, the same shape as every other external
// dependency at startup. It pings before returning.
func Connect(ctx context.Context, uri string, attempts int) (*mongo.Client, error) {
	var client *mongo.Client
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(ctx, nil)
		}
		if err == nil {
			return client, nil
		}
		time.Sleep(2 * time.Second)
	}
	return nil, fmt.Errorf("connect to mongodb: %w", err)
}
