package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/parking-bookings/internal/domain"
	"github.com/robertarktes/parking-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id,omitempty"`
	BookingID string    `bson:"booking_id,omitempty"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

// EnsureIndexes creates the lookup index used to replay one booking's history.
func (a *AuditLogger) EnsureIndexes(ctx context.Context) error {
	_, err := a.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "booking_id", Value: 1}, {Key: "timestamp", Value: 1}},
		Options: options.Index().SetName("booking_timeline"),
	})
	return errors.Wrap(err, "create audit index")
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID, bookingID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		Timestamp: time.Now().UTC(),
		Data:      bson.M(data),
	}
	if userID != uuid.Nil {
		log.UserID = userID.String()
	}
	if bookingID != uuid.Nil {
		log.BookingID = bookingID.String()
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) LogTransition(ctx context.Context, t domain.Transition) error {
	data := map[string]interface{}{
		"from": string(t.From),
		"to":   string(t.To),
		"at":   t.At.UTC().Format(time.RFC3339Nano),
	}
	if t.SlotID != nil {
		data["slot_id"] = t.SlotID.String()
	}
	return a.LogEvent(ctx, "booking."+t.Operation, t.Actor, t.BookingID, data)
}

// History returns the audit records of one booking, oldest first.
func (a *AuditLogger) History(ctx context.Context, bookingID uuid.UUID) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID.String()},
		options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(err, "find audit logs")
	}
	var out []AuditLog
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode audit logs")
	}
	return out, nil
}
