package dao

import (
	"context"
	"errors"
	"time"

	"archpay-bend/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// EscrowDAO stores escrow transactions
type EscrowDAO struct {
	Collection *mongo.Collection
}

// NewEscrowDAO returns a new EscrowDAO
func NewEscrowDAO(db *mongo.Database) *EscrowDAO {
	return &EscrowDAO{Collection: db.Collection(EscrowCollection)}
}

// Insert an escrow transaction. A live escrow for the same buyer and project
// yields models.ErrDuplicate.
func (dao *EscrowDAO) Insert(ctx context.Context, e models.EscrowTransaction) error {
	obj, err := bson.Marshal(e)
	if err != nil {
		return err
	}
	_, err = dao.Collection.InsertOne(ctx, obj)
	if mongo.IsDuplicateKeyError(err) {
		return models.ErrDuplicate
	}
	return err
}

// FindByID retrieves an escrow by its id
func (dao *EscrowDAO) FindByID(ctx context.Context, id primitive.ObjectID) (models.EscrowTransaction, error) {
	var e models.EscrowTransaction
	err := dao.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&e)
	return e, notFound(err)
}

// Transition updates an escrow only while it still has status from and
// no refund is in flight, and returns the updated row
func (dao *EscrowDAO) Transition(ctx context.Context, id primitive.ObjectID, from string, change models.EscrowChange) (models.EscrowTransaction, error) {
	var e models.EscrowTransaction

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := dao.Collection.FindOneAndUpdate(ctx, transitionFilter(id, from, change), transitionUpdate(from, change), opts).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return e, models.ErrStatusChanged
	}
	return e, err
}

// ClaimRefund marks a held or disputed escrow as being refunded at at.
// Fails with models.ErrStatusChanged when the escrow cannot be refunded or
// another refund holds a live claim.
func (dao *EscrowDAO) ClaimRefund(ctx context.Context, id primitive.ObjectID, at time.Time) (models.EscrowTransaction, error) {
	var e models.EscrowTransaction

	filter := bson.M{
		"_id":    id,
		"status": bson.M{"$in": bson.A{models.EscrowHeld, models.EscrowDisputed}},
		"$or":    noRefundClaim(at),
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := dao.Collection.FindOneAndUpdate(ctx, filter, bson.M{"$set": bson.M{"refund_pending_at": at}}, opts).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return e, models.ErrStatusChanged
	}
	return e, err
}

// ReleaseRefundClaim drops the refund claim made at at, if it is still there
func (dao *EscrowDAO) ReleaseRefundClaim(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := dao.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "refund_pending_at": at},
		bson.M{"$unset": bson.M{"refund_pending_at": ""}},
	)
	return err
}

// Query returns escrows matching filter, newest first
func (dao *EscrowDAO) Query(ctx context.Context, filter bson.M, limit int64) ([]models.EscrowTransaction, error) {
	var escrows []models.EscrowTransaction

	opts := options.Find()
	opts.SetSort(bson.M{"created_at": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := dao.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}

	err = cursor.All(ctx, &escrows)
	return escrows, err
}

func transitionFilter(id primitive.ObjectID, from string, change models.EscrowChange) bson.M {
	filter := bson.M{"_id": id, "status": from}
	if change.Status != models.EscrowRefunded {
		filter["$or"] = noRefundClaim(change.At)
	}
	return filter
}

func transitionUpdate(from string, change models.EscrowChange) bson.M {
	update := bson.M{"$set": changeSet(from, change)}
	if change.Status == models.EscrowRefunded {
		update["$unset"] = bson.M{"refund_pending_at": ""}
	}
	return update
}

// noRefundClaim matches rows without a live refund claim at now, the same
// rule as models.EscrowTransaction.RefundInFlight
func noRefundClaim(now time.Time) bson.A {
	return bson.A{
		bson.M{"refund_pending_at": nil},
		bson.M{"refund_pending_at": bson.M{"$lte": now.Add(-models.RefundClaimTTL)}},
	}
}

// changeSet mirrors models.EscrowChange.Apply as a $set document
func changeSet(from string, c models.EscrowChange) bson.M {
	set := bson.M{
		"status":     c.Status,
		"open":       !models.IsTerminalEscrowStatus(c.Status),
		"updated_at": c.At,
	}
	if c.ConversationID != "" {
		set["conversation_id"] = c.ConversationID
	}
	if c.PaymentID != nil {
		set["payment_id"] = *c.PaymentID
	}
	if len(c.PaymentTransactionIDs) > 0 {
		set["payment_transaction_ids"] = c.PaymentTransactionIDs
	}
	if c.RefundID != nil {
		set["refund_id"] = *c.RefundID
	}
	if c.FailureReason != "" {
		set["failure_reason"] = c.FailureReason
	}
	if c.DisputeReason != "" {
		set["dispute_reason"] = c.DisputeReason
	}
	if c.DisputedBy != nil {
		set["disputed_by"] = *c.DisputedBy
	}

	switch c.Status {
	case models.EscrowHeld:
		set["held_at"] = c.At
	case models.EscrowReleased:
		set["released_at"] = c.At
		if from == models.EscrowDisputed {
			set["resolved_at"] = c.At
		}
	case models.EscrowDisputed:
		set["disputed_at"] = c.At
	case models.EscrowRefunded:
		set["resolved_at"] = c.At
	}
	return set
}
