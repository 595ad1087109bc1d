package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	recordsCollection     = "subscription_records"
	projectionsCollection = "user_billing"
)

// MongoStore persists records and projections in MongoDB. The paired
// record+projection write runs inside a single transaction so the two can
// never partially commit, and record updates are compare-and-swap on
// {_id, status} so concurrent writers cannot silently overwrite each other.
type MongoStore struct {
	client      *mongo.Client
	records     *mongo.Collection
	projections *mongo.Collection
}

// NewMongoStore creates the store and ensures its indexes.
func NewMongoStore(ctx context.Context, db *mongo.Database) (*MongoStore, error) {
	s := &MongoStore{
		client:      db.Client(),
		records:     db.Collection(recordsCollection),
		projections: db.Collection(projectionsCollection),
	}

	_, err := s.records.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}}},
		{Keys: bson.D{{Key: "external_subscription_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "external_customer_id", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_date", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "trial_end_date", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create record indexes: %w", err)
	}
	return s, nil
}

// recordDoc is the storage shape of a Record. Keeping bson tags out of the
// domain type keeps the state machine independent of the storage technology.
type recordDoc struct {
	ID                     string     `bson:"_id"`
	UserID                 string     `bson:"user_id"`
	Plan                   string     `bson:"plan"`
	Status                 string     `bson:"status"`
	StartDate              time.Time  `bson:"start_date"`
	EndDate                time.Time  `bson:"end_date"`
	TrialEndDate           *time.Time `bson:"trial_end_date,omitempty"`
	ExternalCustomerID     string     `bson:"external_customer_id,omitempty"`
	ExternalSubscriptionID string     `bson:"external_subscription_id,omitempty"`
	LastPaymentDate        *time.Time `bson:"last_payment_date,omitempty"`
	NextPaymentDate        *time.Time `bson:"next_payment_date,omitempty"`
	CanceledAt             *time.Time `bson:"canceled_at,omitempty"`
	CancelReason           string     `bson:"cancel_reason,omitempty"`
	PaymentAtRisk          bool       `bson:"payment_at_risk"`
	CreatedAt              time.Time  `bson:"created_at"`
	UpdatedAt              time.Time  `bson:"updated_at"`
}

type projectionDoc struct {
	UserID          string     `bson:"_id"`
	Status          string     `bson:"subscription_status"`
	TrialStartDate  *time.Time `bson:"trial_start_date,omitempty"`
	TrialEndDate    *time.Time `bson:"trial_end_date,omitempty"`
	CurrentRecordID *string    `bson:"current_subscription_id,omitempty"`
	History         []string   `bson:"subscription_history"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func toRecordDoc(rec *Record) recordDoc {
	return recordDoc{
		ID:                     rec.ID.String(),
		UserID:                 rec.UserID.String(),
		Plan:                   string(rec.Plan),
		Status:                 string(rec.Status),
		StartDate:              rec.StartDate,
		EndDate:                rec.EndDate,
		TrialEndDate:           rec.TrialEndDate,
		ExternalCustomerID:     rec.ExternalCustomerID,
		ExternalSubscriptionID: rec.ExternalSubscriptionID,
		LastPaymentDate:        rec.LastPaymentDate,
		NextPaymentDate:        rec.NextPaymentDate,
		CanceledAt:             rec.CanceledAt,
		CancelReason:           rec.CancelReason,
		PaymentAtRisk:          rec.PaymentAtRisk,
		CreatedAt:              rec.CreatedAt,
		UpdatedAt:              rec.UpdatedAt,
	}
}

func (d *recordDoc) toRecord() (*Record, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("parse record id %q: %w", d.ID, err)
	}
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", d.UserID, err)
	}
	return &Record{
		ID:                     id,
		UserID:                 userID,
		Plan:                   PlanType(d.Plan),
		Status:                 Status(d.Status),
		StartDate:              d.StartDate,
		EndDate:                d.EndDate,
		TrialEndDate:           d.TrialEndDate,
		ExternalCustomerID:     d.ExternalCustomerID,
		ExternalSubscriptionID: d.ExternalSubscriptionID,
		LastPaymentDate:        d.LastPaymentDate,
		NextPaymentDate:        d.NextPaymentDate,
		CanceledAt:             d.CanceledAt,
		CancelReason:           d.CancelReason,
		PaymentAtRisk:          d.PaymentAtRisk,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
	}, nil
}

func (s *MongoStore) findRecord(ctx context.Context, filter bson.D, opts ...options.Lister[options.FindOneOptions]) (*Record, error) {
	var doc recordDoc
	err := s.records.FindOne(ctx, filter, opts...).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	return doc.toRecord()
}

func (s *MongoStore) GetRecord(ctx context.Context, id uuid.UUID) (*Record, error) {
	return s.findRecord(ctx, bson.D{{Key: "_id", Value: id.String()}})
}

func (s *MongoStore) GetRecordByExternalSubID(ctx context.Context, externalSubID string) (*Record, error) {
	if externalSubID == "" {
		return nil, ErrRecordNotFound
	}
	return s.findRecord(ctx, bson.D{{Key: "external_subscription_id", Value: externalSubID}})
}

func (s *MongoStore) GetRecordByExternalCustomerID(ctx context.Context, externalCustomerID string) (*Record, error) {
	if externalCustomerID == "" {
		return nil, ErrRecordNotFound
	}
	return s.findRecord(ctx,
		bson.D{{Key: "external_customer_id", Value: externalCustomerID}},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}}))
}

func (s *MongoStore) GetProjection(ctx context.Context, userID uuid.UUID) (*Projection, error) {
	var doc projectionDoc
	err := s.projections.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrProjectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find projection: %w", err)
	}

	proj := &Projection{
		UserID:         userID,
		Status:         Status(doc.Status),
		TrialStartDate: doc.TrialStartDate,
		TrialEndDate:   doc.TrialEndDate,
		UpdatedAt:      doc.UpdatedAt,
	}
	if doc.CurrentRecordID != nil {
		id, err := uuid.Parse(*doc.CurrentRecordID)
		if err != nil {
			return nil, fmt.Errorf("parse current record id: %w", err)
		}
		proj.CurrentRecordID = &id
	}
	for _, raw := range doc.History {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse history record id: %w", err)
		}
		proj.History = append(proj.History, id)
	}
	return proj, nil
}

// CreateRecord inserts the record and repoints the projection in one
// transaction. The projection's history is append-only: new ids are pushed,
// never rewritten.
func (s *MongoStore) CreateRecord(ctx context.Context, rec *Record) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		var proj projectionDoc
		err := s.projections.FindOne(ctx, bson.D{{Key: "_id", Value: rec.UserID.String()}}).Decode(&proj)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("find projection: %w", err)
		}
		if err == nil && proj.CurrentRecordID != nil {
			current, err := s.findRecord(ctx, bson.D{{Key: "_id", Value: *proj.CurrentRecordID}})
			if err != nil && !errors.Is(err, ErrRecordNotFound) {
				return nil, err
			}
			if current != nil && !current.Status.Terminal() {
				return nil, ErrSubscriptionExists
			}
		}

		if _, err := s.records.InsertOne(ctx, toRecordDoc(rec)); err != nil {
			return nil, fmt.Errorf("insert record: %w", err)
		}

		set := bson.D{
			{Key: "subscription_status", Value: string(rec.Status)},
			{Key: "current_subscription_id", Value: rec.ID.String()},
			{Key: "updated_at", Value: rec.UpdatedAt},
		}
		if rec.Status == StatusTrial {
			set = append(set,
				bson.E{Key: "trial_start_date", Value: rec.StartDate},
				bson.E{Key: "trial_end_date", Value: rec.TrialEndDate})
		}
		update := bson.D{
			{Key: "$set", Value: set},
			{Key: "$push", Value: bson.D{{Key: "subscription_history", Value: rec.ID.String()}}},
		}
		_, err = s.projections.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: rec.UserID.String()}},
			update,
			options.UpdateOne().SetUpsert(true))
		if err != nil {
			return nil, fmt.Errorf("update projection: %w", err)
		}
		return nil, nil
	})
	return err
}

// UpdateRecord is the compare-and-swap write: the record is replaced only if
// its stored status still matches expected, and the projection follows in
// the same transaction.
func (s *MongoStore) UpdateRecord(ctx context.Context, rec *Record, expected Status) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		res, err := s.records.ReplaceOne(ctx,
			bson.D{
				{Key: "_id", Value: rec.ID.String()},
				{Key: "status", Value: string(expected)},
			},
			toRecordDoc(rec))
		if err != nil {
			return nil, fmt.Errorf("replace record: %w", err)
		}
		if res.MatchedCount == 0 {
			// Either the record vanished or its status moved since the
			// caller read it; distinguish for the caller.
			count, err := s.records.CountDocuments(ctx, bson.D{{Key: "_id", Value: rec.ID.String()}})
			if err != nil {
				return nil, fmt.Errorf("check record existence: %w", err)
			}
			if count == 0 {
				return nil, ErrRecordNotFound
			}
			return nil, ErrConcurrentUpdate
		}

		_, err = s.projections.UpdateOne(ctx,
			bson.D{
				{Key: "_id", Value: rec.UserID.String()},
				{Key: "current_subscription_id", Value: rec.ID.String()},
			},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "subscription_status", Value: string(rec.Status)},
				{Key: "updated_at", Value: rec.UpdatedAt},
			}}})
		if err != nil {
			return nil, fmt.Errorf("update projection: %w", err)
		}
		return nil, nil
	})
	return err
}

func (s *MongoStore) listRecords(ctx context.Context, filter bson.D, limit int64) ([]Record, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.records.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Record
	for cursor.Next(ctx) {
		var doc recordDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		rec, err := doc.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func (s *MongoStore) ListExpiryCandidates(ctx context.Context, now time.Time, limit int64) ([]Record, error) {
	filter := bson.D{{Key: "$or", Value: bson.A{
		bson.D{
			{Key: "status", Value: string(StatusTrial)},
			{Key: "trial_end_date", Value: bson.D{{Key: "$lte", Value: now}}},
		},
		bson.D{
			{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{string(StatusActive), string(StatusCanceled)}}}},
			{Key: "end_date", Value: bson.D{{Key: "$lte", Value: now}}},
		},
	}}}
	return s.listRecords(ctx, filter, limit)
}

func (s *MongoStore) ListEndingBetween(ctx context.Context, from, to time.Time) ([]Record, error) {
	filter := bson.D{
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{string(StatusActive), string(StatusCanceled)}}}},
		{Key: "end_date", Value: bson.D{
			{Key: "$gte", Value: from},
			{Key: "$lt", Value: to},
		}},
	}
	return s.listRecords(ctx, filter, 0)
}
