package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"restaurant-order-service/internal/model"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	countersCollection = "counters"
	ordersCollection   = "orders"

	orderNumberIndexName = "orderNumber_unique"
	idempotencyIndexName = "orderDate_idempotencyKey_unique"
)

// EnsureMongoIndexes creates the TTL index on counters and the unique and
// dashboard indexes on orders. It is safe to call on every start.
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(countersCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expireAt", Value: 1}},
		Options: options.Index().SetName("expireAt_ttl").SetExpireAfterSeconds(0),
	})
	if err != nil {
		return mongoErr("ensure counter indexes", err)
	}

	_, err = db.Collection(ordersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "orderNumber", Value: 1}},
			Options: options.Index().SetName(orderNumberIndexName).SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "orderDate", Value: 1}, {Key: "idempotencyKey", Value: 1}},
			Options: options.Index().
				SetName(idempotencyIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"idempotencyKey": bson.M{"$type": "string"}}),
		},
		{
			Keys:    bson.D{{Key: "orderDate", Value: 1}, {Key: "status", Value: 1}, {Key: "time", Value: -1}},
			Options: options.Index().SetName("orderDate_status_time"),
		},
		{
			Keys:    bson.D{{Key: "time", Value: -1}},
			Options: options.Index().SetName("time_desc"),
		},
	})
	if err != nil {
		return mongoErr("ensure order indexes", err)
	}
	return nil
}

// Mongo implementation of the counter store
type MongoCounterStore struct {
	col       *mongo.Collection
	retention time.Duration
	log       *logrus.Logger
}

func NewMongoCounterStore(db *mongo.Database, retention time.Duration, logger *logrus.Logger) *MongoCounterStore {
	return &MongoCounterStore{col: db.Collection(countersCollection), retention: retention, log: logger}
}

// IncrementAndGet atomically bumps the counter at key, creating it at zero first
// when absent. Two upserts racing on a fresh key can make the loser fail with a
// duplicate _id; by then the document exists, so the increment is retried once.
func (m *MongoCounterStore) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	seq, err := m.increment(ctx, key)
	if err != nil && mongo.IsDuplicateKeyError(err) {
		m.log.Debugf("counter %s: upsert race, retrying increment", key)
		seq, err = m.increment(ctx, key)
	}
	if err != nil {
		return 0, mongoErr("increment counter "+key, err)
	}
	return seq, nil
}

func (m *MongoCounterStore) increment(ctx context.Context, key string) (int64, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$inc":         bson.M{"seq": 1},
		"$setOnInsert": bson.M{"createdAt": now, "expireAt": now.Add(m.retention)},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var c model.Counter
	if err := m.col.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&c); err != nil {
		return 0, err
	}
	return c.Seq, nil
}

func (m *MongoCounterStore) Get(ctx context.Context, key string) (*model.Counter, error) {
	var c model.Counter
	err := m.col.FindOne(ctx, bson.M{"_id": key}).Decode(&c)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mongoErr("get counter "+key, err)
	}
	return &c, nil
}

type orderDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	model.Order `bson:",inline"`
}

func (d *orderDocument) toModel() *model.Order {
	o := d.Order
	o.ID = d.ID.Hex()
	return &o
}

// Mongo implementation of the order store
type MongoOrderStore struct {
	client *mongo.Client
	col    *mongo.Collection
	log    *logrus.Logger
}

func NewMongoOrderStore(db *mongo.Database, logger *logrus.Logger) *MongoOrderStore {
	return &MongoOrderStore{client: db.Client(), col: db.Collection(ordersCollection), log: logger}
}

func (m *MongoOrderStore) Insert(ctx context.Context, o *model.Order) (*model.Order, error) {
	doc := orderDocument{Order: *o}
	res, err := m.col.InsertOne(ctx, doc)
	if err != nil {
		return nil, mongoErr("insert order "+o.OrderNumber, err)
	}
	if id, ok := res.InsertedID.(primitive.ObjectID); ok {
		doc.ID = id
	}
	return doc.toModel(), nil
}

func (m *MongoOrderStore) FindByID(ctx context.Context, id string) (*model.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	return m.findOne(ctx, bson.M{"_id": oid})
}

func (m *MongoOrderStore) FindByIdempotencyKey(ctx context.Context, orderDate, key string) (*model.Order, error) {
	return m.findOne(ctx, bson.M{"orderDate": orderDate, "idempotencyKey": key})
}

func (m *MongoOrderStore) findOne(ctx context.Context, filter bson.M) (*model.Order, error) {
	var doc orderDocument
	err := m.col.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mongoErr("find order", err)
	}
	return doc.toModel(), nil
}

// List runs the match/sort/facet pipeline so the page and the total come back
// from one round trip.
func (m *MongoOrderStore) List(ctx context.Context, f model.OrderFilter, p model.Page) ([]model.Order, int64, error) {
	match := bson.M{}
	if !f.IncludeAll && f.Date != "" {
		match["orderDate"] = f.Date
	}
	if f.Status != "" {
		match["status"] = f.Status
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$sort", Value: bson.D{{Key: "time", Value: -1}, {Key: "_id", Value: -1}}}},
		{{Key: "$facet", Value: bson.D{
			{Key: "orders", Value: bson.A{
				bson.D{{Key: "$skip", Value: p.Skip()}},
				bson.D{{Key: "$limit", Value: int64(p.Size)}},
			}},
			{Key: "totalCount", Value: bson.A{
				bson.D{{Key: "$count", Value: "count"}},
			}},
		}}},
	}

	cur, err := m.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, 0, mongoErr("list orders", err)
	}
	defer cur.Close(ctx)

	var result []struct {
		Orders     []orderDocument `bson:"orders"`
		TotalCount []struct {
			Count int64 `bson:"count"`
		} `bson:"totalCount"`
	}
	if err := cur.All(ctx, &result); err != nil {
		return nil, 0, mongoErr("decode orders", err)
	}
	if len(result) == 0 {
		return []model.Order{}, 0, nil
	}

	out := make([]model.Order, 0, len(result[0].Orders))
	for i := range result[0].Orders {
		out = append(out, *result[0].Orders[i].toModel())
	}
	var total int64
	if len(result[0].TotalCount) > 0 {
		total = result[0].TotalCount[0].Count
	}
	return out, total, nil
}

func (m *MongoOrderStore) UpdateStatus(ctx context.Context, id string, status model.Status) (*model.Order, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	update := bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc orderDocument
	err = m.col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, mongoErr("update order status", err)
	}
	return doc.toModel(), nil
}

func (m *MongoOrderStore) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return unavailable("ping mongo", err)
	}
	return nil
}

// mongoErr translates driver errors into the package taxonomy.
func mongoErr(op string, err error) error {
	switch {
	case mongo.IsDuplicateKeyError(err):
		return &DuplicateKeyError{Index: mongoDuplicateIndex(err), Err: err}
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func mongoDuplicateIndex(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, idempotencyIndexName):
		return IndexIdempotencyKey
	case strings.Contains(msg, orderNumberIndexName):
		return IndexOrderNumber
	default:
		return ""
	}
}
