package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"argus/core"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStorage implements the storage boundary on MongoDB. Each entity type
// lives in its own collection; detection rule counters are stored as explicit
// document fields and restored on read.
type MongoStorage struct {
	client           *mongo.Client
	events           *mongo.Collection
	rules            *mongo.Collection
	correlationRules *mongo.Collection
	alerts           *mongo.Collection
	logger           *zap.SugaredLogger
}

// NewMongoStorage connects to MongoDB, verifies the connection, and ensures
// the indexes the query paths depend on.
func NewMongoStorage(uri, dbName string, maxPoolSize uint64, logger *zap.SugaredLogger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri).SetMaxPoolSize(maxPoolSize)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, unavailable("connect to MongoDB", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, unavailable("ping MongoDB", err)
	}

	db := client.Database(dbName)
	s := &MongoStorage{
		client:           client,
		events:           db.Collection("events"),
		rules:            db.Collection("rules"),
		correlationRules: db.Collection("correlation_rules"),
		alerts:           db.Collection("alerts"),
		logger:           logger,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	logger.Infow("Connected to MongoDB", "database", dbName)
	return s, nil
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	eventIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return unavailable("create event indexes", err)
	}
	alertIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fingerprint", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := s.alerts.Indexes().CreateMany(ctx, alertIndexes); err != nil {
		return unavailable("create alert indexes", err)
	}
	return nil
}

// InsertEvent stores an event.
func (s *MongoStorage) InsertEvent(ctx context.Context, event *core.Event) error {
	_, err := s.events.InsertOne(ctx, event)
	return unavailable("insert event", err)
}

// GetEvent returns an event by ID.
func (s *MongoStorage) GetEvent(ctx context.Context, id string) (*core.Event, error) {
	var event core.Event
	err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("event", id)
	}
	if err != nil {
		return nil, unavailable("get event", err)
	}
	return &event, nil
}

// UpdateEvent replaces a stored event.
func (s *MongoStorage) UpdateEvent(ctx context.Context, event *core.Event) error {
	res, err := s.events.ReplaceOne(ctx, bson.M{"_id": event.EventID}, event)
	if err != nil {
		return unavailable("update event", err)
	}
	if res.MatchedCount == 0 {
		return notFound("event", event.EventID)
	}
	return nil
}

// GetEventsByTimeRange returns events with start <= timestamp < end.
func (s *MongoStorage) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]*core.Event, error) {
	filter := bson.M{"timestamp": bson.M{"$gte": start, "$lt": end}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	cursor, err := s.events.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("query events by time range", err)
	}
	var events []*core.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, unavailable("decode events", err)
	}
	return events, nil
}

// ruleCounters carries the persisted counter fields alongside the rule
// document.
type ruleCounters struct {
	TriggerCount       int64 `bson:"trigger_count"`
	FalsePositiveCount int64 `bson:"false_positive_count"`
}

// ruleToDoc flattens a rule and its counters into one document.
func ruleToDoc(rule *core.Rule) (bson.M, error) {
	raw, err := bson.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("marshal rule: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("flatten rule: %w", err)
	}
	doc["trigger_count"] = rule.TriggerCount()
	doc["false_positive_count"] = rule.FalsePositiveCount()
	return doc, nil
}

// ruleFromRaw decodes a rule document and restores its counters.
func ruleFromRaw(raw bson.Raw) (*core.Rule, error) {
	var rule core.Rule
	if err := bson.Unmarshal(raw, &rule); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	var counters ruleCounters
	if err := bson.Unmarshal(raw, &counters); err != nil {
		return nil, fmt.Errorf("unmarshal rule counters: %w", err)
	}
	rule.SetCounters(counters.TriggerCount, counters.FalsePositiveCount)
	return &rule, nil
}

// CreateRule stores a detection rule with its counters.
func (s *MongoStorage) CreateRule(ctx context.Context, rule *core.Rule) error {
	doc, err := ruleToDoc(rule)
	if err != nil {
		return err
	}
	_, err = s.rules.InsertOne(ctx, doc)
	return unavailable("insert rule", err)
}

// GetRule returns a detection rule by ID with counters restored.
func (s *MongoStorage) GetRule(ctx context.Context, id string) (*core.Rule, error) {
	raw, err := s.rules.FindOne(ctx, bson.M{"_id": id}).DecodeBytes()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("rule", id)
	}
	if err != nil {
		return nil, unavailable("get rule", err)
	}
	return ruleFromRaw(raw)
}

// UpdateRule replaces a stored detection rule, persisting current counters.
func (s *MongoStorage) UpdateRule(ctx context.Context, rule *core.Rule) error {
	doc, err := ruleToDoc(rule)
	if err != nil {
		return err
	}
	res, err := s.rules.ReplaceOne(ctx, bson.M{"_id": rule.ID}, doc)
	if err != nil {
		return unavailable("update rule", err)
	}
	if res.MatchedCount == 0 {
		return notFound("rule", rule.ID)
	}
	return nil
}

// ListRules returns detection rules ordered by ID with pagination.
func (s *MongoStorage) ListRules(ctx context.Context, limit, offset int) ([]*core.Rule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	return s.findRules(ctx, bson.M{}, opts)
}

// GetEnabledRules returns all enabled detection rules.
func (s *MongoStorage) GetEnabledRules(ctx context.Context) ([]*core.Rule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return s.findRules(ctx, bson.M{"enabled": true}, opts)
}

func (s *MongoStorage) findRules(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*core.Rule, error) {
	cursor, err := s.rules.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("list rules", err)
	}
	defer cursor.Close(ctx)
	var rules []*core.Rule
	for cursor.Next(ctx) {
		rule, err := ruleFromRaw(cursor.Current)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, unavailable("iterate rules", cursor.Err())
}

// CreateCorrelationRule stores a correlation rule.
func (s *MongoStorage) CreateCorrelationRule(ctx context.Context, rule *core.CorrelationRule) error {
	_, err := s.correlationRules.InsertOne(ctx, rule)
	return unavailable("insert correlation rule", err)
}

// GetCorrelationRule returns a correlation rule by ID.
func (s *MongoStorage) GetCorrelationRule(ctx context.Context, id string) (*core.CorrelationRule, error) {
	var rule core.CorrelationRule
	err := s.correlationRules.FindOne(ctx, bson.M{"_id": id}).Decode(&rule)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("correlation rule", id)
	}
	if err != nil {
		return nil, unavailable("get correlation rule", err)
	}
	return &rule, nil
}

// UpdateCorrelationRule replaces a stored correlation rule.
func (s *MongoStorage) UpdateCorrelationRule(ctx context.Context, rule *core.CorrelationRule) error {
	res, err := s.correlationRules.ReplaceOne(ctx, bson.M{"_id": rule.ID}, rule)
	if err != nil {
		return unavailable("update correlation rule", err)
	}
	if res.MatchedCount == 0 {
		return notFound("correlation rule", rule.ID)
	}
	return nil
}

// ListCorrelationRules returns correlation rules ordered by ID.
func (s *MongoStorage) ListCorrelationRules(ctx context.Context, limit, offset int) ([]*core.CorrelationRule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}).SetSkip(int64(offset))
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	return s.findCorrelationRules(ctx, bson.M{}, opts)
}

// GetEnabledCorrelationRules returns all enabled correlation rules.
func (s *MongoStorage) GetEnabledCorrelationRules(ctx context.Context) ([]*core.CorrelationRule, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	return s.findCorrelationRules(ctx, bson.M{"enabled": true}, opts)
}

func (s *MongoStorage) findCorrelationRules(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*core.CorrelationRule, error) {
	cursor, err := s.correlationRules.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("list correlation rules", err)
	}
	var rules []*core.CorrelationRule
	if err := cursor.All(ctx, &rules); err != nil {
		return nil, unavailable("decode correlation rules", err)
	}
	return rules, nil
}

// InsertAlert stores an alert.
func (s *MongoStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	_, err := s.alerts.InsertOne(ctx, alert)
	return unavailable("insert alert", err)
}

// GetAlert returns an alert by ID.
func (s *MongoStorage) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	var alert core.Alert
	err := s.alerts.FindOne(ctx, bson.M{"_id": id}).Decode(&alert)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, notFound("alert", id)
	}
	if err != nil {
		return nil, unavailable("get alert", err)
	}
	return &alert, nil
}

// UpdateAlert replaces a stored alert.
func (s *MongoStorage) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	res, err := s.alerts.ReplaceOne(ctx, bson.M{"_id": alert.AlertID}, alert)
	if err != nil {
		return unavailable("update alert", err)
	}
	if res.MatchedCount == 0 {
		return notFound("alert", alert.AlertID)
	}
	return nil
}

// FindAlertsByFingerprint returns alerts carrying the fingerprint created at
// or after windowStart, in creation order.
func (s *MongoStorage) FindAlertsByFingerprint(ctx context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error) {
	filter := bson.M{"fingerprint": fingerprint, "created_at": bson.M{"$gte": windowStart}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findAlerts(ctx, filter, opts)
}

// ListAlerts returns filtered alerts in creation order plus the total count
// before pagination.
func (s *MongoStorage) ListAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, int64, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}
	if filter.Severity != "" {
		query["severity"] = string(filter.Severity)
	}
	if filter.RuleID != "" {
		query["rule_id"] = filter.RuleID
	}
	total, err := s.alerts.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, unavailable("count alerts", err)
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetSkip(int64(filter.Offset))
	if filter.Limit > 0 {
		opts = opts.SetLimit(int64(filter.Limit))
	}
	alerts, err := s.findAlerts(ctx, query, opts)
	return alerts, total, err
}

// GetAlertsByTimeRange returns alerts created in [start, end).
func (s *MongoStorage) GetAlertsByTimeRange(ctx context.Context, start, end time.Time) ([]*core.Alert, error) {
	filter := bson.M{"created_at": bson.M{"$gte": start, "$lt": end}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return s.findAlerts(ctx, filter, opts)
}

func (s *MongoStorage) findAlerts(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*core.Alert, error) {
	cursor, err := s.alerts.Find(ctx, filter, opts)
	if err != nil {
		return nil, unavailable("query alerts", err)
	}
	var alerts []*core.Alert
	if err := cursor.All(ctx, &alerts); err != nil {
		return nil, unavailable("decode alerts", err)
	}
	return alerts, nil
}

// Close disconnects from MongoDB.
func (s *MongoStorage) Close(ctx context.Context) error {
	return unavailable("disconnect MongoDB", s.client.Disconnect(ctx))
}
