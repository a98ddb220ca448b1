package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	schedule "github.com/h-shvedko/sociallyhub-scheduler"
)

// Field names used in schedule documents.
const (
	fieldFrequency  = "frequency"
	fieldHour       = "hour"
	fieldMinute     = "minute"
	fieldDayOfWeek  = "dayOfWeek"
	fieldDayOfMonth = "dayOfMonth"
	fieldCron       = "cronExpression"
	fieldTimeZone   = "timeZone"
	fieldIsActive   = "isActive"
	fieldNextRun    = "nextRun"
	fieldComputedAt = "lastComputedAt"
)

// Config holds the configuration for the MongoDB record store.
type Config struct {
	// Collection is the MongoDB collection where schedule records are
	// stored. Required.
	Collection *mongo.Collection

	// Condition is an optional additional filter to apply when claiming
	// records. This allows you to poll only a subset of a shared
	// collection. Example: bson.M{"kind": "report"}.
	Condition bson.M
}

// Store implements schedule.RecordStore for MongoDB.
type Store struct {
	collection *mongo.Collection
	condition  bson.M
}

// NewStore creates a new MongoDB record store with the given configuration.
func NewStore(config Config) (*Store, error) {
	if config.Collection == nil {
		return nil, fmt.Errorf("collection is required")
	}

	return &Store{
		collection: config.Collection,
		condition:  config.Condition,
	}, nil
}

// Insert persists a new record and returns it with the generated ID set.
func (s *Store) Insert(ctx context.Context, rec schedule.Record) (schedule.Record, error) {
	doc, err := docFromRecord(rec)
	if err != nil {
		return schedule.Record{}, err
	}

	res, err := s.collection.InsertOne(ctx, doc)
	if err != nil {
		return schedule.Record{}, fmt.Errorf("insert failed: %w", err)
	}

	rec.ID = res.InsertedID
	return rec, nil
}

// LockNext atomically claims the next due active record.
func (s *Store) LockNext(ctx context.Context, lockUntil time.Time) (*schedule.Record, error) {
	now := time.Now()

	// Build the query filter
	filter := bson.M{
		"$and": []bson.M{
			{fieldIsActive: true},
			{fieldNextRun: bson.M{"$exists": true, "$ne": nil}},
			{fieldNextRun: bson.M{"$not": bson.M{"$gt": now}}},
		},
	}

	// Add custom condition if provided
	if s.condition != nil {
		andConditions := filter["$and"].([]bson.M)
		andConditions = append(andConditions, s.condition)
		filter["$and"] = andConditions
	}

	// Update to claim the record
	update := bson.M{
		"$set": bson.M{
			fieldNextRun: lockUntil,
		},
	}

	// Options: return document before update
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before)

	// Execute atomic findOneAndUpdate
	var doc bson.M
	err := s.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// Nothing due
			return nil, nil
		}
		return nil, fmt.Errorf("findOneAndUpdate failed: %w", err)
	}

	rec, err := recordFromDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to decode record %v: %w", doc["_id"], err)
	}

	return rec, nil
}

// Update rewrites a record's scheduling fields.
func (s *Store) Update(ctx context.Context, id interface{}, update schedule.RecordUpdate) error {
	set := bson.M{}

	if update.NextRun != nil {
		// NextRun is a pointer to pointer
		// - if the inner pointer is nil, set field to null
		// - otherwise, set field to the time value
		if *update.NextRun == nil {
			set[fieldNextRun] = nil
		} else {
			set[fieldNextRun] = **update.NextRun
		}
	}

	if update.LastComputedAt != nil {
		set[fieldComputedAt] = *update.LastComputedAt
	}

	if len(set) == 0 {
		// Nothing to update
		return nil
	}

	res, err := s.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("record not found: %v", id)
	}

	return nil
}

// docFromRecord flattens a record into a BSON document, one field per
// descriptor component.
func docFromRecord(rec schedule.Record) (bson.M, error) {
	doc := bson.M{
		fieldIsActive:   rec.IsActive,
		fieldComputedAt: rec.LastComputedAt,
	}
	if rec.NextRun != nil {
		doc[fieldNextRun] = *rec.NextRun
	} else {
		doc[fieldNextRun] = nil
	}

	switch d := rec.Descriptor.(type) {
	case schedule.Daily:
		doc[fieldFrequency] = string(schedule.FrequencyDaily)
		doc[fieldHour] = d.At.Hour
		doc[fieldMinute] = d.At.Minute
		doc[fieldTimeZone] = zoneName(d.Zone)
	case schedule.Weekly:
		doc[fieldFrequency] = string(schedule.FrequencyWeekly)
		doc[fieldHour] = d.At.Hour
		doc[fieldMinute] = d.At.Minute
		doc[fieldDayOfWeek] = int(d.Weekday)
		doc[fieldTimeZone] = zoneName(d.Zone)
	case schedule.Monthly:
		doc[fieldFrequency] = string(schedule.FrequencyMonthly)
		doc[fieldHour] = d.At.Hour
		doc[fieldMinute] = d.At.Minute
		doc[fieldDayOfMonth] = d.Day
		doc[fieldTimeZone] = zoneName(d.Zone)
	case schedule.Quarterly:
		doc[fieldFrequency] = string(schedule.FrequencyQuarterly)
		doc[fieldHour] = d.At.Hour
		doc[fieldMinute] = d.At.Minute
		doc[fieldDayOfMonth] = d.Day
		doc[fieldTimeZone] = zoneName(d.Zone)
	case schedule.Cron:
		doc[fieldFrequency] = string(schedule.FrequencyCustom)
		doc[fieldCron] = d.Expression
		doc[fieldTimeZone] = zoneName(d.Zone)
	default:
		return nil, fmt.Errorf("unknown descriptor type %T", rec.Descriptor)
	}

	return doc, nil
}

// recordFromDoc rebuilds a record, including its descriptor variant,
// from a BSON document.
func recordFromDoc(doc bson.M) (*schedule.Record, error) {
	rec := &schedule.Record{}

	if id, ok := doc["_id"]; ok {
		rec.ID = id
	}
	if active, ok := doc[fieldIsActive].(bool); ok {
		rec.IsActive = active
	}
	if t, ok := timeField(doc, fieldNextRun); ok {
		rec.NextRun = &t
	}
	if t, ok := timeField(doc, fieldComputedAt); ok {
		rec.LastComputedAt = t
	}

	desc, err := descriptorFromDoc(doc)
	if err != nil {
		return nil, err
	}
	rec.Descriptor = desc

	return rec, nil
}

func descriptorFromDoc(doc bson.M) (schedule.Descriptor, error) {
	freq, _ := doc[fieldFrequency].(string)

	loc, err := zoneFromDoc(doc)
	if err != nil {
		return nil, err
	}

	at := schedule.TimeOfDay{
		Hour:   intField(doc, fieldHour),
		Minute: intField(doc, fieldMinute),
	}

	switch schedule.Frequency(freq) {
	case schedule.FrequencyDaily:
		return schedule.Daily{At: at, Zone: loc}, nil
	case schedule.FrequencyWeekly:
		return schedule.Weekly{At: at, Weekday: time.Weekday(intField(doc, fieldDayOfWeek)), Zone: loc}, nil
	case schedule.FrequencyMonthly:
		return schedule.Monthly{At: at, Day: intField(doc, fieldDayOfMonth), Zone: loc}, nil
	case schedule.FrequencyQuarterly:
		return schedule.Quarterly{At: at, Day: intField(doc, fieldDayOfMonth), Zone: loc}, nil
	case schedule.FrequencyCustom:
		expr, _ := doc[fieldCron].(string)
		return schedule.Cron{Expression: expr, Zone: loc}, nil
	}

	return nil, fmt.Errorf("unknown frequency %q", freq)
}

// timeField tolerates both the driver's primitive.DateTime and a plain
// time.Time (documents built in-process).
func timeField(doc bson.M, name string) (time.Time, bool) {
	switch v := doc[name].(type) {
	case primitive.DateTime:
		return v.Time(), true
	case time.Time:
		return v, true
	}
	return time.Time{}, false
}

// intField tolerates the numeric BSON types the driver may decode into.
func intField(doc bson.M, name string) int {
	switch v := doc[name].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func zoneName(loc *time.Location) string {
	if loc == nil {
		return "UTC"
	}
	return loc.String()
}

func zoneFromDoc(doc bson.M) (*time.Location, error) {
	name, _ := doc[fieldTimeZone].(string)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", name, err)
	}
	return loc, nil
}
