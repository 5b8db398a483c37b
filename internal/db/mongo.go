package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/atm-dispatch/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names used by the Mongo backend.
const (
	ATMCollectionName        = "atm_assets"
	EngineerCollectionName   = "engineer_assets"
	TelemetryCollectionName  = "atm_logs"
	TicketCollectionName     = "dispatch_tickets"
	ResolutionCollectionName = "resolutions"
)

var errNilCollection = errors.New("mongo collection is nil")

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// wrapMongoErr maps driver failures onto the package sentinels.
func wrapMongoErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// MongoATMCollection implements ATMCollection for MongoDB.
type MongoATMCollection struct {
	Collection *mongo.Collection
}

// InsertATM inserts an ATM asset.
func (c *MongoATMCollection) InsertATM(ctx context.Context, atm models.ATM) error {
	if c.Collection == nil {
		return errNilCollection
	}
	if atm.RegisteredAt.IsZero() {
		atm.RegisteredAt = time.Now().UTC()
	}
	_, err := c.Collection.InsertOne(ctx, atm)
	return wrapMongoErr("insert atm", err)
}

// FindATMByID finds an ATM by its atm_id.
func (c *MongoATMCollection) FindATMByID(ctx context.Context, id string) (*models.ATM, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var atm models.ATM
	if err := c.Collection.FindOne(ctx, bson.M{"atm_id": id}).Decode(&atm); err != nil {
		return nil, wrapMongoErr("find atm "+id, err)
	}
	return &atm, nil
}

// CountATMs counts all registered ATMs.
func (c *MongoATMCollection) CountATMs(ctx context.Context) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	n, err := c.Collection.CountDocuments(ctx, bson.M{})
	return n, wrapMongoErr("count atms", err)
}

// MongoEngineerCollection implements EngineerCollection for MongoDB.
type MongoEngineerCollection struct {
	Collection *mongo.Collection
}

// InsertEngineer inserts an engineer asset.
func (c *MongoEngineerCollection) InsertEngineer(ctx context.Context, engineer models.Engineer) error {
	if c.Collection == nil {
		return errNilCollection
	}
	if engineer.RegisteredAt.IsZero() {
		engineer.RegisteredAt = time.Now().UTC()
	}
	_, err := c.Collection.InsertOne(ctx, engineer)
	return wrapMongoErr("insert engineer", err)
}

// FindEngineerByID finds an engineer by its engineer_id.
func (c *MongoEngineerCollection) FindEngineerByID(ctx context.Context, id string) (*models.Engineer, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var engineer models.Engineer
	if err := c.Collection.FindOne(ctx, bson.M{"engineer_id": id}).Decode(&engineer); err != nil {
		return nil, wrapMongoErr("find engineer "+id, err)
	}
	return &engineer, nil
}

// FindAvailableEngineers lists engineers whose available flag is set.
func (c *MongoEngineerCollection) FindAvailableEngineers(ctx context.Context) ([]models.Engineer, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	opts := options.Find().SetSort(bson.D{{Key: "engineer_id", Value: 1}})
	cursor, err := c.Collection.Find(ctx, bson.M{"available": true}, opts)
	if err != nil {
		return nil, wrapMongoErr("find available engineers", err)
	}
	defer cursor.Close(ctx)

	engineers := []models.Engineer{}
	if err := cursor.All(ctx, &engineers); err != nil {
		return nil, wrapMongoErr("decode engineers", err)
	}
	return engineers, nil
}

// ClaimEngineer takes an available engineer with a single conditional update.
func (c *MongoEngineerCollection) ClaimEngineer(ctx context.Context, id string) error {
	if c.Collection == nil {
		return errNilCollection
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"engineer_id": id, "available": true},
		bson.M{"$set": bson.M{"available": false}, "$inc": bson.M{"current_workload": 1}},
	)
	if err != nil {
		return wrapMongoErr("claim engineer "+id, err)
	}
	if result.MatchedCount == 0 {
		// Either taken or never registered.
		if _, err := c.FindEngineerByID(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("claim engineer %s: %w", id, ErrEngineerUnavailable)
	}
	return nil
}

// ReleaseEngineer hands an engineer back to the available pool.
func (c *MongoEngineerCollection) ReleaseEngineer(ctx context.Context, id string) error {
	if c.Collection == nil {
		return errNilCollection
	}
	update := mongo.Pipeline{{{Key: "$set", Value: bson.D{
		{Key: "available", Value: true},
		{Key: "current_workload", Value: bson.D{{Key: "$max", Value: bson.A{
			0,
			bson.D{{Key: "$subtract", Value: bson.A{"$current_workload", 1}}},
		}}}},
	}}}}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"engineer_id": id}, update)
	if err != nil {
		return wrapMongoErr("release engineer "+id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("release engineer %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetEngineerAvailability sets the available flag.
func (c *MongoEngineerCollection) SetEngineerAvailability(ctx context.Context, id string, available bool) error {
	return c.set(ctx, "set engineer availability "+id, id, bson.M{"available": available})
}

// UpdateEngineerLocation moves an engineer.
func (c *MongoEngineerCollection) UpdateEngineerLocation(ctx context.Context, id string, location models.Location) error {
	return c.set(ctx, "update engineer location "+id, id, bson.M{"location": location})
}

func (c *MongoEngineerCollection) set(ctx context.Context, op, id string, fields bson.M) error {
	if c.Collection == nil {
		return errNilCollection
	}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"engineer_id": id}, bson.M{"$set": fields})
	if err != nil {
		return wrapMongoErr(op, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// CountEngineers counts all registered engineers.
func (c *MongoEngineerCollection) CountEngineers(ctx context.Context) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	n, err := c.Collection.CountDocuments(ctx, bson.M{})
	return n, wrapMongoErr("count engineers", err)
}

// MongoTicketCollection implements TicketCollection for MongoDB.
type MongoTicketCollection struct {
	Collection *mongo.Collection
}

// InsertTicket inserts a dispatch ticket.
func (c *MongoTicketCollection) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, ticket)
	return wrapMongoErr("insert ticket", err)
}

// FindTicketByID finds a ticket by its ticket_id.
func (c *MongoTicketCollection) FindTicketByID(ctx context.Context, id string) (*models.Ticket, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	var ticket models.Ticket
	if err := c.Collection.FindOne(ctx, bson.M{"ticket_id": id}).Decode(&ticket); err != nil {
		return nil, wrapMongoErr("find ticket "+id, err)
	}
	return &ticket, nil
}

// FindOpenTicket finds the oldest open ticket for an ATM and fault type.
func (c *MongoTicketCollection) FindOpenTicket(ctx context.Context, atmID string, fault models.FaultType) (*models.Ticket, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	filter := bson.M{
		"atm_id":     atmID,
		"fault_type": fault,
		"status":     bson.M{"$in": models.OpenTicketStatuses},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})
	var ticket models.Ticket
	if err := c.Collection.FindOne(ctx, filter, opts).Decode(&ticket); err != nil {
		return nil, wrapMongoErr("find open ticket", err)
	}
	return &ticket, nil
}

// InsertTicketUnlessOpen inserts the ticket unless the ATM already has an open
// ticket for the fault. The unique dedup_key index rejects the losing insert.
func (c *MongoTicketCollection) InsertTicketUnlessOpen(ctx context.Context, ticket models.Ticket) (*models.Ticket, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	ticket.DedupKey = models.DedupKey(ticket.ATMID, ticket.FaultType)
	for attempt := 0; ; attempt++ {
		_, err := c.Collection.InsertOne(ctx, ticket)
		if err == nil {
			return nil, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return nil, wrapMongoErr("insert ticket", err)
		}
		existing, findErr := c.FindOpenTicket(ctx, ticket.ATMID, ticket.FaultType)
		if findErr == nil {
			return existing, nil
		}
		// The holder was resolved between the insert and the lookup.
		if !errors.Is(findErr, ErrNotFound) || attempt > 0 {
			return nil, findErr
		}
	}
}

// FindTickets lists tickets newest first, optionally filtered by status.
func (c *MongoTicketCollection) FindTickets(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	filter := bson.M{}
	if status != "" {
		filter["status"] = status
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "ticket_id", Value: 1}})
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrapMongoErr("find tickets", err)
	}
	defer cursor.Close(ctx)

	tickets := []models.Ticket{}
	if err := cursor.All(ctx, &tickets); err != nil {
		return nil, wrapMongoErr("decode tickets", err)
	}
	return tickets, nil
}

// AssignTicket attaches an engineer to a pending ticket.
func (c *MongoTicketCollection) AssignTicket(ctx context.Context, id, engineerID string) error {
	return c.update(ctx, "assign ticket "+id,
		bson.M{"ticket_id": id, "status": models.TicketPending},
		bson.M{"$set": bson.M{"engineer_id": engineerID, "status": models.TicketAssigned}},
	)
}

// UpdateTicketStatus moves a ticket from one status to another with a single conditional update.
func (c *MongoTicketCollection) UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error {
	op := "update ticket " + id
	err := c.update(ctx, op,
		bson.M{"ticket_id": id, "status": from},
		bson.M{"$set": bson.M{"status": to}},
	)
	if errors.Is(err, ErrNotFound) {
		return c.conflictOrMissing(ctx, op, id)
	}
	return err
}

// ResolveTicket resolves a ticket that is not already resolved and returns it
// as it was before the write. It also frees the ticket's dedup_key slot.
func (c *MongoTicketCollection) ResolveTicket(ctx context.Context, id string, resolvedAt time.Time) (*models.Ticket, error) {
	if c.Collection == nil {
		return nil, errNilCollection
	}
	op := "resolve ticket " + id
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)
	var before models.Ticket
	err := c.Collection.FindOneAndUpdate(ctx,
		bson.M{"ticket_id": id, "status": bson.M{"$ne": models.TicketResolved}},
		bson.M{
			"$set":   bson.M{"status": models.TicketResolved, "resolved_at": resolvedAt},
			"$unset": bson.M{"dedup_key": ""},
		},
		opts,
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, c.conflictOrMissing(ctx, op, id)
	}
	if err != nil {
		return nil, wrapMongoErr(op, err)
	}
	return &before, nil
}

// conflictOrMissing explains why a conditional ticket write matched nothing.
func (c *MongoTicketCollection) conflictOrMissing(ctx context.Context, op, id string) error {
	if _, err := c.FindTicketByID(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", op, ErrTicketConflict)
}

func (c *MongoTicketCollection) update(ctx context.Context, op string, filter, update bson.M) error {
	if c.Collection == nil {
		return errNilCollection
	}
	result, err := c.Collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return wrapMongoErr(op, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// CountTickets counts tickets in any of the given statuses, or all tickets when none are given.
func (c *MongoTicketCollection) CountTickets(ctx context.Context, statuses ...models.TicketStatus) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	filter := bson.M{}
	if len(statuses) > 0 {
		filter["status"] = bson.M{"$in": statuses}
	}
	n, err := c.Collection.CountDocuments(ctx, filter)
	return n, wrapMongoErr("count tickets", err)
}

// CountResolvedSince counts tickets resolved at or after since.
func (c *MongoTicketCollection) CountResolvedSince(ctx context.Context, since time.Time) (int64, error) {
	if c.Collection == nil {
		return 0, errNilCollection
	}
	n, err := c.Collection.CountDocuments(ctx, bson.M{"resolved_at": bson.M{"$gte": since}})
	return n, wrapMongoErr("count resolved tickets", err)
}

// MongoResolutionCollection implements ResolutionCollection for MongoDB.
type MongoResolutionCollection struct {
	Collection *mongo.Collection
}

// InsertResolution inserts a resolution record.
func (c *MongoResolutionCollection) InsertResolution(ctx context.Context, resolution models.Resolution) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, resolution)
	return wrapMongoErr("insert resolution", err)
}

// MongoCollection wraps a MongoDB collection for telemetry operations.
type MongoCollection struct {
	Collection *mongo.Collection
}

// InsertTelemetry inserts a telemetry record into the collection.
func (c *MongoCollection) InsertTelemetry(ctx context.Context, telemetry models.Telemetry) error {
	if c.Collection == nil {
		return errNilCollection
	}
	_, err := c.Collection.InsertOne(ctx, telemetry)
	return wrapMongoErr("insert telemetry", err)
}

// MongoStore implements Store on one MongoDB database.
type MongoStore struct {
	*MongoATMCollection
	*MongoEngineerCollection
	*MongoTicketCollection
	*MongoResolutionCollection
	*MongoCollection

	client *mongo.Client
}

// NewMongoStore binds the dispatch collections of dbName.
func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	database := client.Database(dbName)
	return &MongoStore{
		MongoATMCollection:        &MongoATMCollection{Collection: database.Collection(ATMCollectionName)},
		MongoEngineerCollection:   &MongoEngineerCollection{Collection: database.Collection(EngineerCollectionName)},
		MongoTicketCollection:     &MongoTicketCollection{Collection: database.Collection(TicketCollectionName)},
		MongoResolutionCollection: &MongoResolutionCollection{Collection: database.Collection(ResolutionCollectionName)},
		MongoCollection:           &MongoCollection{Collection: database.Collection(TelemetryCollectionName)},
		client:                    client,
	}
}

// EnsureIndexes creates the unique id indexes and the lookup indexes used by dispatch.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	specs := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{s.MongoATMCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "atm_id", Value: 1}}, Options: unique}},
		{s.MongoEngineerCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "engineer_id", Value: 1}}, Options: unique}},
		{s.MongoEngineerCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "available", Value: 1}}}},
		{s.MongoTicketCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "ticket_id", Value: 1}}, Options: unique}},
		{s.MongoTicketCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "atm_id", Value: 1}, {Key: "fault_type", Value: 1}, {Key: "status", Value: 1}}}},
		{s.MongoTicketCollection.Collection, mongo.IndexModel{
			Keys: bson.D{{Key: "dedup_key", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"dedup_key": bson.M{"$exists": true}}),
		}},
		{s.MongoTicketCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}},
		{s.MongoResolutionCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "resolution_id", Value: 1}}, Options: unique}},
		{s.MongoCollection.Collection, mongo.IndexModel{Keys: bson.D{{Key: "atm_id", Value: 1}, {Key: "timestamp", Value: -1}}}},
	}
	for _, spec := range specs {
		if _, err := spec.coll.Indexes().CreateOne(ctx, spec.model); err != nil {
			return wrapMongoErr("create index on "+spec.coll.Name(), err)
		}
	}
	return nil
}

// Ping checks the connection to the primary.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return ErrStoreUnavailable
	}
	return wrapMongoErr("ping", s.client.Ping(ctx, nil))
}

// Close disconnects the client.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}
