// Package directory resolves the protected records an approval request
// points at. The records live in the platform's MongoDB and are only read.
package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"approvals/internal/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrTargetNotFound is returned by Fetch when the record has disappeared.
var ErrTargetNotFound = errors.New("target record not found")

// Collections maps target types to the collections that hold them.
var Collections = map[string]string{
	model.TargetStudent:      "students",
	model.TargetSchool:       "schools",
	model.TargetOrganization: "organizations",
	model.TargetPlatform:     "platform_settings",
}

// never released, whatever the caller asks for
var deniedFields = map[string]bool{
	"password":     true,
	"passwordHash": true,
	"__v":          true,
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
	MaxPoolSize    uint64
}

// Connect opens a client and verifies it with a ping.
func Connect(ctx context.Context, conf MongoConfig) (*mongo.Client, error) {
	if conf.ConnectTimeout <= 0 {
		conf.ConnectTimeout = 10 * time.Second
	}
	if conf.MaxPoolSize == 0 {
		conf.MaxPoolSize = 50
	}

	opts := options.Client().
		ApplyURI(conf.URI).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetConnectTimeout(conf.ConnectTimeout).
		SetMaxPoolSize(conf.MaxPoolSize).
		SetRetryReads(true)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, conf.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

type MongoDirectory struct {
	db *mongo.Database
}

func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{db: db}
}

// Exists reports whether the target record is present. The platform itself
// always exists.
func (d *MongoDirectory) Exists(ctx context.Context, targetType, targetID string) (bool, error) {
	if targetType == model.TargetPlatform {
		return true, nil
	}
	coll, err := d.collection(targetType)
	if err != nil {
		return false, err
	}

	n, err := coll.CountDocuments(ctx, idFilter(targetID), options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %s: %w", targetType, targetID, err)
	}
	return n > 0, nil
}

// Fetch reads the target record, restricted to fields when any are given.
func (d *MongoDirectory) Fetch(ctx context.Context, targetType, targetID string, fields []string) (map[string]interface{}, error) {
	coll, err := d.collection(targetType)
	if err != nil {
		return nil, err
	}

	opts := options.FindOne().SetProjection(projection(fields))
	var doc bson.M
	err = coll.FindOne(ctx, idFilter(targetID), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if targetType == model.TargetPlatform {
				return map[string]interface{}{}, nil
			}
			return nil, fmt.Errorf("%w: %s %s", ErrTargetNotFound, targetType, targetID)
		}
		return nil, fmt.Errorf("failed to fetch %s %s: %w", targetType, targetID, err)
	}
	return toPlain(doc), nil
}

func (d *MongoDirectory) collection(targetType string) (*mongo.Collection, error) {
	name, ok := Collections[targetType]
	if !ok {
		return nil, fmt.Errorf("unsupported target type %q", targetType)
	}
	return d.db.Collection(name), nil
}

// idFilter matches either an ObjectID or a plain string key, since both are
// in use across the platform's collections.
func idFilter(targetID string) bson.M {
	if oid, err := bson.ObjectIDFromHex(targetID); err == nil {
		return bson.M{"_id": bson.M{"$in": bson.A{oid, targetID}}}
	}
	return bson.M{"_id": targetID}
}

func projection(fields []string) bson.M {
	proj := bson.M{}
	if len(fields) == 0 {
		for f := range deniedFields {
			proj[f] = 0
		}
		return proj
	}
	for _, f := range fields {
		if deniedFields[f] {
			continue
		}
		proj[f] = 1
	}
	if len(proj) == 0 {
		proj["_id"] = 1
	}
	return proj
}

func toPlain(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		switch val := v.(type) {
		case bson.ObjectID:
			out[k] = val.Hex()
		case bson.M:
			out[k] = toPlain(val)
		case bson.D:
			out[k] = toPlain(bsonDToM(val))
		default:
			out[k] = val
		}
	}
	return out
}

func bsonDToM(d bson.D) bson.M {
	m := make(bson.M, len(d))
	for _, e := range d {
		m[e.Key] = e.Value
	}
	return m
}
