package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gantry/gantry/config"
	"github.com/gantry/gantry/pkg/interp"
	"github.com/gantry/gantry/pkg/logger"
	"github.com/gantry/gantry/pkg/value"
)

// mongoClient executes document-store subrequests. Filter, document and
// update payloads are interpolated strings that must parse as JSON after
// interpolation.
type mongoClient struct {
	id      string
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	log     logger.Logger
}

func newMongoClient(id string, cfg *config.ClientConfig, log logger.Logger) (Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(cfg.ConnString).
		SetMaxPoolSize(uint64(cfg.MaxConns)).
		SetMinPoolSize(uint64(cfg.MinConns)))
	if err != nil {
		return nil, err
	}

	return &mongoClient{
		id:      id,
		client:  cli,
		db:      cli.Database(cfg.Database),
		timeout: cfg.Timeout,
		log:     log,
	}, nil
}

func (c *mongoClient) Execute(ctx context.Context, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	coll := c.db.Collection(sub.Collection)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Debug("mongo subrequest", "client_id", c.id, "collection", sub.Collection, "operation", sub.Operation)

	switch sub.Operation {
	case "find":
		return c.find(callCtx, coll, sub, ictx)
	case "findone":
		return c.findOne(callCtx, coll, sub, ictx)
	case "insert":
		return c.insert(callCtx, coll, sub, ictx)
	case "update":
		return c.update(callCtx, coll, sub, ictx)
	case "delete":
		return c.delete(callCtx, coll, sub, ictx)
	default:
		return nil, newError(KindProtocol, c.id, fmt.Errorf("unsupported mongodb operation %q", sub.Operation))
	}
}

func (c *mongoClient) find(ctx context.Context, coll *mongo.Collection, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	filter, err := c.document(sub.Filter, ictx)
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if sub.Limit > 0 {
		opts.SetLimit(sub.Limit)
	}

	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, wrap(c.id, err)
	}
	defer cursor.Close(ctx)

	docs := value.Array{}
	for cursor.Next(ctx) {
		var doc bson.D
		if decodeErr := cursor.Decode(&doc); decodeErr != nil {
			return nil, newError(KindSerialization, c.id, decodeErr)
		}
		docs = append(docs, bsonValue(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, wrap(c.id, err)
	}

	return baseResult(c.id, "mongo").Set("documents", docs), nil
}

func (c *mongoClient) findOne(ctx context.Context, coll *mongo.Collection, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	filter, err := c.document(sub.Filter, ictx)
	if err != nil {
		return nil, err
	}

	var doc bson.D
	findErr := coll.FindOne(ctx, filter).Decode(&doc)
	switch {
	case errors.Is(findErr, mongo.ErrNoDocuments):
		return baseResult(c.id, "mongo").Set("document", value.Null{}), nil
	case findErr != nil:
		return nil, wrap(c.id, findErr)
	}

	return baseResult(c.id, "mongo").Set("document", bsonValue(doc)), nil
}

func (c *mongoClient) insert(ctx context.Context, coll *mongo.Collection, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	doc, err := c.document(sub.Document, ictx)
	if err != nil {
		return nil, err
	}

	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, wrap(c.id, err)
	}

	return baseResult(c.id, "mongo").
		Set("acknowledged", value.Bool(true)).
		Set("inserted_id", bsonValue(res.InsertedID)), nil
}

func (c *mongoClient) update(ctx context.Context, coll *mongo.Collection, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	filter, err := c.document(sub.Filter, ictx)
	if err != nil {
		return nil, err
	}
	update, err := c.document(sub.Update, ictx)
	if err != nil {
		return nil, err
	}

	res, err := coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, wrap(c.id, err)
	}

	return baseResult(c.id, "mongo").
		Set("matched_count", value.Integer(res.MatchedCount)).
		Set("modified_count", value.Integer(res.ModifiedCount)), nil
}

func (c *mongoClient) delete(ctx context.Context, coll *mongo.Collection, sub *config.Subrequest, ictx *interp.Context) (*value.Object, error) {
	filter, err := c.document(sub.Filter, ictx)
	if err != nil {
		return nil, err
	}

	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return nil, wrap(c.id, err)
	}

	return baseResult(c.id, "mongo").
		Set("matched_count", value.Integer(res.DeletedCount)).
		Set("deleted_count", value.Integer(res.DeletedCount)), nil
}

func (c *mongoClient) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// document interpolates a JSON template and parses it into a BSON document.
// A parse failure after interpolation is a serialization error.
func (c *mongoClient) document(template string, ictx *interp.Context) (bson.D, error) {
	rendered, err := ictx.Render(template)
	if err != nil {
		return nil, err
	}

	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(rendered), false, &doc); err != nil {
		return nil, newError(KindSerialization, c.id, fmt.Errorf("payload is not valid JSON after interpolation: %w", err))
	}
	return doc, nil
}

// bsonValue converts a decoded BSON value into the Value model, preserving
// document field order.
func bsonValue(v any) value.Value {
	switch t := v.(type) {
	case nil:
		return value.Null{}
	case bson.D:
		obj := value.NewObject()
		for _, elem := range t {
			obj.Set(elem.Key, bsonValue(elem.Value))
		}
		return obj
	case bson.M:
		return value.FromAny(mapAny(t))
	case bson.A:
		arr := make(value.Array, len(t))
		for i, e := range t {
			arr[i] = bsonValue(e)
		}
		return arr
	case primitive.ObjectID:
		return value.String(t.Hex())
	case primitive.DateTime:
		return value.String(t.Time().UTC().Format(time.RFC3339Nano))
	case primitive.Decimal128:
		return value.String(t.String())
	case primitive.Binary:
		return value.String(fmt.Sprintf("%x", t.Data))
	case bool:
		return value.Bool(t)
	case int32:
		return value.Integer(t)
	case int64:
		return value.Integer(t)
	case float64:
		return value.Float(t)
	case string:
		return value.String(t)
	default:
		return value.FromAny(v)
	}
}

func mapAny(m bson.M) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = bsonValue(v)
	}
	return out
}
