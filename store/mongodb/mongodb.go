/*
Package mongodb provides a MongoDB-backed DocumentStore.

PURPOSE:
  Keeps each engine collection in a MongoDB collection of the same name.
  This is the closest backend to the document database the engine was
  designed against.

RECORD SHAPE:
  { _id: <id>, body: <the JSON document as BSON>, rev: <int64> }

  body keeps the document as written, so field queries become
  {"body.<field>": value}. rev is bumped on every write. Integral JSON
  numbers are stored as int64 and all others as Decimal128, never as
  doubles, so amounts survive the round trip digit for digit.

CONCURRENCY:
  Update() is optimistic: read body and rev, apply fn, replace only where
  rev still matches. A lost race is retried; after maxUpdateAttempts it
  returns ErrConcurrentModification.

SEE ALSO:
  - incentive/store.go: Interface definition
*/
package mongodb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/warp/incentive-engine/incentive"
)

const maxUpdateAttempts = 5

// Store implements incentive.DocumentStore on a MongoDB database.
type Store struct {
	db     *mongo.Database
	client *mongo.Client // nil when the database was handed in
}

type record struct {
	ID   string `bson:"_id"`
	Body bson.D `bson:"body"`
	Rev  int64  `bson:"rev"`
}

// Connect dials uri, pings and opens database.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, eris.Wrap(err, "mongo: ping")
	}

	store := &Store{db: client.Database(database), client: client}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// NewWithDatabase wraps an open database handle.
func NewWithDatabase(db *mongo.Database) *Store {
	return &Store{db: db}
}

// Close disconnects the client opened by Connect.
func (s *Store) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll(incentive.CollectionTasks).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "body.objectiveId", Value: 1}},
	})
	if err != nil {
		return eris.Wrap(err, "mongo: create task index")
	}
	return nil
}

func (s *Store) coll(c incentive.Collection) *mongo.Collection {
	return s.db.Collection(string(c))
}

// =============================================================================
// DOCUMENT STORE (incentive.DocumentStore interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, c incentive.Collection, id string) ([]byte, error) {
	rec, err := s.find(ctx, c, id)
	if err != nil {
		return nil, err
	}
	return toJSON(rec.Body)
}

func (s *Store) Set(ctx context.Context, c incentive.Collection, id string, doc []byte) error {
	body, err := fromJSON(doc)
	if err != nil {
		return err
	}
	_, err = s.coll(c).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "body", Value: body}}},
			{Key: "$inc", Value: bson.D{{Key: "rev", Value: int64(1)}}},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return eris.Wrapf(err, "mongo: set %s/%s", c, id)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, c incentive.Collection, id string, doc []byte) error {
	body, err := fromJSON(doc)
	if err != nil {
		return err
	}
	_, err = s.coll(c).InsertOne(ctx, record{ID: id, Body: body, Rev: 1})
	if mongo.IsDuplicateKeyError(err) {
		return incentive.ErrDocumentExists
	}
	if err != nil {
		return eris.Wrapf(err, "mongo: create %s/%s", c, id)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, c incentive.Collection, id string, fn incentive.UpdateFunc) error {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		rec, err := s.find(ctx, c, id)
		if err != nil {
			return err
		}
		current, err := toJSON(rec.Body)
		if err != nil {
			return err
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		body, err := fromJSON(next)
		if err != nil {
			return err
		}

		res, err := s.coll(c).ReplaceOne(ctx,
			bson.D{{Key: "_id", Value: id}, {Key: "rev", Value: rec.Rev}},
			record{ID: id, Body: body, Rev: rec.Rev + 1})
		if err != nil {
			return eris.Wrapf(err, "mongo: update %s/%s", c, id)
		}
		if res.MatchedCount == 1 {
			return nil
		}
	}
	return fmt.Errorf("%w: %s/%s", incentive.ErrConcurrentModification, c, id)
}

func (s *Store) Delete(ctx context.Context, c incentive.Collection, id string) error {
	res, err := s.coll(c).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return eris.Wrapf(err, "mongo: delete %s/%s", c, id)
	}
	if res.DeletedCount == 0 {
		return incentive.ErrDocumentNotFound
	}
	return nil
}

func (s *Store) QueryByField(ctx context.Context, c incentive.Collection, field string, value any) ([][]byte, error) {
	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("mongo: invalid field name %q", field)
	}
	return s.findMany(ctx, c, bson.D{{Key: "body." + field, Value: value}})
}

func (s *Store) List(ctx context.Context, c incentive.Collection) ([][]byte, error) {
	return s.findMany(ctx, c, bson.D{})
}

// =============================================================================
// HELPERS
// =============================================================================

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (s *Store) find(ctx context.Context, c incentive.Collection, id string) (record, error) {
	var rec record
	err := s.coll(c).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return record{}, incentive.ErrDocumentNotFound
	}
	if err != nil {
		return record{}, eris.Wrapf(err, "mongo: get %s/%s", c, id)
	}
	return rec, nil
}

func (s *Store) findMany(ctx context.Context, c incentive.Collection, filter bson.D) ([][]byte, error) {
	cursor, err := s.coll(c).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: find in %s", c)
	}
	defer cursor.Close(ctx)

	var result [][]byte
	for cursor.Next(ctx) {
		var rec record
		if err := cursor.Decode(&rec); err != nil {
			return nil, eris.Wrap(err, "mongo: decode record")
		}
		doc, err := toJSON(rec.Body)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, eris.Wrap(err, "mongo: iterate")
	}
	return result, nil
}

// =============================================================================
// JSON <-> BSON
// =============================================================================

// fromJSON parses a JSON document into BSON. Integral numbers become int64
// and every other number a Decimal128, so decimal amounts are stored exactly.
func fromJSON(doc []byte) (bson.D, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, eris.Wrap(err, "mongo: document is not a JSON object")
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, eris.New("mongo: document is not a JSON object")
	}
	d, err := decodeObject(dec)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: document is not a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, eris.New("mongo: trailing data after JSON document")
	}
	return d, nil
}

func decodeObject(dec *json.Decoder) (bson.D, error) {
	d := bson.D{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected object key %v", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		d = append(d, bson.E{Key: key, Value: v})
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return d, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			a := bson.A{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				a = append(a, v)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return a, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	case json.Number:
		return numberValue(t)
	default:
		// string, bool or nil
		return t, nil
	}
}

func numberValue(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	d, err := primitive.ParseDecimal128(n.String())
	if err != nil {
		return nil, fmt.Errorf("number %s cannot be stored exactly: %w", n, err)
	}
	return d, nil
}

// toJSON renders a stored body back to JSON, writing Decimal128 values as
// plain JSON numbers.
func toJSON(d bson.D) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeObject(&buf, d); err != nil {
		return nil, eris.Wrap(err, "mongo: encode document")
	}
	return buf.Bytes(), nil
}

func encodeObject(buf *bytes.Buffer, d bson.D) error {
	buf.WriteByte('{')
	for i, e := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := encodeValue(buf, e.Value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bson.D:
		return encodeObject(buf, t)
	case bson.M:
		return encodeObject(buf, mapToD(t))
	case bson.A:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case int32:
		buf.WriteString(strconv.FormatInt(int64(t), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(t, 10))
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return fmt.Errorf("number %v has no JSON form", t)
		}
		buf.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
	case primitive.Decimal128:
		if t.IsNaN() || t.IsInf() != 0 {
			return fmt.Errorf("number %s has no JSON form", t)
		}
		buf.WriteString(t.String())
	case string, bool:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	default:
		return fmt.Errorf("unsupported BSON value %T", v)
	}
	return nil
}

func mapToD(m bson.M) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := make(bson.D, 0, len(m))
	for _, k := range keys {
		d = append(d, bson.E{Key: k, Value: m[k]})
	}
	return d
}

var _ incentive.DocumentStore = (*Store)(nil)
