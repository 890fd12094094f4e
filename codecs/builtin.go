package codecs

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Builtin returns a Registry holding codecs of common declared types:
//
//   - JSON, LIST, DICT: documents stored as JSON text, loaded as the
//     result of unmarshalling into interface{}.
//   - BOOL, BOOLEAN: booleans stored as integers zero and one.
//   - TIME, DATE, DATETIME, TIMESTAMP: times stored in ISO 8601 text forms.
//   - UUID: RFC 4122 UUIDs stored in canonical text form.
//   - GZIP, SNAPPY: compressed blobs, loaded as their decompressed bytes.
func Builtin() *Registry {
	var r = NewRegistry()
	r.Register(jsonCodec{}, "JSON", "LIST", "DICT")
	r.Register(booleanCodec{}, "BOOL", "BOOLEAN")
	r.Register(isoCodec{layouts: []string{"15:04:05.999999999", "15:04"}}, "TIME")
	r.Register(isoCodec{layouts: []string{"2006-01-02"}}, "DATE")
	r.Register(isoCodec{layouts: []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999",
	}}, "DATETIME", "TIMESTAMP")
	r.Register(uuidCodec{}, "UUID")
	r.Register(gzipCodec{}, "GZIP")
	r.Register(snappyCodec{}, "SNAPPY")
	return r
}

// jsonCodec stores documents in their JSON text encoding.
type jsonCodec struct{}

func (jsonCodec) Load(stored interface{}) (interface{}, error) {
	var data, err = asBytes(stored)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err = json.Unmarshal(data, &out); err != nil {
		return nil, errors.WithMessage(err, "unmarshalling JSON value")
	}
	return out, nil
}

func (jsonCodec) Dump(value interface{}) (driver.Value, error) {
	var data, err = json.Marshal(value)
	if err != nil {
		return nil, errors.WithMessage(err, "marshalling JSON value")
	}
	return string(data), nil
}

// booleanCodec stores booleans as integers zero and one, and additionally
// loads their textual forms.
type booleanCodec struct{}

func (booleanCodec) Load(stored interface{}) (interface{}, error) {
	switch t := stored.(type) {
	case bool:
		return t, nil // The driver already converted the value.
	case int64:
		return t != 0, nil
	case []byte:
		return parseBool(string(t))
	case string:
		return parseBool(t)
	default:
		return nil, errors.Errorf("expected BOOLEAN value, got %T", stored)
	}
}

func (booleanCodec) Dump(value interface{}) (driver.Value, error) {
	var b, ok = value.(bool)
	if !ok {
		return nil, errors.Errorf("expected bool, got %T", value)
	}
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

func parseBool(s string) (interface{}, error) {
	switch strings.ToLower(s) {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return nil, errors.Errorf("invalid BOOLEAN value %q", s)
}

// isoCodec stores times in an ISO 8601 text form, loading any of its
// layouts and dumping the first.
type isoCodec struct {
	layouts []string
}

func (c isoCodec) Load(stored interface{}) (interface{}, error) {
	if t, ok := stored.(time.Time); ok {
		return t, nil // The driver already parsed the value.
	}
	var data, err = asBytes(stored)
	if err != nil {
		return nil, err
	}
	var s = string(data)
	for _, l := range c.layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t, nil
		}
	}
	return nil, errors.Errorf("invalid time value %q", s)
}

func (c isoCodec) Dump(value interface{}) (driver.Value, error) {
	var t, ok = value.(time.Time)
	if !ok {
		return nil, errors.Errorf("expected time.Time, got %T", value)
	}
	return t.Format(c.layouts[0]), nil
}

// uuidCodec stores RFC 4122 UUIDs in their canonical text form, and also
// loads the packed 16 byte binary form.
type uuidCodec struct{}

func (uuidCodec) Load(stored interface{}) (interface{}, error) {
	switch t := stored.(type) {
	case string:
		return uuid.Parse(t)
	case []byte:
		if len(t) == 16 {
			return uuid.FromBytes(t)
		}
		return uuid.ParseBytes(t)
	default:
		return nil, errors.Errorf("expected UUID value, got %T", stored)
	}
}

func (uuidCodec) Dump(value interface{}) (driver.Value, error) {
	switch t := value.(type) {
	case uuid.UUID:
		return t.String(), nil
	case string:
		var id, err = uuid.Parse(t)
		if err != nil {
			return nil, errors.WithMessage(err, "parsing UUID")
		}
		return id.String(), nil
	default:
		return nil, errors.Errorf("expected UUID, got %T", value)
	}
}

// gzipCodec transparently compresses values with gzip.
type gzipCodec struct{}

func (gzipCodec) Load(stored interface{}) (interface{}, error) {
	var data, err = asBytes(stored)
	if err != nil {
		return nil, err
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithMessage(err, "reading gzip value")
	}
	var out []byte
	if out, err = io.ReadAll(r); err == nil {
		err = r.Close()
	}
	if err != nil {
		return nil, errors.WithMessage(err, "decompressing gzip value")
	}
	return out, nil
}

func (gzipCodec) Dump(value interface{}) (driver.Value, error) {
	var data, err = asBytes(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	var w = gzip.NewWriter(&buf)

	if _, err = w.Write(data); err == nil {
		err = w.Close()
	}
	if err != nil {
		return nil, errors.WithMessage(err, "compressing gzip value")
	}
	return buf.Bytes(), nil
}

// snappyCodec transparently compresses values with snappy block encoding.
type snappyCodec struct{}

func (snappyCodec) Load(stored interface{}) (interface{}, error) {
	var data, err = asBytes(stored)
	if err != nil {
		return nil, err
	}
	var out, dErr = snappy.Decode(nil, data)
	if dErr != nil {
		return nil, errors.WithMessage(dErr, "decompressing snappy value")
	}
	return out, nil
}

func (snappyCodec) Dump(value interface{}) (driver.Value, error) {
	var data, err = asBytes(value)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

// asBytes coerces a fetched value to bytes, for codecs which expect a
// textual or binary stored form.
func asBytes(stored interface{}) ([]byte, error) {
	switch t := stored.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, errors.Errorf("expected TEXT or BLOB value, got %T", stored)
	}
}
