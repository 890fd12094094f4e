package codecs

import (
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	var r = Builtin()

	for _, name := range []string{"json", "JSON", "Json"} {
		var _, ok = r.Lookup(name)
		require.True(t, ok, name)
	}
	var _, ok = r.Lookup("NO-SUCH-TYPE")
	require.False(t, ok)

	r.Deregister("json")
	_, ok = r.Lookup("JSON")
	require.False(t, ok)
}

func TestFuncAdaptsClosures(t *testing.T) {
	var r = NewRegistry()
	r.Register(Func{
		LoadFunc: func(stored interface{}) (interface{}, error) {
			return strings.ToUpper(stored.(string)), nil
		},
		DumpFunc: func(value interface{}) (driver.Value, error) {
			return strings.ToLower(value.(string)), nil
		},
	}, "SHOUT")

	var c, ok = r.Lookup("shout")
	require.True(t, ok)

	stored, err := c.Dump("Hello")
	require.NoError(t, err)
	require.Equal(t, "hello", stored)

	loaded, err := c.Load("hello")
	require.NoError(t, err)
	require.Equal(t, "HELLO", loaded)
}

func TestJSONRoundTrip(t *testing.T) {
	var c, ok = Builtin().Lookup("JSON")
	require.True(t, ok)

	var stored, err = c.Dump(map[string]interface{}{"a": []interface{}{1.0, 2.0}})
	require.NoError(t, err)
	require.Equal(t, `{"a":[1,2]}`, stored)

	loaded, err := c.Load(stored)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"a": []interface{}{1.0, 2.0}}, loaded)

	_, err = c.Load("{not json")
	require.Error(t, err)
}

func TestBooleanForms(t *testing.T) {
	var c, ok = Builtin().Lookup("BOOLEAN")
	require.True(t, ok)

	var stored, err = c.Dump(true)
	require.NoError(t, err)
	require.Equal(t, int64(1), stored)

	stored, err = c.Dump(false)
	require.NoError(t, err)
	require.Equal(t, int64(0), stored)

	for _, v := range []interface{}{true, int64(1), "true", "1", []byte("TRUE")} {
		var loaded, err = c.Load(v)
		require.NoError(t, err)
		require.Equal(t, true, loaded)
	}
	for _, v := range []interface{}{false, int64(0), "false", "0"} {
		var loaded, err = c.Load(v)
		require.NoError(t, err)
		require.Equal(t, false, loaded)
	}

	_, err = c.Load("yes-ish")
	require.Error(t, err)
	_, err = c.Dump(42)
	require.Error(t, err)
}

func TestDatetimeLayouts(t *testing.T) {
	var c, ok = Builtin().Lookup("DATETIME")
	require.True(t, ok)

	var ts = time.Date(2026, 8, 26, 13, 14, 15, 0, time.UTC)

	var stored, err = c.Dump(ts)
	require.NoError(t, err)
	require.Equal(t, "2026-08-26T13:14:15Z", stored)

	loaded, err := c.Load(stored)
	require.NoError(t, err)
	require.True(t, ts.Equal(loaded.(time.Time)))

	// The space-separated form SQLite conventionally stores also loads.
	loaded, err = c.Load("2026-08-26 13:14:15")
	require.NoError(t, err)
	require.True(t, ts.Equal(loaded.(time.Time)))

	// A driver-parsed time passes through.
	loaded, err = c.Load(ts)
	require.NoError(t, err)
	require.Equal(t, ts, loaded)

	_, err = c.Load("not a time")
	require.Error(t, err)
}

func TestDateAndTimeOfDay(t *testing.T) {
	var date, ok = Builtin().Lookup("DATE")
	require.True(t, ok)

	var stored, err = date.Dump(time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, "2026-08-26", stored)

	clock, ok := Builtin().Lookup("TIME")
	require.True(t, ok)

	loaded, err := clock.Load("13:14:15.25")
	require.NoError(t, err)

	var tod = loaded.(time.Time)
	require.Equal(t, 13, tod.Hour())
	require.Equal(t, 14, tod.Minute())
	require.Equal(t, 15, tod.Second())
	require.Equal(t, 250000000, tod.Nanosecond())
}

func TestUUIDForms(t *testing.T) {
	var c, ok = Builtin().Lookup("UUID")
	require.True(t, ok)

	var id = uuid.MustParse("f47ac10b-58cc-0372-8567-0e02b2c3d479")

	var stored, err = c.Dump(id)
	require.NoError(t, err)
	require.Equal(t, id.String(), stored)

	// Dump also accepts the textual form.
	stored, err = c.Dump(id.String())
	require.NoError(t, err)
	require.Equal(t, id.String(), stored)

	loaded, err := c.Load(id.String())
	require.NoError(t, err)
	require.Equal(t, id, loaded)

	// The packed binary form also loads.
	loaded, err = c.Load(id[:])
	require.NoError(t, err)
	require.Equal(t, id, loaded)

	_, err = c.Dump(42)
	require.Error(t, err)
}

func TestCompressionRoundTrips(t *testing.T) {
	var payload = []byte(strings.Repeat("highly repetitive content ", 64))

	for _, typename := range []string{"GZIP", "SNAPPY"} {
		var c, ok = Builtin().Lookup(typename)
		require.True(t, ok, typename)

		var stored, err = c.Dump(payload)
		require.NoError(t, err, typename)
		require.Less(t, len(stored.([]byte)), len(payload), typename)

		loaded, err := c.Load(stored)
		require.NoError(t, err, typename)
		require.Equal(t, payload, loaded, typename)

		_, err = c.Load([]byte("not a compressed stream"))
		require.Error(t, err, typename)
	}
}
