package table

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorsRegistrationIsCaseInsensitive(t *testing.T) {
	var gens = NewGenerators()
	gens.Register("MyGen", func(context.Context) (interface{}, error) {
		return 42, nil
	})

	var gen, ok = gens.Lookup("mygen")
	require.True(t, ok)
	var v, err = gen(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, v)

	gens.Deregister("MYGEN")
	_, ok = gens.Lookup("MyGen")
	require.False(t, ok)
}

func TestDefaultGenerators(t *testing.T) {
	var gens = DefaultGenerators()
	var ctx = context.Background()

	var gen, ok = gens.Lookup("uuid")
	require.True(t, ok)
	v, err := gen(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(v.(string))
	require.NoError(t, err)

	gen, ok = gens.Lookup("petname")
	require.True(t, ok)
	v, err = gen(ctx)
	require.NoError(t, err)
	require.Contains(t, v.(string), "-")

	gen, ok = gens.Lookup("now")
	require.True(t, ok)
	v, err = gen(ctx)
	require.NoError(t, err)
	var now = v.(time.Time)
	require.Equal(t, time.UTC, now.Location())
	require.WithinDuration(t, time.Now(), now, time.Minute)
}

func TestGeneratedValuesFlowIntoRecords(t *testing.T) {
	var table, err = NewMemoryTable("tokens", nil,
		Column{Name: "token", Type: "UUID", Generator: "uuid", Primary: true},
		Column{Name: "owner", Type: "TEXT"},
	)
	require.NoError(t, err)
	var ctx = context.Background()

	first, err := table.Insert(ctx, false, map[string]interface{}{"owner": "alice"})
	require.NoError(t, err)
	second, err := table.Insert(ctx, false, map[string]interface{}{"owner": "bob"})
	require.NoError(t, err)

	// Each insert generated a distinct key.
	require.False(t, first.Equal(second))
	require.NotEqual(t, first.Field("token"), second.Field("token"))

	n, err := table.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// A caller-supplied value still wins over the generator.
	var fixed = strings.ToLower(uuid.NewString())
	third, err := table.Insert(ctx, false, map[string]interface{}{
		"token": fixed, "owner": "carol",
	})
	require.NoError(t, err)
	require.Equal(t, fixed, third.Field("token"))
}
