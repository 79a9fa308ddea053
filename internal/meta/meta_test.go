package meta

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dronedb/ddb-core/testutil"
)

func TestAddRejectsSingularKey(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)

	_, err := m.Add(context.Background(), "annotation", "a.jpg", `{"x":1}`)
	require.Error(t, err)
}

func TestSetRejectsPluralKey(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)

	_, err := m.Set(context.Background(), "annotations", "a.jpg", `{"x":1}`)
	require.Error(t, err)
}

func TestAddAccumulatesRows(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)
	ctx := context.Background()

	_, err := m.Add(ctx, "tags", "a.jpg", `"red"`)
	require.NoError(t, err)
	_, err = m.Add(ctx, "tags", "a.jpg", `"blue"`)
	require.NoError(t, err)

	items, err := m.Get(ctx, "tags", "a.jpg")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestSetUpsertsSingleRow(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)
	ctx := context.Background()

	first, err := m.Set(ctx, "label", "a.jpg", `"north field"`)
	require.NoError(t, err)

	second, err := m.Set(ctx, "label", "a.jpg", `"south field"`)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	items, err := m.Get(ctx, "label", "a.jpg")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.JSONEq(t, `"south field"`, string(items[0].Data))
}

func TestNormalizeDataRewrapsPlainString(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)
	ctx := context.Background()

	item, err := m.Set(ctx, "note", "a.jpg", "not json")
	require.NoError(t, err)
	require.JSONEq(t, `"not json"`, string(item.Data))
}

func TestRemoveAndUnset(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)
	ctx := context.Background()

	item, err := m.Add(ctx, "tags", "a.jpg", `"x"`)
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, item.ID))

	items, err := m.Get(ctx, "tags", "a.jpg")
	require.NoError(t, err)
	require.Empty(t, items)

	_, err = m.Add(ctx, "tags", "a.jpg", `"y"`)
	require.NoError(t, err)
	require.NoError(t, m.Unset(ctx, "tags", "a.jpg"))

	items, err = m.Get(ctx, "tags", "a.jpg")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestDumpRestoreRoundTrip(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)
	ctx := context.Background()

	item, err := m.Add(ctx, "tags", "a.jpg", `"x"`)
	require.NoError(t, err)

	dumped, err := m.Dump(ctx, nil)
	require.NoError(t, err)
	require.Len(t, dumped, 1)

	require.NoError(t, m.BulkRemove(ctx, []string{item.ID}))

	items, err := m.Get(ctx, "tags", "a.jpg")
	require.NoError(t, err)
	require.Empty(t, items)

	require.NoError(t, m.Restore(ctx, dumped))

	items, err = m.Get(ctx, "tags", "a.jpg")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestAllIDsSorted(t *testing.T) {
	db := testutil.OpenTestDB(t)
	m := NewManager(db, nil)
	ctx := context.Background()

	_, err := m.Add(ctx, "tags", "a.jpg", `"x"`)
	require.NoError(t, err)
	_, err = m.Add(ctx, "tags", "b.jpg", `"y"`)
	require.NoError(t, err)

	ids, err := m.AllIDsSorted(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.True(t, ids[0] < ids[1] || ids[0] == ids[1])
}
