package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/remote"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
	"github.com/roach88/stockline/internal/testutil"
)

func setup(t *testing.T, ep remote.Endpoint, opts ...Option) (*Syncer, *store.Store) {
	t.Helper()
	return setupDevice(t, ep, "local", testutil.Epoch, opts...)
}

// setupDevice opens a store whose ids carry prefix and whose clock starts at start.
func setupDevice(t *testing.T, ep remote.Endpoint, prefix string, start time.Time, opts ...Option) (*Syncer, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), prefix+".db"),
		store.WithClock(testutil.NewDeterministicClockAt(start, time.Millisecond)),
		store.WithIDGenerator(testutil.NewSequentialIDs(prefix)))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, ep, opts...), st
}

func remoteClient(id, name, updatedAt string) record.Row {
	return record.Row{
		"id": id, "name": name, "document": "",
		"created_at": "2024-03-01T00:00:00.000000Z", "updated_at": updatedAt,
	}
}

func TestPull_InsertsThenOverwrites(t *testing.T) {
	mem := remote.NewMemory()
	mem.Put(schema.Client,
		remoteClient("c1", "Ana", "2024-03-01T10:00:00.000000Z"),
		remoteClient("c2", "Bia", "2024-03-01T11:00:00.000000Z"),
	)
	s, st := setup(t, mem)
	ctx := context.Background()

	n, err := s.Pull(ctx, schema.Client)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	wm, err := st.Watermark(ctx, schema.Client)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T11:00:00.000000Z", wm)

	dirty, err := st.Dirty(ctx, schema.Client)
	require.NoError(t, err)
	assert.Empty(t, dirty, "pulled rows must not be pushed back")

	mem.Put(schema.Client, remoteClient("c1", "Ana Paula", "2024-03-02T09:00:00.000000Z"))
	n, err = s.Pull(ctx, schema.Client)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	row, err := st.Get(ctx, schema.Client, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Paula", row.String("name"))
	assert.Equal(t, "2024-03-02T09:00:00.000000Z", row.String("updated_at"))
}

func TestPull_OverwritesLocalEdit(t *testing.T) {
	mem := remote.NewMemory()
	s, st := setup(t, mem)
	ctx := context.Background()

	_, err := st.Insert(ctx, schema.Client, record.Row{"id": "c1", "name": "local"})
	require.NoError(t, err)
	mem.Put(schema.Client, remoteClient("c1", "remote", "2024-03-01T10:00:00.000000Z"))

	_, err = s.Pull(ctx, schema.Client)
	require.NoError(t, err)

	row, err := st.Get(ctx, schema.Client, "c1")
	require.NoError(t, err)
	assert.Equal(t, "remote", row.String("name"))
}

func TestPull_IsIdempotent(t *testing.T) {
	mem := remote.NewMemory()
	mem.Put(schema.Client, remoteClient("c1", "Ana", "2024-03-01T10:00:00.000000Z"))
	s, st := setup(t, mem)
	ctx := context.Background()

	_, err := s.Pull(ctx, schema.Client)
	require.NoError(t, err)
	first, err := st.Get(ctx, schema.Client, "c1")
	require.NoError(t, err)

	n, err := s.Pull(ctx, schema.Client)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	second, err := st.Get(ctx, schema.Client, "c1")
	require.NoError(t, err)
	assert.Equal(t, first.Without("last_sync"), second.Without("last_sync"))
}

func TestPull_DropsUnknownColumns(t *testing.T) {
	mem := remote.NewMemory()
	row := remoteClient("c1", "Ana", "2024-03-01T10:00:00.000000Z")
	row["tenant_id"] = "t-1"
	row["last_sync"] = "2020-01-01T00:00:00.000000Z"
	mem.Put(schema.Client, row)
	s, st := setup(t, mem)

	_, err := s.Pull(context.Background(), schema.Client)
	require.NoError(t, err)

	local, err := st.Get(context.Background(), schema.Client, "c1")
	require.NoError(t, err)
	assert.False(t, local.Has("tenant_id"))
	assert.Equal(t, "2024-03-01T10:00:00.000000Z", local.String("last_sync"))
}

func TestPull_KeepsPulledStockCounters(t *testing.T) {
	mem := remote.NewMemory()
	mem.Put(schema.StockItem, record.Row{
		"id": "item-1", "name": "cement", "quantity": 10, "reserved": 3, "unit_value": "12.50",
		"created_at": "2024-03-01T00:00:00.000000Z", "updated_at": "2024-03-01T01:00:00.000000Z",
	})
	mem.Put(schema.Orders, record.Row{
		"id": "order-1", "stock_item_id": "item-1", "quantity": 3, "status": schema.OrderPending,
		"created_at": "2024-03-01T01:00:00.000000Z", "updated_at": "2024-03-01T01:00:00.000000Z",
	})
	s, st := setup(t, mem)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		results := s.SyncAll(ctx, []string{schema.StockItem, schema.Orders})
		require.True(t, results[schema.StockItem].Success)
		require.True(t, results[schema.Orders].Success)
		assert.Equal(t, 0, results[schema.StockItem].Uploaded)
	}

	item, err := st.Get(ctx, schema.StockItem, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.Int64("quantity"))
	assert.Equal(t, int64(3), item.Int64("reserved"))

	dirty, err := st.Dirty(ctx, schema.StockItem)
	require.NoError(t, err)
	assert.Empty(t, dirty)
}

func TestPull_AcceptsReferencesToDeviceTables(t *testing.T) {
	mem := remote.NewMemory()
	withAddress := remoteClient("c2", "Bia", "2024-03-01T11:00:00.000000Z")
	withAddress["address_id"] = 7
	mem.Put(schema.Client, remoteClient("c1", "Ana", "2024-03-01T10:00:00.000000Z"), withAddress)
	s, st := setup(t, mem)
	ctx := context.Background()

	n, err := s.Pull(ctx, schema.Client)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	row, err := st.Get(ctx, schema.Client, "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(7), row.Int64("address_id"))
}

func TestFullSync_SkipsRejectedRows(t *testing.T) {
	mem := remote.NewMemory()
	mem.Put(schema.Orders,
		record.Row{
			"id": "order-1", "stock_item_id": "missing", "quantity": 3, "status": schema.OrderPending,
			"created_at": "2024-03-01T01:00:00.000000Z", "updated_at": "2024-03-01T02:00:00.000000Z",
		},
		record.Row{
			"id": "order-2", "stock_item_id": "item-1", "quantity": 2, "status": schema.OrderPending,
			"created_at": "2024-03-01T01:00:00.000000Z", "updated_at": "2024-03-01T01:00:00.000000Z",
		},
	)
	s, st := setup(t, mem)
	ctx := context.Background()
	_, err := st.Insert(ctx, schema.StockItem, record.Row{"id": "item-1", "name": "cement", "quantity": 10})
	require.NoError(t, err)

	res := s.FullSync(ctx, schema.Orders)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, res.Downloaded)
	assert.Equal(t, 1, res.Rejected)

	exists, err := st.Exists(ctx, schema.Orders, "order-2")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = st.Exists(ctx, schema.Orders, "order-1")
	require.NoError(t, err)
	assert.False(t, exists)

	wm, err := st.Watermark(ctx, schema.Orders)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T02:00:00.000000Z", wm)

	res = s.FullSync(ctx, schema.Orders)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 0, res.Downloaded)
	assert.Equal(t, 0, res.Rejected)
}

func TestPull_RemoteStatusChangeKeepsOtherReservations(t *testing.T) {
	mem := remote.NewMemory()
	s, st := setup(t, mem)
	ctx := context.Background()

	_, err := st.Insert(ctx, schema.StockItem, record.Row{"id": "item-1", "name": "cement", "quantity": 10})
	require.NoError(t, err)
	for _, id := range []string{"order-1", "order-2"} {
		_, err := st.Insert(ctx, schema.Orders, record.Row{
			"id": id, "stock_item_id": "item-1", "quantity": 3, "status": schema.OrderPending,
		})
		require.NoError(t, err)
	}
	_, err = st.Update(ctx, schema.Orders, record.Row{"status": schema.OrderDispatched}, record.Eq("id", "order-1"))
	require.NoError(t, err)

	canceled, err := st.Get(ctx, schema.Orders, "order-1")
	require.NoError(t, err)
	canceled["status"] = schema.OrderCanceled
	canceled["updated_at"] = "2024-03-01T00:00:00.000000Z"
	mem.Put(schema.Orders, canceled.Without("last_sync"))

	_, err = s.Pull(ctx, schema.Orders)
	require.NoError(t, err)

	row, err := st.Get(ctx, schema.Orders, "order-1")
	require.NoError(t, err)
	assert.Equal(t, schema.OrderCanceled, row.String("status"))

	item, err := st.Get(ctx, schema.StockItem, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), item.Int64("quantity"))
	assert.Equal(t, int64(3), item.Int64("reserved"))

	_, err = st.Update(ctx, schema.Orders, record.Row{"status": schema.OrderDispatched}, record.Eq("id", "order-2"))
	require.NoError(t, err)
}

func TestPush_UploadsOnlyDirtyRows(t *testing.T) {
	mem := remote.NewMemory()
	s, st := setup(t, mem)
	ctx := context.Background()

	var ids []any
	for _, name := range []string{"a", "b", "c"} {
		res, err := st.Insert(ctx, schema.Client, record.Row{"name": name})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}
	clean, err := st.Get(ctx, schema.Client, ids[1])
	require.NoError(t, err)
	_, err = st.MarkSynced(ctx, schema.Client, clean, st.Now())
	require.NoError(t, err)

	n, err := s.Push(ctx, schema.Client)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	pushed := mem.Rows(schema.Client)
	require.Len(t, pushed, 2)
	assert.Equal(t, ids[0], pushed[0]["id"])
	assert.Equal(t, ids[2], pushed[1]["id"])
	assert.False(t, pushed[0].Has("last_sync"))

	dirty, err := st.Dirty(ctx, schema.Client)
	require.NoError(t, err)
	assert.Empty(t, dirty)

	states, err := st.SyncStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.NotNil(t, states[0].LastPush)
}

func TestPush_StopsAtFirstTransportFailure(t *testing.T) {
	mem := remote.NewMemory()
	s, st := setup(t, mem)
	ctx := context.Background()

	_, err := st.Insert(ctx, schema.Client, record.Row{"name": "a"})
	require.NoError(t, err)
	mem.FailTable(schema.Client, errors.New("503 service unavailable"))

	n, err := s.Push(ctx, schema.Client)
	assert.Equal(t, 0, n)
	assert.True(t, errs.IsSyncTransport(err))

	dirty, err := st.Dirty(ctx, schema.Client)
	require.NoError(t, err)
	assert.Len(t, dirty, 1)
}

// sameRows asserts both stores hold the same rows of table, ignoring last_sync.
func sameRows(t *testing.T, a, b *store.Store, table string) {
	t.Helper()
	ctx := context.Background()
	q := record.Query{OrderBy: []record.Order{record.Asc(schema.ColID)}}
	left, err := a.Select(ctx, table, q)
	require.NoError(t, err)
	right, err := b.Select(ctx, table, q)
	require.NoError(t, err)
	require.Len(t, right, len(left), table)
	for i := range left {
		assert.Equal(t, left[i].Without(schema.ColLastSync), right[i].Without(schema.ColLastSync), table)
	}
}

func TestFullSync_TwoDevicesConverge(t *testing.T) {
	mem := remote.NewMemory()
	devA, storeA := setupDevice(t, mem, "device-a", testutil.Epoch)
	devB, storeB := setupDevice(t, mem, "device-b", testutil.Epoch.Add(time.Hour))
	ctx := context.Background()
	tables := []string{schema.Client, schema.StockItem, schema.Orders}

	client, err := storeA.InsertWithGeneratedID(ctx, schema.Client, record.Row{"name": "Ana", "address_id": 7})
	require.NoError(t, err)
	item, err := storeA.InsertWithGeneratedID(ctx, schema.StockItem, record.Row{"name": "cement", "quantity": 10, "unit_value": "12.50"})
	require.NoError(t, err)
	order, err := storeA.InsertWithGeneratedID(ctx, schema.Orders, record.Row{
		"stock_item_id": item.ID, "client_id": client.ID, "vehicle_id": 3, "quantity": 3, "status": schema.OrderPending,
	})
	require.NoError(t, err)

	for table, res := range devA.SyncAll(ctx, tables) {
		require.True(t, res.Success, "%s: %s", table, res.Error)
		assert.Equal(t, 1, res.Uploaded, table)
	}
	for table, res := range devB.SyncAll(ctx, tables) {
		require.True(t, res.Success, "%s: %s", table, res.Error)
		assert.Equal(t, 1, res.Downloaded, table)
		assert.Equal(t, 0, res.Uploaded, table)
	}
	for _, table := range tables {
		sameRows(t, storeA, storeB, table)
	}

	pulled, err := storeB.Get(ctx, schema.StockItem, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pulled.Int64("quantity"))
	assert.Equal(t, int64(3), pulled.Int64("reserved"))

	// Dispatch on B; the stock effect travels back to A through stock_item.
	_, err = storeB.Update(ctx, schema.Orders, record.Row{"status": schema.OrderDispatched}, record.Eq(schema.ColID, order.ID))
	require.NoError(t, err)
	for table, res := range devB.SyncAll(ctx, tables) {
		require.True(t, res.Success, "%s: %s", table, res.Error)
	}
	for table, res := range devA.SyncAll(ctx, tables) {
		require.True(t, res.Success, "%s: %s", table, res.Error)
		assert.Equal(t, 0, res.Uploaded, table)
	}
	for _, table := range tables {
		sameRows(t, storeA, storeB, table)

		dirty, err := storeA.Dirty(ctx, table)
		require.NoError(t, err)
		assert.Empty(t, dirty, table)
		dirty, err = storeB.Dirty(ctx, table)
		require.NoError(t, err)
		assert.Empty(t, dirty, table)
	}

	final, err := storeA.Get(ctx, schema.StockItem, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), final.Int64("quantity"))
	assert.Equal(t, int64(0), final.Int64("reserved"))
}

func TestFullSync_PullFailureSkipsPush(t *testing.T) {
	mem := remote.NewMemory()
	s, st := setup(t, mem)
	ctx := context.Background()

	_, err := st.Insert(ctx, schema.Client, record.Row{"name": "a"})
	require.NoError(t, err)
	mem.FailTable(schema.Client, errors.New("connection refused"))

	res := s.FullSync(ctx, schema.Client)
	assert.False(t, res.Success)
	assert.True(t, errs.IsSyncTransport(res.Err))
	assert.Contains(t, res.Error, "connection refused")
	assert.Equal(t, 0, mem.Calls(schema.Client, "upsert"))
}

func TestSyncAll_FailingTableDoesNotBlockOthers(t *testing.T) {
	mem := remote.NewMemory()
	mem.FailTable(schema.Client, errors.New("timeout"))
	s, _ := setup(t, mem)

	results := s.SyncAll(context.Background(), nil)
	require.Len(t, results, len(schema.SyncTables))
	for _, table := range schema.SyncTables {
		if table == schema.Client {
			assert.False(t, results[table].Success)
			continue
		}
		assert.True(t, results[table].Success, table)
	}
	assert.Equal(t, []string{schema.Client}, Failed(results))
	assert.True(t, errs.IsSyncTransport(FirstError(results, schema.SyncTables)))
}

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) SyncCompleted(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func TestFullSync_NotifiesRecorder(t *testing.T) {
	rec := &recorder{}
	s, _ := setup(t, remote.NewMemory(), WithRecorder(rec))

	s.SyncAll(context.Background(), []string{schema.Employee, schema.Client})

	require.Len(t, rec.results, 2)
	assert.Equal(t, schema.Employee, rec.results[0].Table)
	assert.Equal(t, schema.Client, rec.results[1].Table)
}

// gatedEndpoint blocks Select until release is closed.
type gatedEndpoint struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}
	selects atomic.Int32
}

func (g *gatedEndpoint) Select(ctx context.Context, table string, columns []string, filter record.Predicate) ([]record.Row, error) {
	g.selects.Add(1)
	g.entered <- struct{}{}
	<-g.release
	return g.Memory.Select(ctx, table, columns, filter)
}

func TestFullSync_ConcurrentCallsJoin(t *testing.T) {
	gate := &gatedEndpoint{
		Memory:  remote.NewMemory(),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	s, _ := setup(t, gate)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]Result, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = s.FullSync(ctx, schema.Client)
	}()
	<-gate.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = s.FullSync(ctx, schema.Client)
	}()
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, int32(1), gate.selects.Load())
	assert.True(t, results[0].Success)
	assert.Equal(t, results[0], results[1])
}

func TestWithTimeout_BoundsRemoteCalls(t *testing.T) {
	gate := &gatedEndpoint{
		Memory:  remote.NewMemory(),
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	blocking := &ctxEndpoint{gatedEndpoint: gate}
	s, _ := setup(t, blocking, WithTimeout(20*time.Millisecond))
	defer close(gate.release)

	res := s.FullSync(context.Background(), schema.Client)
	assert.False(t, res.Success)
	assert.True(t, errs.IsSyncTransport(res.Err))
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
}

// ctxEndpoint gives up on Select when the context is done.
type ctxEndpoint struct {
	*gatedEndpoint
}

func (c *ctxEndpoint) Select(ctx context.Context, table string, columns []string, filter record.Predicate) ([]record.Row, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.release:
		return c.Memory.Select(ctx, table, columns, filter)
	}
}
