package journal

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylerberry/JACT/ledger"
	"github.com/kylerberry/JACT/models"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	mu      sync.Mutex
	execs   []execCall
	execErr error
	rows    [][]any
	// hold, when set, stalls every Exec until it is closed.
	hold chan struct{}
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.hold != nil {
		<-f.hold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.execs)
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return &fakeRows{rows: f.rows, pos: -1}, nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.rows[r.pos], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*string) = row[1].(string)
	*dest[2].(*float64) = row[2].(float64)
	*dest[3].(*float64) = row[3].(float64)
	*dest[4].(*float64) = row[4].(float64)
	*dest[5].(*time.Time) = row[5].(time.Time)
	return nil
}

func TestRecordWritesFill(t *testing.T) {
	db := &fakeDB{}
	j := New(db, "BTC-USD")
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	require.NoError(t, j.EnsureSchema(context.Background()))
	require.NoError(t, j.Record(context.Background(), models.Fill{OrderID: "o-1", Side: "buy", Size: 1, Price: 100, Time: at}))

	require.Len(t, db.execs, 2)
	assert.Contains(t, db.execs[0].sql, "CREATE TABLE IF NOT EXISTS jact_fills")
	assert.True(t, strings.Contains(db.execs[1].sql, "ON CONFLICT DO NOTHING"))
	assert.Equal(t, []any{"BTC-USD", "o-1", "buy", 1.0, 100.0, 0.0, at.UTC()}, db.execs[1].args)
}

func runJournal(t *testing.T, j *Journal) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("journal did not stop")
		}
	}
}

func TestHookFeedsLedgerFills(t *testing.T) {
	db := &fakeDB{execErr: errors.New("connection refused")}
	j := New(db, "BTC-USD")
	stop := runJournal(t, j)
	defer stop()

	l := ledger.New(ledger.Options{MinimumOrderSize: 0.01})
	l.OnFill(j.Hook())
	require.NoError(t, l.AddFilled(models.Fill{OrderID: "o-1", Side: "buy", Size: 1, Price: 100, Time: time.Now()}))

	// Failures are logged, not propagated into the ledger.
	require.Eventually(t, func() bool { return db.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, l.Fills(), 1)
}

func TestSlowDatabaseDoesNotBlockFills(t *testing.T) {
	db := &fakeDB{hold: make(chan struct{})}
	j := New(db, "BTC-USD")
	stop := runJournal(t, j)
	defer stop()

	l := ledger.New(ledger.Options{MinimumOrderSize: 0.01})
	l.OnFill(j.Hook())

	added := make(chan struct{})
	go func() {
		defer close(added)
		for i := 0; i < 3; i++ {
			assert.NoError(t, l.AddFilled(models.Fill{OrderID: "o-1", Side: "buy", Size: 1, Price: 100, Time: time.Now()}))
		}
	}()
	select {
	case <-added:
	case <-time.After(2 * time.Second):
		t.Fatal("AddFilled waited on the database")
	}
	assert.Zero(t, db.count())

	close(db.hold)
	require.Eventually(t, func() bool { return db.count() == 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestRunWritesQueuedFillsOnShutdown(t *testing.T) {
	db := &fakeDB{}
	j := New(db, "BTC-USD")
	hook := j.Hook()
	hook(models.Fill{OrderID: "o-1", Side: "buy", Size: 1, Price: 100, Time: time.Now()})
	hook(models.Fill{OrderID: "o-2", Side: "sell", Size: 1, Price: 110, Time: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, j.Run(ctx))
	assert.Equal(t, 2, db.count())
}

func TestHookDropsWhenQueueIsFull(t *testing.T) {
	db := &fakeDB{}
	j := New(db, "BTC-USD")
	hook := j.Hook()
	for i := 0; i < queueSize+5; i++ {
		hook(models.Fill{OrderID: "o-1", Side: "buy", Size: 1, Price: 100, Time: time.Now()})
	}
	assert.Len(t, j.queue, queueSize)
}

func TestLoadRehydratesLedger(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{rows: [][]any{
		{"o-1", "buy", 1.0, 100.0, 0.0, t0},
		{"o-2", "sell", 1.0, 110.0, 0.0, t0.Add(time.Hour)},
	}}
	fills, err := New(db, "BTC-USD").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, fills, 2)

	l := ledger.New(ledger.Options{MinimumOrderSize: 0.01})
	for _, f := range fills {
		require.NoError(t, l.AddFilled(f))
	}
	net, ok := l.GetNetProfit()
	require.True(t, ok)
	assert.InDelta(t, 10, net.USD, 1e-9)
}

func TestJournalLive(t *testing.T) {
	dsn := os.Getenv("JACT_TEST_DSN")
	if testing.Short() || dsn == "" {
		t.Skip("skipping live journal test; set JACT_TEST_DSN")
	}
	ctx := context.Background()
	product := "TEST-" + time.Now().Format("150405.000000")

	j, err := Open(ctx, dsn, product)
	require.NoError(t, err)
	defer j.Close()

	fill := models.Fill{OrderID: "live-1", Side: "buy", Size: 0.5, Price: 42, Time: time.Now().UTC().Truncate(time.Microsecond)}
	require.NoError(t, j.Record(ctx, fill))
	require.NoError(t, j.Record(ctx, fill))

	fills, err := j.Load(ctx)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, fill.OrderID, fills[0].OrderID)
	assert.True(t, fill.Time.Equal(fills[0].Time))
}
