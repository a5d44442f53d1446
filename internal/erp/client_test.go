package erp

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/salesflow-api/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildConnectionString(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		host     string
		database string
	}{
		{"host port and database", "erp.internal:14330/Staging", "erp.internal:14330", "Staging"},
		{"default port", "erp.internal/Staging", "erp.internal:1433", "Staging"},
		{"no database", "erp.internal", "erp.internal:1433", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := buildConnectionString(&config.ERPConfig{URL: tt.url, User: "svc", Password: "p@ss/word"})
			u, err := url.Parse(conn)
			require.NoError(t, err)

			assert.Equal(t, "sqlserver", u.Scheme)
			assert.Equal(t, tt.host, u.Host)
			assert.Equal(t, "svc", u.User.Username())
			pw, _ := u.User.Password()
			assert.Equal(t, "p@ss/word", pw)
			assert.Equal(t, tt.database, u.Query().Get("database"))
			assert.Equal(t, "true", u.Query().Get("encrypt"))
		})
	}
}

func TestNewClient_Disabled(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()

	client, err := NewClient(ctx, &config.ERPConfig{Enabled: false}, logger)
	require.NoError(t, err)
	assert.Nil(t, client)

	client, err = NewClient(ctx, &config.ERPConfig{Enabled: true, URL: "erp.internal/Staging"}, logger)
	require.NoError(t, err)
	assert.Nil(t, client, "missing credentials skip the connection")

	_, err = NewClient(ctx, &config.ERPConfig{
		Enabled: true, URL: "erp.internal/Staging", User: "svc", Password: "x",
		StagingTable: "dbo.Invoice; DROP TABLE x",
	}, logger)
	assert.Error(t, err)
}

func TestNilClient(t *testing.T) {
	var client *Client
	ctx := context.Background()

	assert.False(t, client.IsEnabled())
	assert.Equal(t, "disabled", client.HealthCheck(ctx).Status)
	assert.NoError(t, client.Close())

	_, err := client.SubmitInvoiceRequest(ctx, InvoiceRequest{QuoteID: uuid.New()})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestSubmitStatementUsesConfiguredTable(t *testing.T) {
	c := NewClientWithDB(nil, "erp.InvoiceRequests", 0, zap.NewNop())
	stmt := c.submitStatement()
	assert.Contains(t, stmt, "FROM erp.InvoiceRequests WITH (UPDLOCK, HOLDLOCK) WHERE QuoteId = @QuoteId")
	assert.Contains(t, stmt, "INSERT INTO erp.InvoiceRequests")
	assert.Equal(t, "30s", c.queryTimeout.String())
}

// stagingDB is a database/sql connector that answers the staging statement
// with a fixed reference and records the transaction it ran in
type stagingDB struct {
	mu        sync.Mutex
	storedRef string
	queryErr  error
	queries   []string
	args      map[string]driver.Value
	begun     int
	committed int
	rolled    int
}

func (d *stagingDB) Connect(context.Context) (driver.Conn, error) { return &stagingConn{db: d}, nil }
func (d *stagingDB) Driver() driver.Driver                         { return d }
func (d *stagingDB) Open(string) (driver.Conn, error)               { return &stagingConn{db: d}, nil }

type stagingConn struct{ db *stagingDB }

func (c *stagingConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (c *stagingConn) Close() error                        { return nil }
func (c *stagingConn) Begin() (driver.Tx, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.begun++
	return &stagingTx{db: c.db}, nil
}

func (c *stagingConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	c.db.queries = append(c.db.queries, query)
	c.db.args = map[string]driver.Value{}
	for _, a := range args {
		c.db.args[a.Name] = a.Value
	}
	if c.db.queryErr != nil {
		return nil, c.db.queryErr
	}
	ref := c.db.storedRef
	if ref == "" {
		ref, _ = c.db.args["RequestRef"].(string)
	}
	return &refRows{ref: ref}, nil
}

type stagingTx struct{ db *stagingDB }

func (t *stagingTx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.committed++
	return nil
}

func (t *stagingTx) Rollback() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rolled++
	return nil
}

type refRows struct {
	ref  string
	done bool
}

func (r *refRows) Columns() []string { return []string{"RequestRef"} }
func (r *refRows) Close() error      { return nil }
func (r *refRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	dest[0] = r.ref
	return nil
}

func TestSubmitInvoiceRequest(t *testing.T) {
	ctx := context.Background()
	quoteID := uuid.New()
	req := InvoiceRequest{RequestRef: "IR-NEW", QuoteID: quoteID, OpportunityID: uuid.New(), Amount: 15000}

	t.Run("stages inside a committed transaction", func(t *testing.T) {
		fake := &stagingDB{}
		client := NewClientWithDB(sql.OpenDB(fake), "dbo.InvoiceRequests", 0, zap.NewNop())

		ref, err := client.SubmitInvoiceRequest(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "IR-NEW", ref)

		assert.Equal(t, 1, fake.begun)
		assert.Equal(t, 1, fake.committed)
		require.Len(t, fake.queries, 1)
		assert.Contains(t, fake.queries[0], "WITH (UPDLOCK, HOLDLOCK)")
		assert.Equal(t, quoteID.String(), fake.args["QuoteId"])
		assert.Nil(t, fake.args["AccountId"])
	})

	t.Run("returns the reference already staged for the quote", func(t *testing.T) {
		fake := &stagingDB{storedRef: "IR-FIRST"}
		client := NewClientWithDB(sql.OpenDB(fake), "dbo.InvoiceRequests", 0, zap.NewNop())

		ref, err := client.SubmitInvoiceRequest(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "IR-FIRST", ref)
	})

	t.Run("failed statement is rolled back", func(t *testing.T) {
		fake := &stagingDB{queryErr: errors.New("deadlock victim")}
		client := NewClientWithDB(sql.OpenDB(fake), "dbo.InvoiceRequests", 0, zap.NewNop())

		_, err := client.SubmitInvoiceRequest(ctx, req)
		assert.Error(t, err)
		assert.Equal(t, 0, fake.committed)
		assert.Equal(t, 1, fake.rolled)
	})
}
