// Package cassandra is a durable.Backend on Cassandra lightweight transactions.
//
// A transaction reads the row at SERIAL consistency and commits with a conditional
// statement guarded by what it read: INSERT ... IF NOT EXISTS when the row was
// absent, UPDATE/DELETE ... IF data = ? otherwise. A conditional statement that is
// not applied means another writer got there first and surfaces as
// durable.ErrConflict.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/unkn0wn-root/tiermap/durable"
)

const defaultTable = "tiermap_entries"

// Config contains configuration for connecting to a Cassandra cluster.
type Config struct {
	// ClusterHosts lists contact points for the Cassandra cluster.
	ClusterHosts []string
	// Keyspace holds the entries table; "" => "tiermap".
	Keyspace string
	// Table is the entries table name; "" => "tiermap_entries".
	Table string
	// Consistency is used for non-transactional reads and conditional writes; Any => LocalQuorum.
	Consistency gocql.Consistency
	// SerialConsistency is used for transactional reads and the Paxos phase; 0 => Serial.
	SerialConsistency gocql.SerialConsistency
	// ConnectionTimeout is the session connection timeout.
	ConnectionTimeout time.Duration
	// Authenticator is used when the cluster requires authentication.
	Authenticator gocql.Authenticator
	// ReplicationClause defines the keyspace replication when the keyspace is created.
	ReplicationClause string
}

type Backend struct {
	session     *gocql.Session
	table       string
	consistency gocql.Consistency
	serial      gocql.SerialConsistency
	ownsSession bool
}

var _ durable.Backend = (*Backend)(nil)

// Open connects to the cluster, creates the keyspace and table if needed, and
// returns a Backend that owns the session.
func Open(cfg Config) (*Backend, error) {
	if len(cfg.ClusterHosts) == 0 {
		return nil, errors.New("durable cassandra: at least one cluster host is required")
	}
	if cfg.Keyspace == "" {
		cfg.Keyspace = "tiermap"
	}
	if cfg.ReplicationClause == "" {
		cfg.ReplicationClause = "{'class':'SimpleStrategy', 'replication_factor':1}"
	}
	cluster := gocql.NewCluster(cfg.ClusterHosts...)
	cluster.Consistency = consistencyOrDefault(cfg.Consistency)
	if cfg.ConnectionTimeout > 0 {
		cluster.ConnectTimeout = cfg.ConnectionTimeout
	}
	if cfg.Authenticator != nil {
		cluster.Authenticator = cfg.Authenticator
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("durable cassandra: create session: %w", err)
	}
	b := New(session, cfg)
	b.ownsSession = true
	if err := b.createSchema(cfg.Keyspace, cfg.ReplicationClause); err != nil {
		session.Close()
		return nil, err
	}
	return b, nil
}

// New wraps an existing session. The keyspace and table must already exist.
func New(session *gocql.Session, cfg Config) *Backend {
	ks := cfg.Keyspace
	if ks == "" {
		ks = "tiermap"
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	serial := cfg.SerialConsistency
	if serial == 0 {
		serial = gocql.Serial
	}
	return &Backend{
		session:     session,
		table:       ks + "." + table,
		consistency: consistencyOrDefault(cfg.Consistency),
		serial:      serial,
	}
}

func consistencyOrDefault(c gocql.Consistency) gocql.Consistency {
	if c == gocql.Any {
		return gocql.LocalQuorum
	}
	return c
}

func (b *Backend) createSchema(keyspace, replication string) error {
	if err := b.session.Query(fmt.Sprintf("CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = %s;", keyspace, replication)).Exec(); err != nil {
		return fmt.Errorf("durable cassandra: create keyspace: %w", err)
	}
	if err := b.session.Query(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id text PRIMARY KEY, data blob);", b.table)).Exec(); err != nil {
		return fmt.Errorf("durable cassandra: create table: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, id string) ([]byte, bool, error) {
	return b.read(ctx, id, b.consistency)
}

func (b *Backend) read(ctx context.Context, id string, c gocql.Consistency) ([]byte, bool, error) {
	var data []byte
	err := b.session.Query(fmt.Sprintf("SELECT data FROM %s WHERE id = ?;", b.table), id).
		WithContext(ctx).Consistency(c).Scan(&data)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (b *Backend) Update(ctx context.Context, id string, fn func(durable.Txn) error) error {
	// A SERIAL read observes any in-progress Paxos round on the row.
	data, found, err := b.read(ctx, id, gocql.Consistency(b.serial))
	if err != nil {
		return err
	}
	t := &txn{data: data, found: found}
	if err := fn(t); err != nil {
		return err
	}
	if !t.dirty {
		return nil
	}

	var q *gocql.Query
	switch {
	case t.deleted && !found:
		return nil
	case t.deleted:
		q = b.session.Query(fmt.Sprintf("DELETE FROM %s WHERE id = ? IF data = ?;", b.table), id, data)
	case !found:
		q = b.session.Query(fmt.Sprintf("INSERT INTO %s (id, data) VALUES (?, ?) IF NOT EXISTS;", b.table), id, t.write)
	default:
		q = b.session.Query(fmt.Sprintf("UPDATE %s SET data = ? WHERE id = ? IF data = ?;", b.table), t.write, id, data)
	}
	applied, err := q.WithContext(ctx).Consistency(b.consistency).SerialConsistency(b.serial).
		MapScanCAS(make(map[string]interface{}))
	if err != nil {
		return err
	}
	if !applied {
		return durable.ErrConflict
	}
	return nil
}

// Close closes the session only when this backend opened it.
func (b *Backend) Close(context.Context) error {
	if b.ownsSession {
		b.session.Close()
	}
	return nil
}

type txn struct {
	data    []byte
	found   bool
	write   []byte
	dirty   bool
	deleted bool
}

func (t *txn) Get(ctx context.Context) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return t.data, t.found, nil
}

func (t *txn) Put(data []byte) { t.write, t.dirty, t.deleted = data, true, false }
func (t *txn) Delete()         { t.write, t.dirty, t.deleted = nil, true, true }
