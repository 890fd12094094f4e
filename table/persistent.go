package table

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.seqlite.dev/core/codecs"
	"go.seqlite.dev/core/metrics"
	"go.seqlite.dev/core/sqlite"
)

// OnError selects how PersistentTable surfaces write statement failures.
type OnError int

const (
	// Propagate awaits each write statement and returns its error.
	Propagate OnError = iota
	// LogAndDrop queues write statements without awaiting them: a failure
	// is logged and counted, never returned. Reads still observe queued
	// writes, as the Manager orders them behind the writes. Statements
	// which must return rows, such as bulk deletes, always propagate.
	LogAndDrop
)

// String returns the flag form of the OnError.
func (o OnError) String() string {
	if o == LogAndDrop {
		return "log-and-drop"
	}
	return "propagate"
}

// MarshalFlag maps the OnError onto its flag form.
func (o OnError) MarshalFlag() (string, error) { return o.String(), nil }

// UnmarshalFlag maps "propagate" or "log-and-drop" onto the OnError.
func (o *OnError) UnmarshalFlag(value string) error {
	switch value {
	case "propagate":
		*o = Propagate
	case "log-and-drop":
		*o = LogAndDrop
	default:
		return errors.Errorf("unknown write failure policy %q", value)
	}
	return nil
}

// Options configure a PersistentTable.
type Options struct {
	// Mirror maintains a MemoryTable copy of the table alongside the
	// database. Writes apply to both, and reads are served from memory
	// once Refresh has loaded it. Pair Mirror with a Connector having
	// DetectTypes set and codecs covering the table's declared types, so
	// that identities of records read back align with those inserted.
	Mirror bool `long:"mirror" env:"MIRROR" description:"Maintain an in-memory mirror which serves reads once refreshed"`
	// OnError selects the write failure policy.
	OnError OnError `long:"on-error" env:"ON_ERROR" default:"propagate" description:"Write statement failure policy (propagate or log-and-drop)"`
	// Generators resolves column value generators. DefaultGenerators() is
	// used if nil.
	Generators *Generators `no-flag:"t"`
}

// PersistentTable is a Table backed by a database table, routing all of
// its statements through a sqlite.Manager.
type PersistentTable struct {
	name    string
	shape   *Shape
	gens    *Generators
	manager *sqlite.Manager
	onError OnError

	mirror *MemoryTable
	warmed atomic.Bool

	columnsSQL      string
	selectSQL       string
	insertSQL       string
	insertIgnoreSQL string
}

// NewPersistentTable returns a PersistentTable named |name| over
// |columns|, backed by |manager|'s database. The database table itself is
// not touched; use Exists and Create to establish it.
func NewPersistentTable(name string, manager *sqlite.Manager, opts Options, columns ...Column) (*PersistentTable, error) {
	if !identifierRE.MatchString(name) {
		return nil, errors.Errorf("invalid table name %q", name)
	}
	var shape, err = NewShape(columns...)
	if err != nil {
		return nil, err
	}
	var gens = opts.Generators
	if gens == nil {
		gens = DefaultGenerators()
	}
	var p = &PersistentTable{
		name:    name,
		shape:   shape,
		gens:    gens,
		manager: manager,
		onError: opts.OnError,
	}
	if opts.Mirror {
		if p.mirror, err = NewMemoryTable(name, gens, columns...); err != nil {
			return nil, err
		}
	}

	var quoted = make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = `"` + c.Name + `"`
	}
	var marks = strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	p.columnsSQL = strings.Join(quoted, ", ")
	p.selectSQL = `SELECT ` + p.columnsSQL + ` FROM "` + name + `"`
	p.insertSQL = `INSERT OR REPLACE INTO "` + name + `" VALUES (` + marks + `)`
	p.insertIgnoreSQL = `INSERT OR IGNORE INTO "` + name + `" VALUES (` + marks + `)`

	return p, nil
}

// Name returns the table name.
func (p *PersistentTable) Name() string { return p.name }

// Shape returns the table's column layout.
func (p *PersistentTable) Shape() *Shape { return p.shape }

// Manager returns the Manager the table routes statements through.
func (p *PersistentTable) Manager() *sqlite.Manager { return p.manager }

// Database returns the path of the backing database.
func (p *PersistentTable) Database() string { return p.manager.Database() }

// Mirror returns the table's MemoryTable mirror, or nil if Options.Mirror
// was not set.
func (p *PersistentTable) Mirror() *MemoryTable { return p.mirror }

// Start acquires a reference on the table's Manager, starting it if it
// wasn't already running.
func (p *PersistentTable) Start(ctx context.Context) error { return p.manager.Start(ctx) }

// Stop releases the reference taken by Start.
func (p *PersistentTable) Stop() error { return p.manager.Stop() }

// MakeRecord builds a Record from |values| without storing it.
func (p *PersistentTable) MakeRecord(ctx context.Context, values map[string]interface{}) (Record, error) {
	return buildRecord(ctx, p.shape, p.gens, values)
}

// Len returns the number of records.
func (p *PersistentTable) Len(ctx context.Context) (int, error) {
	if p.mirrorWarm() {
		return p.mirror.Len(ctx)
	}
	var row, err = fetchFirstRow(ctx, p.manager, `SELECT COUNT(*) FROM "`+p.name+`"`)
	if err != nil {
		return 0, err
	}
	if n, ok := row[0].(int64); ok {
		return int(n), nil
	}
	return 0, errors.Errorf("unexpected COUNT(*) result %#v", row[0])
}

// Contains returns whether a record with |record|'s identity exists.
func (p *PersistentTable) Contains(ctx context.Context, record Record) (bool, error) {
	if p.mirrorWarm() {
		return p.mirror.Contains(ctx, record)
	}
	var where, args, err = p.whereRecord(record)
	if err != nil {
		return false, err
	}
	var row, fetchErr = fetchFirstRow(ctx, p.manager,
		`SELECT 1 FROM "`+p.name+`"`+where+` LIMIT 1`, args...)
	return row != nil, fetchErr
}

// Insert builds a Record from |values| and stores it. A stored record of
// the same identity is replaced, or kept if |ignoreExisting|. The built
// Record is returned in either case, whether or not it was kept.
func (p *PersistentTable) Insert(ctx context.Context, ignoreExisting bool, values map[string]interface{}) (Record, error) {
	var record, err = buildRecord(ctx, p.shape, p.gens, values)
	if err != nil {
		return Record{}, err
	}
	args, err := p.dumpRecord(record)
	if err != nil {
		return Record{}, err
	}
	var query = p.insertSQL
	if ignoreExisting {
		query = p.insertIgnoreSQL
	}
	if err = p.write(ctx, "insert", query, args); err != nil {
		return Record{}, err
	}
	if p.mirror != nil {
		p.mirror.put(record, ignoreExisting)
	}
	metrics.TableRecordsTotal.WithLabelValues("insert").Inc()
	return record, nil
}

// InsertMany inserts a batch of records, returning those built. Under
// Propagate the batch executes as one Manager task.
func (p *PersistentTable) InsertMany(ctx context.Context, ignoreExisting bool, batches []map[string]interface{}) ([]Record, error) {
	var records = make([]Record, 0, len(batches))
	var rows = make([][]interface{}, 0, len(batches))

	for _, values := range batches {
		var record, err = buildRecord(ctx, p.shape, p.gens, values)
		if err != nil {
			return nil, err
		}
		args, err := p.dumpRecord(record)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
		rows = append(rows, args)
	}
	var query = p.insertSQL
	if ignoreExisting {
		query = p.insertIgnoreSQL
	}

	if p.onError == Propagate {
		if _, err := p.manager.ExecuteMany(ctx, query, rows); err != nil {
			return nil, err
		}
	} else {
		for _, args := range rows {
			if err := p.write(ctx, "insert", query, args); err != nil {
				return nil, err
			}
		}
	}
	for _, record := range records {
		if p.mirror != nil {
			p.mirror.put(record, ignoreExisting)
		}
		metrics.TableRecordsTotal.WithLabelValues("insert").Inc()
	}
	return records, nil
}

// Select returns an Iter over records matching |predicate|. It reads from
// the mirror when one is loaded, and from the database otherwise.
func (p *PersistentTable) Select(predicate Predicate) *Iter {
	if p.mirrorWarm() {
		return p.mirror.Select(predicate)
	}
	return p.storeSelect(predicate)
}

// storeSelect returns an Iter over database records matching |predicate|,
// bypassing the mirror.
func (p *PersistentTable) storeSelect(predicate Predicate) *Iter {
	var cur *sqlite.Cursor

	return &Iter{
		next: func(ctx context.Context) (Record, bool, error) {
			if cur == nil {
				var err error
				if cur, err = p.manager.Query(ctx, p.selectSQL); err != nil {
					return Record{}, false, err
				}
			}
			for {
				var row, ok, err = cur.Next(ctx)
				if err != nil || !ok {
					return Record{}, false, err
				}
				record, err := p.rowRecord(row)
				if err != nil {
					return Record{}, false, err
				}
				if ok, err = match(ctx, predicate, record); err != nil {
					return Record{}, false, err
				} else if ok {
					return record, true, nil
				}
			}
		},
		stop: func() error {
			if cur != nil {
				return cur.Close()
			}
			return nil
		},
	}
}

// Deleted removes records matching |predicate| as the Iter is consumed,
// yielding each removed record. A nil |predicate| issues a single bulk
// DELETE whose entire effect applies on first consumption.
func (p *PersistentTable) Deleted(predicate Predicate) *Iter {
	if predicate == nil {
		return p.bulkMutation("delete",
			`DELETE FROM "`+p.name+`" RETURNING `+p.columnsSQL, nil)
	}
	var inner = p.storeSelect(predicate)

	return &Iter{
		next: func(ctx context.Context) (Record, bool, error) {
			var record, ok, err = inner.Next(ctx)
			if err != nil || !ok {
				return Record{}, false, err
			}
			where, args, err := p.whereRecord(record)
			if err != nil {
				return Record{}, false, err
			}
			if err = p.write(ctx, "delete", `DELETE FROM "`+p.name+`"`+where, args); err != nil {
				return Record{}, false, err
			}
			if p.mirror != nil {
				p.mirror.drop(record)
			}
			metrics.TableRecordsTotal.WithLabelValues("delete").Inc()
			return record, true, nil
		},
		stop: inner.Close,
	}
}

// Updated replaces records matching |predicate| with copies carrying
// |fields| as the Iter is consumed, yielding each replacement record. A
// nil |predicate| issues a single bulk UPDATE whose entire effect applies
// on first consumption.
func (p *PersistentTable) Updated(predicate Predicate, fields map[string]interface{}) *Iter {
	if len(fields) == 0 {
		return errIter(errors.New("no fields to update"))
	}
	var names = make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var sets = make([]string, len(names))
	var setArgs = make([]interface{}, len(names))
	var touchesIdentity bool

	for i, name := range names {
		var idx, ok = p.shape.index[name]
		if !ok {
			return errIter(errors.Errorf("no column %q", name))
		}
		var v, err = p.dumpValue(p.shape.columns[idx], fields[name])
		if err != nil {
			return errIter(err)
		}
		sets[i] = `"` + name + `" = ?`
		setArgs[i] = v
		touchesIdentity = touchesIdentity || p.shape.identityColumn(idx)
	}
	var setSQL = strings.Join(sets, ", ")

	if predicate == nil {
		// Returned rows carry only post-update identities, so replaced
		// mirror entries cannot be mapped out. Cool the mirror until the
		// next Refresh.
		if touchesIdentity && p.mirror != nil {
			p.warmed.Store(false)
		}
		return p.bulkMutation("update",
			`UPDATE "`+p.name+`" SET `+setSQL+` RETURNING `+p.columnsSQL, setArgs)
	}
	var inner = p.storeSelect(predicate)

	return &Iter{
		next: func(ctx context.Context) (Record, bool, error) {
			var record, ok, err = inner.Next(ctx)
			if err != nil || !ok {
				return Record{}, false, err
			}
			updated, err := record.WithFields(fields)
			if err != nil {
				return Record{}, false, err
			}
			where, whereArgs, err := p.whereRecord(record)
			if err != nil {
				return Record{}, false, err
			}
			var args = append(append([]interface{}{}, setArgs...), whereArgs...)
			if err = p.write(ctx, "update", `UPDATE "`+p.name+`" SET `+setSQL+where, args); err != nil {
				return Record{}, false, err
			}
			if p.mirror != nil {
				p.mirror.replace(record, updated)
			}
			metrics.TableRecordsTotal.WithLabelValues("update").Inc()
			return updated, true, nil
		},
		stop: inner.Close,
	}
}

// bulkMutation runs a single RETURNING statement, yielding its rows as
// records and applying |op| to the mirror per record.
func (p *PersistentTable) bulkMutation(op, query string, args []interface{}) *Iter {
	var cur *sqlite.Cursor

	return &Iter{
		next: func(ctx context.Context) (Record, bool, error) {
			if cur == nil {
				var err error
				if cur, err = p.manager.Query(ctx, query, args...); err != nil {
					return Record{}, false, err
				}
			}
			var row, ok, err = cur.Next(ctx)
			if err != nil || !ok {
				return Record{}, false, err
			}
			record, err := p.rowRecord(row)
			if err != nil {
				return Record{}, false, err
			}
			if p.mirror != nil {
				if op == "delete" {
					p.mirror.drop(record)
				} else {
					p.mirror.put(record, false)
				}
			}
			metrics.TableRecordsTotal.WithLabelValues(op).Inc()
			return record, true, nil
		},
		stop: func() error {
			if cur != nil {
				return cur.Close()
			}
			return nil
		},
	}
}

// Exists returns whether the backing database table exists.
func (p *PersistentTable) Exists(ctx context.Context) (bool, error) {
	var row, err = fetchFirstRow(ctx, p.manager,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, p.name)
	if err != nil {
		return false, err
	}
	var n, _ = row[0].(int64)
	return n != 0, nil
}

// Create establishes the backing database table from the Shape's columns.
func (p *PersistentTable) Create(ctx context.Context, ifNotExists bool) error {
	var ddls = make([]string, len(p.shape.columns))
	for i, c := range p.shape.columns {
		ddls[i] = c.DDL()
	}
	var clause string
	if ifNotExists {
		clause = "IF NOT EXISTS "
	}
	var _, err = p.manager.Execute(ctx,
		`CREATE TABLE `+clause+`"`+p.name+`" (`+strings.Join(ddls, ", ")+`)`)
	return errors.WithMessagef(err, "creating table %q", p.name)
}

// Drop removes the backing database table and clears the mirror.
func (p *PersistentTable) Drop(ctx context.Context, ifExists bool) error {
	var clause string
	if ifExists {
		clause = "IF EXISTS "
	}
	var _, err = p.manager.Execute(ctx, `DROP TABLE `+clause+`"`+p.name+`"`)
	if err == nil && p.mirror != nil {
		p.warmed.Store(false)
		p.mirror.clear()
	}
	return errors.WithMessagef(err, "dropping table %q", p.name)
}

// Refresh loads the mirror from the database, after which reads are
// served from memory. It is a no-op for a table without a mirror.
func (p *PersistentTable) Refresh(ctx context.Context) error {
	if p.mirror == nil {
		return nil
	}
	p.warmed.Store(false)
	p.mirror.clear()

	var it = p.storeSelect(nil)
	defer it.Close()

	for {
		var record, ok, err = it.Next(ctx)
		if err != nil {
			return errors.WithMessagef(err, "refreshing mirror of table %q", p.name)
		} else if !ok {
			p.warmed.Store(true)
			return nil
		}
		p.mirror.put(record, false)
	}
}

func (p *PersistentTable) mirrorWarm() bool {
	return p.mirror != nil && p.warmed.Load()
}

// write issues a mutation statement per the table's OnError policy.
func (p *PersistentTable) write(ctx context.Context, op, query string, args []interface{}) error {
	if p.onError == Propagate {
		var _, err = p.manager.Execute(ctx, query, args...)
		return err
	}
	var fut = p.manager.ExecuteAsync(query, args...)
	go func() {
		if err := fut.Err(); err != nil {
			metrics.TableDeferredDroppedTotal.Inc()
			log.WithFields(log.Fields{
				"err":   err,
				"op":    op,
				"table": p.name,
			}).Warn("dropped failed deferred table write")
		}
	}()
	return nil
}

// rowRecord builds a Record from a fetched row. Byte slices of columns
// with TEXT affinity map back to string, as the driver fetches TEXT
// columns as bytes.
func (p *PersistentTable) rowRecord(row sqlite.Row) (Record, error) {
	for i, v := range row {
		if b, ok := v.([]byte); ok && i < len(p.shape.columns) && textAffinity(p.shape.columns[i].Type) {
			row[i] = string(b)
		}
	}
	return fromRow(p.shape, row)
}

// textAffinity applies SQLite's affinity rule: a declared type containing
// CHAR, CLOB, or TEXT stores text.
func textAffinity(decl string) bool {
	var u = strings.ToUpper(decl)
	return strings.Contains(u, "CHAR") || strings.Contains(u, "CLOB") ||
		strings.Contains(u, "TEXT")
}

// dumpRecord converts the record's values to stored forms through the
// Manager's codecs, keyed by declared column type.
func (p *PersistentTable) dumpRecord(r Record) ([]interface{}, error) {
	var out = make([]interface{}, len(r.values))
	for i, c := range p.shape.columns {
		var v, err = p.dumpValue(c, r.values[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// dumpValue converts one value through the codec of the column's declared
// type, when one is registered.
func (p *PersistentTable) dumpValue(c Column, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	var reg = p.manager.Codecs()
	if reg == nil {
		return v, nil
	}
	var codec, ok = reg.Lookup(c.Type)
	if !ok {
		return v, nil
	}
	var out, err = codec.Dump(v)
	return out, errors.WithMessagef(err, "encoding column %q", c.Name)
}

// whereRecord derives the WHERE clause identifying |r| within its table:
// the first declared nonrepeating column when one exists; otherwise a
// conjunction over the record's non-null columns if any value is null;
// otherwise a conjunction over all columns.
func (p *PersistentTable) whereRecord(r Record) (string, []interface{}, error) {
	var idx []int

	if p.shape.declared {
		idx = p.shape.identity[:1]
	} else if hasNull(r) {
		for i := range p.shape.columns {
			if r.values[i] != nil {
				idx = append(idx, i)
			}
		}
	} else {
		for i := range p.shape.columns {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return "", nil, errors.New("record has no non-null values to identify it")
	}

	var terms = make([]string, len(idx))
	var args = make([]interface{}, len(idx))

	for n, i := range idx {
		var c = p.shape.columns[i]
		var v, err = p.dumpValue(c, r.values[i])
		if err != nil {
			return "", nil, err
		}
		terms[n] = `"` + c.Name + `" = ?`
		args[n] = v
	}
	return " WHERE " + strings.Join(terms, " AND "), args, nil
}

func hasNull(r Record) bool {
	for _, v := range r.values {
		if v == nil {
			return true
		}
	}
	return false
}

// identityColumn returns whether column position |i| is part of identity.
func (s *Shape) identityColumn(i int) bool {
	for _, idx := range s.identity {
		if idx == i {
			return true
		}
	}
	return false
}

// fetchFirstRow returns the first row of |query|, closing its cursor. A
// nil row means the query returned none.
func fetchFirstRow(ctx context.Context, m *sqlite.Manager, query string, args ...interface{}) (sqlite.Row, error) {
	var cur, err = m.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var row, fetchErr = cur.FetchOne(ctx)
	if closeErr := cur.Close(); fetchErr == nil {
		fetchErr = closeErr
	}
	return row, fetchErr
}

var createTableRE = regexp.MustCompile(
	`(?is)^\s*CREATE\s+TABLE\s+.*?\((.*)\)[^()]*$`)

// FromDatabase reconstructs a PersistentTable definition from the existing
// database table |name|. Column constraints parse from the stored CREATE
// TABLE statement, defaults decode through the Manager's codecs by
// declared type, and defaults bearing the generator sentinel re-bind to
// their named generators.
func FromDatabase(ctx context.Context, name string, manager *sqlite.Manager, opts Options) (*PersistentTable, error) {
	var row, err = fetchFirstRow(ctx, manager,
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return nil, err
	} else if row == nil {
		return nil, errors.Errorf("no table %q in %s", name, manager.Database())
	}
	var ddl, ok = asString(row[0])
	if !ok {
		return nil, errors.Errorf("unexpected schema of table %q: %#v", name, row[0])
	}
	var body = createTableRE.FindStringSubmatch(ddl)
	if body == nil {
		return nil, errors.Errorf("unsupported declaration of table %q: %s", name, ddl)
	}
	var decls = splitColumnDDLs(body[1])

	cur, err := manager.Query(ctx,
		`SELECT name, type, dflt_value FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, err
	}
	info, err := cur.FetchAll(ctx)
	if closeErr := cur.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	if len(info) != len(decls) {
		return nil, errors.Errorf("parsed %d declarations of table %q's %d columns",
			len(decls), name, len(info))
	}

	var columns = make([]Column, len(decls))
	for i, decl := range decls {
		var c, err = parseColumnDDL(decl)
		if err != nil {
			return nil, errors.WithMessagef(err, "parsing schema of table %q", name)
		}
		if n, ok := asString(info[i][0]); ok && !strings.EqualFold(n, c.Name) {
			return nil, errors.Errorf("column %q does not match declaration %q", n, decl)
		}
		bindDefault(&c, info[i][2], manager.Codecs())
		columns[i] = c
	}
	return NewPersistentTable(name, manager, opts, columns...)
}

// bindDefault resolves the pragma-reported default |raw| into |c|. A
// quoted literal bearing the generator sentinel binds the named generator.
// Other literals decode through |reg| by the column's declared type, then
// as numbers when unquoted, and remain text otherwise.
func bindDefault(c *Column, raw interface{}, reg *codecs.Registry) {
	var text, ok = asString(raw)
	if !ok {
		c.Default = raw
		return
	}
	var inner, quoted = unquoteLiteral(text)

	if quoted && strings.HasPrefix(inner, GeneratedPrefix) {
		c.Generator = strings.TrimPrefix(inner, GeneratedPrefix)
		return
	}
	if reg != nil {
		if codec, ok := reg.Lookup(c.Type); ok {
			if v, err := codec.Load(inner); err == nil {
				c.Default = v
				return
			}
		}
	}
	if !quoted {
		if i, err := strconv.ParseInt(inner, 10, 64); err == nil {
			c.Default = i
			return
		}
		if f, err := strconv.ParseFloat(inner, 64); err == nil {
			c.Default = f
			return
		}
	}
	c.Default = inner
}

// unquoteLiteral strips one level of SQL quoting from |s|, reporting
// whether it was quoted.
func unquoteLiteral(s string) (string, bool) {
	if len(s) >= 2 {
		var q = s[0]
		if (q == '\'' || q == '"' || q == '`') && s[len(s)-1] == q {
			var inner = s[1 : len(s)-1]
			if q == '\'' {
				inner = strings.ReplaceAll(inner, "''", "'")
			}
			return inner, true
		}
	}
	return s, false
}

// asString accepts the TEXT representations a driver may produce.
func asString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	}
	return "", false
}
