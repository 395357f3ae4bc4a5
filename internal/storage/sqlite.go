package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"gravityyaml/internal/model"
	"gravityyaml/migrations"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type linkTable struct {
	table        string
	memberColumn string
}

var (
	adlistLinks = linkTable{table: "adlist_by_group", memberColumn: "adlist_id"}
	domainLinks = linkTable{table: "domainlist_by_group", memberColumn: "domainlist_id"}
	clientLinks = linkTable{table: "client_by_group", memberColumn: "client_id"}
)

// SQLite implements Storage on a Pi-hole gravity.db file.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens the existing gravity database at path. It never creates a
// database: a missing file is reported as store_unavailable.
func Open(path string, log *slog.Logger) (*SQLite, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, unavailable(path, err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, unavailable(path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, unavailable(path, err)
	}
	return New(db, log), nil
}

// Create makes a new gravity database at path with the Pi-hole schema and
// its default group. path must not exist yet.
func Create(path string, log *slog.Logger) (*SQLite, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, unavailable(path, fmt.Errorf("database already exists"))
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, unavailable(path, err)
	}
	if err := migrations.Run(db, log); err != nil {
		_ = db.Close()
		return nil, unavailable(path, err)
	}
	return New(db, log), nil
}

// New wraps an already opened database and limits it to one connection,
// which also keeps an in-memory database alive for the life of the pool.
func New(db *sql.DB, log *slog.Logger) *SQLite {
	if log == nil {
		log = slog.Default()
	}
	db.SetMaxOpenConns(1)
	return &SQLite{db: db, log: log}
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Load checks the schema and reads every managed table into a model.
func (s *SQLite) Load(ctx context.Context) (*model.Model, error) {
	if err := s.checkSchema(ctx, "storage.load"); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.Error{Op: "storage.load", Kind: model.KindStoreUnavailable, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer func() { _ = tx.Rollback() }()

	m, err := readModel(ctx, tx)
	if err != nil {
		return nil, err
	}

	if !m.HasGroup(model.DefaultGroupID) {
		return nil, &model.Error{
			Op:       "storage.load",
			Kind:     model.KindSchemaMismatch,
			Problems: []string{fmt.Sprintf("default group (id %d) is missing", model.DefaultGroupID)},
		}
	}
	for _, v := range model.ValidateComplete(m) {
		s.log.Warn("stored entry violates an invariant", "path", v.Path, "problem", v.Message)
	}

	s.log.Debug("loaded gravity",
		"groups", len(m.Groups), "adlists", len(m.Adlists),
		"domains", len(m.Domains), "clients", len(m.Clients))
	return m, nil
}

// Reconcile validates m and then, in one transaction, deletes, updates and
// inserts rows until the store matches it. Nothing is written when
// validation fails, and any failed write rolls the whole transaction back.
// The default group is never deleted; when m omits it, the default group and
// its memberships are left as they are.
func (s *SQLite) Reconcile(ctx context.Context, m *model.Model, opts ReconcileOptions) (*ReconcileReport, error) {
	const op = "storage.reconcile"

	if err := model.ViolationsError(op, model.Validate(m)); err != nil {
		return nil, err
	}
	if err := s.checkSchema(ctx, op); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &model.Error{Op: op, Kind: model.KindStoreUnavailable, Err: fmt.Errorf("begin tx: %w", err)}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	report, err := s.apply(ctx, tx, m)
	if err != nil {
		var e *model.Error
		if errors.As(err, &e) {
			return nil, err
		}
		return nil, &model.Error{Op: op, Kind: model.KindIntegrityViolation, Err: err}
	}
	report.DryRun = opts.DryRun

	if opts.DryRun {
		s.log.Debug("dry run, rolling back")
		return report, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, &model.Error{Op: op, Kind: model.KindPartialWriteRefused, Err: fmt.Errorf("commit: %w", err)}
	}
	committed = true
	return report, nil
}

func (s *SQLite) checkSchema(ctx context.Context, op string) error {
	problems, err := checkSchema(ctx, s.db)
	if err != nil {
		return &model.Error{Op: op, Kind: model.KindStoreUnavailable, Err: err}
	}
	if len(problems) > 0 {
		return &model.Error{Op: op, Kind: model.KindSchemaMismatch, Problems: problems}
	}
	return nil
}

// apply runs the entity phase and then the membership phase. Memberships are
// diffed after the entity writes because Pi-hole's insert triggers add new
// entries to the default group.
func (s *SQLite) apply(ctx context.Context, tx *sql.Tx, desired *model.Model) (*ReconcileReport, error) {
	current, err := readModel(ctx, tx)
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{}

	groups := diffGroups(current.Groups, desired.Groups)
	adlists := diffEntities(current.Adlists, desired.Adlists, func(a model.Adlist) int64 { return a.ID })
	domains := diffEntities(current.Domains, desired.Domains, func(d model.Domain) int64 { return d.ID })
	clients := diffEntities(current.Clients, desired.Clients, func(c model.Client) int64 { return c.ID })

	// Deletes first so that freed names and addresses can be reused by updates and inserts.
	for _, id := range groups.Delete {
		for _, lt := range []linkTable{adlistLinks, domainLinks, clientLinks} {
			if err := s.exec(ctx, tx, `DELETE FROM `+lt.table+` WHERE group_id = ?`, id); err != nil {
				return nil, err
			}
		}
		if err := s.exec(ctx, tx, `DELETE FROM "group" WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}
	if err := s.deleteMembers(ctx, tx, "adlist", adlistLinks, adlists.Delete); err != nil {
		return nil, err
	}
	if err := s.deleteMembers(ctx, tx, "domainlist", domainLinks, domains.Delete); err != nil {
		return nil, err
	}
	if err := s.deleteMembers(ctx, tx, "client", clientLinks, clients.Delete); err != nil {
		return nil, err
	}

	// Unique values may move between rows in one reconcile. Rows whose key
	// changes are parked on a placeholder first so no update hits a value
	// another row still holds.
	parks := []struct {
		table, column string
		ids           []int64
	}{
		{`"group"`, "name", movedKeys(current.Groups, groups.Update,
			func(g model.Group) int64 { return g.ID }, func(g model.Group) string { return g.Name })},
		{"adlist", "address", movedKeys(current.Adlists, adlists.Update,
			func(a model.Adlist) int64 { return a.ID }, func(a model.Adlist) string { return a.URL })},
		{"domainlist", "domain", movedKeys(current.Domains, domains.Update,
			func(d model.Domain) int64 { return d.ID }, func(d model.Domain) string { return string(d.Type) + "\x00" + d.Pattern })},
		{"client", "ip", movedKeys(current.Clients, clients.Update,
			func(c model.Client) int64 { return c.ID }, func(c model.Client) string { return c.Address })},
	}
	for _, p := range parks {
		for _, id := range p.ids {
			if err := s.exec(ctx, tx, `UPDATE `+p.table+` SET `+p.column+` = ? WHERE id = ?`, parked(id), id); err != nil {
				return nil, err
			}
		}
	}

	for _, g := range groups.Update {
		r := model.GroupToRow(g)
		if err := s.exec(ctx, tx, `UPDATE "group" SET enabled = ?, name = ?, description = ? WHERE id = ?`,
			r.Enabled, r.Name, r.Description, r.ID); err != nil {
			return nil, err
		}
	}
	for _, a := range adlists.Update {
		r := model.AdlistToRow(a)
		if err := s.exec(ctx, tx, `UPDATE adlist SET address = ?, enabled = ?, comment = ? WHERE id = ?`,
			r.Address, r.Enabled, r.Comment, r.ID); err != nil {
			return nil, err
		}
	}
	for _, d := range domains.Update {
		r, err := model.DomainToRow(d)
		if err != nil {
			return nil, err
		}
		if err := s.exec(ctx, tx, `UPDATE domainlist SET type = ?, domain = ?, enabled = ?, comment = ? WHERE id = ?`,
			r.Type, r.Domain, r.Enabled, r.Comment, r.ID); err != nil {
			return nil, err
		}
	}
	for _, c := range clients.Update {
		r := model.ClientToRow(c)
		if err := s.exec(ctx, tx, `UPDATE client SET ip = ?, comment = ? WHERE id = ?`,
			r.IP, r.Comment, r.ID); err != nil {
			return nil, err
		}
	}

	for _, g := range groups.Insert {
		r := model.GroupToRow(g)
		if err := s.exec(ctx, tx, `INSERT INTO "group" (id, enabled, name, description) VALUES (?, ?, ?, ?)`,
			r.ID, r.Enabled, r.Name, r.Description); err != nil {
			return nil, err
		}
	}
	for _, a := range adlists.Insert {
		r := model.AdlistToRow(a)
		if err := s.exec(ctx, tx, `INSERT INTO adlist (id, address, enabled, comment) VALUES (?, ?, ?, ?)`,
			r.ID, r.Address, r.Enabled, r.Comment); err != nil {
			return nil, err
		}
	}
	for _, d := range domains.Insert {
		r, err := model.DomainToRow(d)
		if err != nil {
			return nil, err
		}
		if err := s.exec(ctx, tx, `INSERT INTO domainlist (id, type, domain, enabled, comment) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.Type, r.Domain, r.Enabled, r.Comment); err != nil {
			return nil, err
		}
	}
	for _, c := range clients.Insert {
		r := model.ClientToRow(c)
		if err := s.exec(ctx, tx, `INSERT INTO client (id, ip, comment) VALUES (?, ?, ?)`,
			r.ID, r.IP, r.Comment); err != nil {
			return nil, err
		}
	}

	report.add(TableChanges{Table: "group", Inserted: len(groups.Insert), Updated: len(groups.Update), Deleted: len(groups.Delete)})
	report.add(TableChanges{Table: "adlist", Inserted: len(adlists.Insert), Updated: len(adlists.Update), Deleted: len(adlists.Delete)})
	report.add(TableChanges{Table: "domainlist", Inserted: len(domains.Insert), Updated: len(domains.Update), Deleted: len(domains.Delete)})
	report.add(TableChanges{Table: "client", Inserted: len(clients.Insert), Updated: len(clients.Update), Deleted: len(clients.Delete)})

	keepDefault := !desired.HasGroup(model.DefaultGroupID)
	links := []struct {
		lt      linkTable
		desired []model.Membership
	}{
		{adlistLinks, desired.AdlistGroups},
		{domainLinks, desired.DomainGroups},
		{clientLinks, desired.ClientGroups},
	}
	for _, l := range links {
		rows, err := readLinks(ctx, tx, l.lt)
		if err != nil {
			return nil, err
		}
		plan := diffMemberships(model.MembershipsFromRows(rows), l.desired, keepDefault)
		for _, d := range plan.Delete {
			if err := s.exec(ctx, tx, `DELETE FROM `+l.lt.table+` WHERE `+l.lt.memberColumn+` = ? AND group_id = ?`,
				d.MemberID, d.GroupID); err != nil {
				return nil, err
			}
		}
		for _, r := range model.MembershipsToRows(plan.Insert) {
			if err := s.exec(ctx, tx, `INSERT INTO `+l.lt.table+` (`+l.lt.memberColumn+`, group_id) VALUES (?, ?)`,
				r.MemberID, r.GroupID); err != nil {
				return nil, err
			}
		}
		report.add(TableChanges{Table: l.lt.table, Inserted: len(plan.Insert), Deleted: len(plan.Delete)})
	}

	return report, nil
}

func (s *SQLite) deleteMembers(ctx context.Context, tx *sql.Tx, table string, lt linkTable, ids []int64) error {
	for _, id := range ids {
		if err := s.exec(ctx, tx, `DELETE FROM `+lt.table+` WHERE `+lt.memberColumn+` = ?`, id); err != nil {
			return err
		}
		if err := s.exec(ctx, tx, `DELETE FROM `+table+` WHERE id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) exec(ctx context.Context, q querier, query string, args ...any) error {
	s.log.Debug("exec", "query", query, "args", args)
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", query, err)
	}
	return nil
}

func readModel(ctx context.Context, q querier) (*model.Model, error) {
	var (
		rows model.Rows
		err  error
	)
	if rows.Groups, err = readGroups(ctx, q); err != nil {
		return nil, err
	}
	if rows.Adlists, err = readAdlists(ctx, q); err != nil {
		return nil, err
	}
	if rows.Domains, err = readDomains(ctx, q); err != nil {
		return nil, err
	}
	if rows.Clients, err = readClients(ctx, q); err != nil {
		return nil, err
	}
	if rows.AdlistGroups, err = readLinks(ctx, q, adlistLinks); err != nil {
		return nil, err
	}
	if rows.DomainGroups, err = readLinks(ctx, q, domainLinks); err != nil {
		return nil, err
	}
	if rows.ClientGroups, err = readLinks(ctx, q, clientLinks); err != nil {
		return nil, err
	}

	m, err := model.FromRows(rows)
	if err != nil {
		return nil, &model.Error{Op: "storage.read", Kind: model.KindSchemaMismatch, Err: err}
	}
	return m, nil
}

type scannable interface {
	Scan(dest ...any) error
}

// queryRows runs query and scans every row with scan.
func queryRows[T any](ctx context.Context, q querier, query string, scan func(scannable) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, readError(fmt.Errorf("query: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, readError(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, readError(err)
	}
	return out, nil
}

func readGroups(ctx context.Context, q querier) ([]model.GroupRow, error) {
	return queryRows(ctx, q, `SELECT id, enabled, name, description FROM "group" ORDER BY id`,
		func(row scannable) (model.GroupRow, error) {
			var r model.GroupRow
			if err := row.Scan(&r.ID, &r.Enabled, &r.Name, &r.Description); err != nil {
				return r, fmt.Errorf("scan group: %w", err)
			}
			return r, nil
		})
}

func readAdlists(ctx context.Context, q querier) ([]model.AdlistRow, error) {
	return queryRows(ctx, q, `SELECT id, address, enabled, comment FROM adlist ORDER BY id`,
		func(row scannable) (model.AdlistRow, error) {
			var r model.AdlistRow
			if err := row.Scan(&r.ID, &r.Address, &r.Enabled, &r.Comment); err != nil {
				return r, fmt.Errorf("scan adlist: %w", err)
			}
			return r, nil
		})
}

func readDomains(ctx context.Context, q querier) ([]model.DomainRow, error) {
	return queryRows(ctx, q, `SELECT id, type, domain, enabled, comment FROM domainlist ORDER BY id`,
		func(row scannable) (model.DomainRow, error) {
			var r model.DomainRow
			if err := row.Scan(&r.ID, &r.Type, &r.Domain, &r.Enabled, &r.Comment); err != nil {
				return r, fmt.Errorf("scan domain: %w", err)
			}
			return r, nil
		})
}

func readClients(ctx context.Context, q querier) ([]model.ClientRow, error) {
	return queryRows(ctx, q, `SELECT id, ip, comment FROM client ORDER BY id`,
		func(row scannable) (model.ClientRow, error) {
			var r model.ClientRow
			if err := row.Scan(&r.ID, &r.IP, &r.Comment); err != nil {
				return r, fmt.Errorf("scan client: %w", err)
			}
			return r, nil
		})
}

func readLinks(ctx context.Context, q querier, lt linkTable) ([]model.MembershipRow, error) {
	query := `SELECT ` + lt.memberColumn + `, group_id FROM ` + lt.table + ` ORDER BY group_id, ` + lt.memberColumn
	return queryRows(ctx, q, query, func(row scannable) (model.MembershipRow, error) {
		var r model.MembershipRow
		if err := row.Scan(&r.MemberID, &r.GroupID); err != nil {
			return r, fmt.Errorf("scan %s: %w", lt.table, err)
		}
		return r, nil
	})
}

// parked is the value a unique column holds while its real value moves.
func parked(id int64) string {
	return fmt.Sprintf("\x00parked-%d", id)
}

func readError(err error) error {
	return &model.Error{Op: "storage.read", Kind: model.KindStoreUnavailable, Err: err}
}

func unavailable(path string, err error) error {
	return &model.Error{Op: "storage.open", Kind: model.KindStoreUnavailable, Path: path, Err: err}
}

// dsn enables foreign keys and a busy timeout on every pooled connection,
// since pihole-FTL may hold the database at the same time.
func dsn(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
