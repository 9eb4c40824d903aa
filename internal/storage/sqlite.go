package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"ghfeed/internal/filter"
	"ghfeed/internal/model"
	"ghfeed/migrations"
)

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sqlx.DB
}

var _ Storage = (*SQLite)(nil)

// Open opens a SQLite database at dsn without running migrations.
//
// The pool is limited to one connection: SQLite serializes writers, and an
// in-memory database exists only within a single connection.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}
	return db, nil
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	if err := migrations.Run(db.DB); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type accountRow struct {
	Login           string         `db:"login"`
	ExternalID      sql.NullString `db:"external_id"`
	LastRefreshedAt sql.NullInt64  `db:"last_refreshed_at"`
	CreatedAt       int64          `db:"created_at"`
}

func (r accountRow) toModel() model.Account {
	return model.Account{
		Login:           r.Login,
		ExternalID:      r.ExternalID.String,
		LastRefreshedAt: nullMillis(r.LastRefreshedAt),
		CreatedAt:       fromMillis(r.CreatedAt),
	}
}

func toAccounts(rows []accountRow) []model.Account {
	out := make([]model.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

// EnsureAccount returns the account for login, creating it if needed.
func (s *SQLite) EnsureAccount(ctx context.Context, login string) (*model.Account, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (login, created_at) VALUES (?, ?) ON CONFLICT(login) DO NOTHING`,
		login, millis(time.Now()),
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccount(ctx, login)
}

// GetAccount returns the account for login.
func (s *SQLite) GetAccount(ctx context.Context, login string) (*model.Account, error) {
	var row accountRow
	err := s.db.GetContext(ctx, &row,
		`SELECT login, external_id, last_refreshed_at, created_at FROM accounts WHERE login = ?`, login)
	if err != nil {
		return nil, wrapNotFound("get account "+login, err)
	}
	a := row.toModel()
	return &a, nil
}

// ListStaleAccounts returns up to limit followed accounts, least recently
// refreshed first. Never-refreshed accounts come first.
func (s *SQLite) ListStaleAccounts(ctx context.Context, limit int) ([]model.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT login, external_id, last_refreshed_at, created_at
		 FROM accounts
		 WHERE login IN (SELECT account_login FROM subscriptions)
		 ORDER BY last_refreshed_at IS NOT NULL, last_refreshed_at, login
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale accounts: %w", err)
	}
	return toAccounts(rows), nil
}

// UpdateAccountRefreshMeta records a successful refresh. An empty
// ExternalID keeps the stored one.
func (s *SQLite) UpdateAccountRefreshMeta(ctx context.Context, login string, meta model.RefreshMeta) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts
		 SET last_refreshed_at = ?, external_id = COALESCE(?, external_id)
		 WHERE login = ?`,
		millis(meta.LastRefreshedAt), nullString(meta.ExternalID), login,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", login, err)
	}
	return requireAffected(res, "update account "+login)
}

// ResetRefreshMeta clears last_refreshed_at for the given accounts.
func (s *SQLite) ResetRefreshMeta(ctx context.Context, logins []string) error {
	if len(logins) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`UPDATE accounts SET last_refreshed_at = NULL WHERE login IN (?)`, logins)
	if err != nil {
		return fmt.Errorf("build reset query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("reset refresh meta: %w", err)
	}
	return nil
}

type activityRow struct {
	AccountLogin string         `db:"account_login"`
	ID           string         `db:"id"`
	Title        string         `db:"title"`
	Link         sql.NullString `db:"link"`
	Repo         sql.NullString `db:"repo"`
	Type         string         `db:"type"`
	Summary      sql.NullString `db:"summary"`
	Content      sql.NullString `db:"content"`
	PublishedAt  int64          `db:"published_at"`
	CreatedAt    int64          `db:"created_at"`
}

func (r activityRow) toModel() model.ActivityItem {
	return model.ActivityItem{
		ID:           r.ID,
		AccountLogin: r.AccountLogin,
		Title:        r.Title,
		Link:         r.Link.String,
		Repo:         r.Repo.String,
		Type:         r.Type,
		Summary:      r.Summary.String,
		Content:      r.Content.String,
		PublishedAt:  fromMillis(r.PublishedAt),
		CreatedAt:    fromMillis(r.CreatedAt),
	}
}

// UpsertActivities inserts items, ignoring ones already stored under the
// same (account, id). It returns the number of newly inserted rows.
func (s *SQLite) UpsertActivities(ctx context.Context, items []model.ActivityItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PreparexContext(ctx,
		`INSERT OR IGNORE INTO activities
		 (account_login, id, title, link, repo, type, summary, content, published_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := millis(time.Now())
	inserted := 0
	for _, it := range items {
		res, err := stmt.ExecContext(ctx,
			it.AccountLogin, it.ID, it.Title, nullString(it.Link), nullString(it.Repo), it.Type,
			nullString(it.Summary), nullString(it.Content), millis(it.PublishedAt), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert activity %s: %w", it.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit activities: %w", err)
	}
	return inserted, nil
}

// DeleteActivitiesByAccounts removes all stored activity of the given accounts.
func (s *SQLite) DeleteActivitiesByAccounts(ctx context.Context, logins []string) (int64, error) {
	if len(logins) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`DELETE FROM activities WHERE account_login IN (?)`, logins)
	if err != nil {
		return 0, fmt.Errorf("build delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("delete activities: %w", err)
	}
	return res.RowsAffected()
}

// whereActivities renders the WHERE clause shared by activity queries over
// the table aliased "a". Types and After are applied only when withType
// and withCursor are set.
func whereActivities(q ActivityQuery, withType, withCursor bool) (string, []any) {
	clauses := []string{"a.account_login IN (SELECT account_login FROM subscriptions WHERE viewer = ?)"}
	args := []any{q.Viewer}

	if len(q.Accounts) > 0 {
		clauses = append(clauses, "a.account_login IN (?)")
		args = append(args, q.Accounts)
	}
	if withType && len(q.Types) > 0 {
		clauses = append(clauses, "a.type IN (?)")
		args = append(args, q.Types)
	}
	if q.Where != nil {
		sqlText, whereArgs := q.Where.SQL("a")
		clauses = append(clauses, "("+sqlText+")")
		args = append(args, whereArgs...)
	}
	if withCursor && q.After != nil {
		ms := millis(q.After.PublishedAt)
		if q.After.TimeOnly {
			clauses = append(clauses, "a.published_at < ?")
			args = append(args, ms)
		} else {
			clauses = append(clauses,
				`(a.published_at < ? OR (a.published_at = ? AND
				  (a.account_login < ? OR (a.account_login = ? AND a.id < ?))))`)
			args = append(args, ms, ms, q.After.AccountLogin, q.After.AccountLogin, q.After.ID)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// QueryActivities returns visible items newest first, in the total order
// published_at DESC, account_login DESC, id DESC.
func (s *SQLite) QueryActivities(ctx context.Context, q ActivityQuery) ([]model.ActivityItem, error) {
	where, args := whereActivities(q, true, true)
	query := `SELECT a.account_login, a.id, a.title, a.link, a.repo, a.type, a.summary, a.content,
		a.published_at, a.created_at
		FROM activities a
		WHERE ` + where + `
		ORDER BY a.published_at DESC, a.account_login DESC, a.id DESC`
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build activity query: %w", err)
	}

	var rows []activityRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}

	items := make([]model.ActivityItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.toModel())
	}
	return items, nil
}

// CountActivityTypes counts visible items per type, most frequent first.
// The query's Types, After and Limit are ignored.
func (s *SQLite) CountActivityTypes(ctx context.Context, q ActivityQuery) ([]TypeCount, error) {
	where, args := whereActivities(q, false, false)
	query, args, err := sqlx.In(
		`SELECT a.type AS type, COUNT(*) AS count
		 FROM activities a
		 WHERE `+where+`
		 GROUP BY a.type
		 ORDER BY count DESC, a.type`, args...)
	if err != nil {
		return nil, fmt.Errorf("build type count query: %w", err)
	}

	counts := []TypeCount{}
	if err := s.db.SelectContext(ctx, &counts, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("count activity types: %w", err)
	}
	return counts, nil
}

// AccountStats returns per-account item counts and latest entry times for
// every account the viewer follows, counting only items matching where.
func (s *SQLite) AccountStats(ctx context.Context, viewer string, where filter.Expr) (map[string]AccountStat, error) {
	on := "a.account_login = s.account_login"
	var args []any
	if where != nil {
		sqlText, whereArgs := where.SQL("a")
		on += " AND (" + sqlText + ")"
		args = append(args, whereArgs...)
	}
	args = append(args, viewer)

	rows, err := s.db.QueryxContext(ctx,
		`SELECT s.account_login, COUNT(a.id), MAX(a.published_at)
		 FROM subscriptions s
		 LEFT JOIN activities a ON `+on+`
		 WHERE s.viewer = ?
		 GROUP BY s.account_login`, args...)
	if err != nil {
		return nil, fmt.Errorf("query account stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	stats := make(map[string]AccountStat)
	for rows.Next() {
		var st AccountStat
		var latest sql.NullInt64
		if err := rows.Scan(&st.Login, &st.ItemCount, &latest); err != nil {
			return nil, fmt.Errorf("scan account stats: %w", err)
		}
		st.LatestEntryAt = nullMillis(latest)
		stats[st.Login] = st
	}
	return stats, rows.Err()
}

// PruneActivities keeps the newest keep items of every account and
// deletes the rest.
func (s *SQLite) PruneActivities(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM activities WHERE rowid IN (
			SELECT rowid FROM (
				SELECT rowid, ROW_NUMBER() OVER (
					PARTITION BY account_login
					ORDER BY published_at DESC, id DESC
				) AS rn
				FROM activities
			) WHERE rn > ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune activities: %w", err)
	}
	return res.RowsAffected()
}

// CreateSubscription subscribes a viewer to an account. It returns
// ErrConflict if the subscription already exists.
func (s *SQLite) CreateSubscription(ctx context.Context, sub *model.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, viewer, account_login, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(viewer, account_login) DO NOTHING`,
		sub.ID, sub.Viewer, sub.AccountLogin, millis(now),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("subscription %s: %w", sub.AccountLogin, ErrConflict)
	}
	sub.CreatedAt = fromMillis(millis(now))
	return nil
}

// DeleteSubscription unsubscribes a viewer from an account.
func (s *SQLite) DeleteSubscription(ctx context.Context, viewer, login string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE viewer = ? AND account_login = ?`, viewer, login)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return requireAffected(res, "subscription "+login)
}

// IsSubscribed reports whether viewer follows login.
func (s *SQLite) IsSubscribed(ctx context.Context, viewer, login string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM subscriptions WHERE viewer = ? AND account_login = ?`, viewer, login)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return count > 0, nil
}

type subscriptionRow struct {
	ID              string         `db:"id"`
	Viewer          string         `db:"viewer"`
	AccountLogin    string         `db:"account_login"`
	CreatedAt       int64          `db:"created_at"`
	ExternalID      sql.NullString `db:"external_id"`
	LastRefreshedAt sql.NullInt64  `db:"last_refreshed_at"`
}

// ListSubscriptions returns the viewer's subscriptions joined with account
// metadata, newest first. Item statistics are left zero.
func (s *SQLite) ListSubscriptions(ctx context.Context, viewer string) ([]model.SubscriptionView, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT s.id, s.viewer, s.account_login, s.created_at, acc.external_id, acc.last_refreshed_at
		 FROM subscriptions s
		 LEFT JOIN accounts acc ON acc.login = s.account_login
		 WHERE s.viewer = ?
		 ORDER BY s.created_at DESC, s.account_login`, viewer)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}

	views := make([]model.SubscriptionView, 0, len(rows))
	for _, r := range rows {
		views = append(views, model.SubscriptionView{
			Subscription: model.Subscription{
				ID:           r.ID,
				Viewer:       r.Viewer,
				AccountLogin: r.AccountLogin,
				CreatedAt:    fromMillis(r.CreatedAt),
			},
			ExternalID:      r.ExternalID.String,
			LastRefreshedAt: nullMillis(r.LastRefreshedAt),
		})
	}
	return views, nil
}

// ListFollowedAccounts returns the accounts the viewer follows, least
// recently refreshed first.
func (s *SQLite) ListFollowedAccounts(ctx context.Context, viewer string) ([]model.Account, error) {
	var rows []accountRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT acc.login, acc.external_id, acc.last_refreshed_at, acc.created_at
		 FROM accounts acc
		 JOIN subscriptions s ON s.account_login = acc.login
		 WHERE s.viewer = ?
		 ORDER BY acc.last_refreshed_at IS NOT NULL, acc.last_refreshed_at, acc.login`, viewer)
	if err != nil {
		return nil, fmt.Errorf("query followed accounts: %w", err)
	}
	return toAccounts(rows), nil
}

type filterRow struct {
	ID        string `db:"id"`
	Viewer    string `db:"viewer"`
	Name      string `db:"name"`
	Rule      string `db:"rule"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r filterRow) toModel() model.StoredFilter {
	return model.StoredFilter{
		ID:        r.ID,
		Viewer:    r.Viewer,
		Name:      r.Name,
		Rule:      r.Rule,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

// CreateFilter inserts a filter rule and populates its ID and timestamps.
func (s *SQLite) CreateFilter(ctx context.Context, f *model.StoredFilter) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := millis(time.Now())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO filter_rules (id, viewer, name, rule, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.Viewer, f.Name, f.Rule, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert filter: %w", err)
	}
	f.CreatedAt = fromMillis(now)
	f.UpdatedAt = f.CreatedAt
	return nil
}

// UpdateFilter replaces the name and rule of a viewer's filter.
func (s *SQLite) UpdateFilter(ctx context.Context, f *model.StoredFilter) error {
	now := millis(time.Now())
	res, err := s.db.ExecContext(ctx,
		`UPDATE filter_rules SET name = ?, rule = ?, updated_at = ? WHERE id = ? AND viewer = ?`,
		f.Name, f.Rule, now, f.ID, f.Viewer,
	)
	if err != nil {
		return fmt.Errorf("update filter: %w", err)
	}
	if err := requireAffected(res, "filter "+f.ID); err != nil {
		return err
	}
	f.UpdatedAt = fromMillis(now)
	return nil
}

// GetFilter returns one of the viewer's filters.
func (s *SQLite) GetFilter(ctx context.Context, viewer, id string) (*model.StoredFilter, error) {
	var row filterRow
	err := s.db.GetContext(ctx, &row,
		`SELECT id, viewer, name, rule, created_at, updated_at FROM filter_rules WHERE id = ? AND viewer = ?`,
		id, viewer)
	if err != nil {
		return nil, wrapNotFound("get filter "+id, err)
	}
	f := row.toModel()
	return &f, nil
}

// ListFilters returns the viewer's filters, oldest first.
func (s *SQLite) ListFilters(ctx context.Context, viewer string) ([]model.StoredFilter, error) {
	var rows []filterRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, viewer, name, rule, created_at, updated_at
		 FROM filter_rules WHERE viewer = ? ORDER BY created_at, id`, viewer)
	if err != nil {
		return nil, fmt.Errorf("query filters: %w", err)
	}
	filters := make([]model.StoredFilter, 0, len(rows))
	for _, r := range rows {
		filters = append(filters, r.toModel())
	}
	return filters, nil
}

// DeleteFilter removes one of the viewer's filters.
func (s *SQLite) DeleteFilter(ctx context.Context, viewer, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = ? AND viewer = ?`, id, viewer)
	if err != nil {
		return fmt.Errorf("delete filter: %w", err)
	}
	return requireAffected(res, "filter "+id)
}

func requireAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}
