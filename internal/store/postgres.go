package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/postmint/postmint/pkg/models"
)

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// PostgresStore is the production Store backend.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres opens a PostgreSQL-backed store and initializes the schema.
func NewPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stocked_posts (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		text TEXT NOT NULL,
		target_label TEXT NOT NULL DEFAULT '',
		benefit_label TEXT NOT NULL DEFAULT '',
		pattern_label TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		used_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_stocked_posts_account ON stocked_posts(account) WHERE used_at IS NULL;

	CREATE TABLE IF NOT EXISTS success_patterns (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		category TEXT NOT NULL,
		text TEXT NOT NULL,
		target_label TEXT NOT NULL DEFAULT '',
		benefit_label TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (account, category, text)
	);
	CREATE INDEX IF NOT EXISTS idx_success_patterns_account ON success_patterns(account, category);

	CREATE TABLE IF NOT EXISTS bad_patterns (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		category TEXT NOT NULL,
		text TEXT NOT NULL,
		target_label TEXT NOT NULL DEFAULT '',
		benefit_label TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		score REAL NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (account, category, text)
	);

	CREATE TABLE IF NOT EXISTS ab_tests (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		status TEXT NOT NULL,
		a_target TEXT NOT NULL,
		a_benefit TEXT NOT NULL,
		a_posts INTEGER NOT NULL DEFAULT 0,
		a_dms INTEGER NOT NULL DEFAULT 0,
		a_conversions INTEGER NOT NULL DEFAULT 0,
		a_avg_score REAL NOT NULL DEFAULT 0,
		b_target TEXT NOT NULL,
		b_benefit TEXT NOT NULL,
		b_posts INTEGER NOT NULL DEFAULT 0,
		b_dms INTEGER NOT NULL DEFAULT 0,
		b_conversions INTEGER NOT NULL DEFAULT 0,
		b_avg_score REAL NOT NULL DEFAULT 0,
		min_posts INTEGER NOT NULL,
		winner TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ab_tests_running ON ab_tests(account) WHERE status = 'running';

	CREATE TABLE IF NOT EXISTS combo_stats (
		account TEXT NOT NULL,
		target_label TEXT NOT NULL,
		benefit_label TEXT NOT NULL,
		success_rate REAL NOT NULL,
		samples INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account, target_label, benefit_label)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func patternTable(kind PatternKind) string {
	if kind == PatternBad {
		return "bad_patterns"
	}
	return "success_patterns"
}

func (s *PostgresStore) InsertPost(ctx context.Context, post *models.StockedPost) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO stocked_posts (id, account, text, target_label, benefit_label, pattern_label, score, created_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		post.ID, post.Account, post.Text, post.TargetLabel, post.BenefitLabel,
		post.PatternLabel, post.Score, post.CreatedAt, post.UsedAt,
	)
	if err != nil {
		return &PersistenceError{Op: "insert post", Err: err}
	}
	return nil
}

// ConsumePost claims the best unused post in a single conditional update.
// FOR UPDATE SKIP LOCKED keeps concurrent consumers off the same row.
func (s *PostgresStore) ConsumePost(ctx context.Context, account string) (*models.StockedPost, error) {
	row := s.db.QueryRowContext(ctx, rebind(`
		UPDATE stocked_posts SET used_at = ?
		WHERE id = (
			SELECT id FROM stocked_posts
			WHERE account = ? AND used_at IS NULL
			ORDER BY score DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND used_at IS NULL
		RETURNING id, account, text, target_label, benefit_label, pattern_label, score, created_at, used_at`),
		time.Now(), account,
	)

	post := &models.StockedPost{}
	err := row.Scan(&post.ID, &post.Account, &post.Text, &post.TargetLabel,
		&post.BenefitLabel, &post.PatternLabel, &post.Score, &post.CreatedAt, &post.UsedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNoStock
	}
	if err != nil {
		return nil, &PersistenceError{Op: "consume post", Err: err}
	}
	return post, nil
}

func (s *PostgresStore) UnusedCount(ctx context.Context, account string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*) FROM stocked_posts WHERE account = ? AND used_at IS NULL`),
		account).Scan(&n)
	if err != nil {
		return 0, &PersistenceError{Op: "count unused", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) UnusedCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account, COUNT(*) FROM stocked_posts WHERE used_at IS NULL GROUP BY account`)
	if err != nil {
		return nil, &PersistenceError{Op: "count unused", Err: err}
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var account string
		var n int
		if err := rows.Scan(&account, &n); err != nil {
			return nil, &PersistenceError{Op: "count unused", Err: err}
		}
		counts[account] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) EvictOldestUnused(ctx context.Context, account string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx, rebind(`
		DELETE FROM stocked_posts
		WHERE id IN (
			SELECT id FROM stocked_posts
			WHERE account = ? AND used_at IS NULL
			ORDER BY created_at DESC
			OFFSET ?
		)`),
		account, keep,
	)
	if err != nil {
		return 0, &PersistenceError{Op: "evict posts", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) ListUnusedPosts(ctx context.Context, account string) ([]*models.StockedPost, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT id, account, text, target_label, benefit_label, pattern_label, score, created_at, used_at
		FROM stocked_posts
		WHERE account = ? AND used_at IS NULL
		ORDER BY score DESC, created_at ASC`),
		account,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "list unused", Err: err}
	}
	defer rows.Close()

	var posts []*models.StockedPost
	for rows.Next() {
		p := &models.StockedPost{}
		if err := rows.Scan(&p.ID, &p.Account, &p.Text, &p.TargetLabel,
			&p.BenefitLabel, &p.PatternLabel, &p.Score, &p.CreatedAt, &p.UsedAt); err != nil {
			return nil, &PersistenceError{Op: "list unused", Err: err}
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (s *PostgresStore) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, rebind(`DELETE FROM stocked_posts WHERE id = ?`), id)
	if err != nil {
		return &PersistenceError{Op: "delete post", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertPattern relies on ON CONFLICT for the atomic merge; the running
// average is computed in SQL from the stored usage count.
func (s *PostgresStore) UpsertPattern(ctx context.Context, kind PatternKind, rec *models.PatternRecord) (bool, error) {
	table := patternTable(kind)
	var usageCount int
	err := s.db.QueryRowContext(ctx, rebind(fmt.Sprintf(`
		INSERT INTO %s (id, account, category, text, target_label, benefit_label, reason, score, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (account, category, text) DO UPDATE SET
			score = (%s.score * %s.usage_count + EXCLUDED.score) / (%s.usage_count + 1),
			usage_count = %s.usage_count + 1
		RETURNING usage_count`, table, table, table, table, table)),
		rec.ID, rec.Account, rec.Category, rec.Text, rec.TargetLabel,
		rec.BenefitLabel, rec.Reason, rec.Score, rec.CreatedAt,
	).Scan(&usageCount)
	if err != nil {
		return false, &PersistenceError{Op: "upsert pattern", Err: err}
	}
	return usageCount > 1, nil
}

func (s *PostgresStore) ListPatterns(ctx context.Context, kind PatternKind, account, category string, limit int) ([]*models.PatternRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, account, category, text, target_label, benefit_label, reason, score, usage_count, created_at
		FROM %s WHERE 1=1`, patternTable(kind))
	var args []interface{}
	if account != "" {
		query += " AND account = ?"
		args = append(args, account)
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list patterns", Err: err}
	}
	defer rows.Close()

	var recs []*models.PatternRecord
	for rows.Next() {
		r := &models.PatternRecord{}
		if err := rows.Scan(&r.ID, &r.Account, &r.Category, &r.Text, &r.TargetLabel,
			&r.BenefitLabel, &r.Reason, &r.Score, &r.UsageCount, &r.CreatedAt); err != nil {
			return nil, &PersistenceError{Op: "list patterns", Err: err}
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) TrimPatterns(ctx context.Context, kind PatternKind, account, category string, keep int) (int, error) {
	table := patternTable(kind)
	query := fmt.Sprintf(`
		DELETE FROM %s WHERE id IN (
			SELECT id FROM %s WHERE 1=1`, table, table)
	var args []interface{}
	if account != "" {
		query += " AND account = ?"
		args = append(args, account)
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC OFFSET ?)`
	args = append(args, keep)

	res, err := s.db.ExecContext(ctx, rebind(query), args...)
	if err != nil {
		return 0, &PersistenceError{Op: "trim patterns", Err: err}
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) CountPatterns(ctx context.Context, kind PatternKind, account string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, patternTable(kind))
	var args []interface{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, rebind(query), args...).Scan(&n); err != nil {
		return 0, &PersistenceError{Op: "count patterns", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) InsertTest(ctx context.Context, test *models.ABTest) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO ab_tests (id, account, status,
			a_target, a_benefit, a_posts, a_dms, a_conversions, a_avg_score,
			b_target, b_benefit, b_posts, b_dms, b_conversions, b_avg_score,
			min_posts, winner, confidence, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		test.ID, test.Account, string(test.Status),
		test.VariantA.TargetLabel, test.VariantA.BenefitLabel, test.VariantA.Posts,
		test.VariantA.DMs, test.VariantA.Conversions, test.VariantA.AvgScore,
		test.VariantB.TargetLabel, test.VariantB.BenefitLabel, test.VariantB.Posts,
		test.VariantB.DMs, test.VariantB.Conversions, test.VariantB.AvgScore,
		test.MinPostsPerVariant, test.Winner, test.Confidence, test.CreatedAt, test.CompletedAt,
	)
	if err != nil {
		// The partial unique index rejects a second running test per account.
		if strings.Contains(err.Error(), "idx_ab_tests_running") {
			return ErrTestRunning
		}
		return &PersistenceError{Op: "insert test", Err: err}
	}
	return nil
}

func (s *PostgresStore) UpdateTest(ctx context.Context, test *models.ABTest) error {
	res, err := s.db.ExecContext(ctx, rebind(`
		UPDATE ab_tests SET status = ?,
			a_posts = ?, a_dms = ?, a_conversions = ?, a_avg_score = ?,
			b_posts = ?, b_dms = ?, b_conversions = ?, b_avg_score = ?,
			winner = ?, confidence = ?, completed_at = ?
		WHERE id = ?`),
		string(test.Status),
		test.VariantA.Posts, test.VariantA.DMs, test.VariantA.Conversions, test.VariantA.AvgScore,
		test.VariantB.Posts, test.VariantB.DMs, test.VariantB.Conversions, test.VariantB.AvgScore,
		test.Winner, test.Confidence, test.CompletedAt, test.ID,
	)
	if err != nil {
		return &PersistenceError{Op: "update test", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanTest(row interface{ Scan(...interface{}) error }) (*models.ABTest, error) {
	t := &models.ABTest{}
	var status string
	err := row.Scan(&t.ID, &t.Account, &status,
		&t.VariantA.TargetLabel, &t.VariantA.BenefitLabel, &t.VariantA.Posts,
		&t.VariantA.DMs, &t.VariantA.Conversions, &t.VariantA.AvgScore,
		&t.VariantB.TargetLabel, &t.VariantB.BenefitLabel, &t.VariantB.Posts,
		&t.VariantB.DMs, &t.VariantB.Conversions, &t.VariantB.AvgScore,
		&t.MinPostsPerVariant, &t.Winner, &t.Confidence, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.ABTestStatus(status)
	return t, nil
}

const testColumns = `id, account, status,
	a_target, a_benefit, a_posts, a_dms, a_conversions, a_avg_score,
	b_target, b_benefit, b_posts, b_dms, b_conversions, b_avg_score,
	min_posts, winner, confidence, created_at, completed_at`

func (s *PostgresStore) GetTest(ctx context.Context, id string) (*models.ABTest, error) {
	row := s.db.QueryRowContext(ctx, rebind(
		`SELECT `+testColumns+` FROM ab_tests WHERE id = ?`), id)
	t, err := s.scanTest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get test", Err: err}
	}
	return t, nil
}

func (s *PostgresStore) GetRunningTest(ctx context.Context, account string) (*models.ABTest, error) {
	row := s.db.QueryRowContext(ctx, rebind(
		`SELECT `+testColumns+` FROM ab_tests WHERE account = ? AND status = 'running'`), account)
	t, err := s.scanTest(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &PersistenceError{Op: "get running test", Err: err}
	}
	return t, nil
}

func (s *PostgresStore) ListTests(ctx context.Context, account string) ([]*models.ABTest, error) {
	query := `SELECT ` + testColumns + ` FROM ab_tests`
	var args []interface{}
	if account != "" {
		query += ` WHERE account = ?`
		args = append(args, account)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, &PersistenceError{Op: "list tests", Err: err}
	}
	defer rows.Close()

	var tests []*models.ABTest
	for rows.Next() {
		t, err := s.scanTest(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "list tests", Err: err}
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

func (s *PostgresStore) UpsertComboStat(ctx context.Context, stat *models.ComboStat) error {
	_, err := s.db.ExecContext(ctx, rebind(`
		INSERT INTO combo_stats (account, target_label, benefit_label, success_rate, samples, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (account, target_label, benefit_label) DO UPDATE SET
			success_rate = (combo_stats.success_rate * combo_stats.samples + EXCLUDED.success_rate) / (combo_stats.samples + 1),
			samples = combo_stats.samples + 1,
			updated_at = EXCLUDED.updated_at`),
		stat.Account, stat.TargetLabel, stat.BenefitLabel, stat.SuccessRate, time.Now(),
	)
	if err != nil {
		return &PersistenceError{Op: "upsert combo stat", Err: err}
	}
	return nil
}

func (s *PostgresStore) TopCombos(ctx context.Context, account string, n int) ([]*models.ComboStat, error) {
	rows, err := s.db.QueryContext(ctx, rebind(`
		SELECT account, target_label, benefit_label, success_rate, samples, updated_at
		FROM combo_stats WHERE account = ?
		ORDER BY success_rate DESC
		LIMIT ?`),
		account, n,
	)
	if err != nil {
		return nil, &PersistenceError{Op: "top combos", Err: err}
	}
	defer rows.Close()

	var stats []*models.ComboStat
	for rows.Next() {
		c := &models.ComboStat{}
		if err := rows.Scan(&c.Account, &c.TargetLabel, &c.BenefitLabel,
			&c.SuccessRate, &c.Samples, &c.UpdatedAt); err != nil {
			return nil, &PersistenceError{Op: "top combos", Err: err}
		}
		stats = append(stats, c)
	}
	return stats, rows.Err()
}
