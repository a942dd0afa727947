// Package store persists classified posts in sqlite and deduplicates
// arrivals against both a bounded in-memory key cache and the database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const recentKeyCapacity = 1000

type Store struct {
	db     *sql.DB
	recent *recentKeySet
}

// Post is one stored news post.
type Post struct {
	ID              int64
	ChannelID       string
	ChannelTitle    string
	ChannelUsername string
	Permalink       string
	Text            string
	Labels          []string
	Tags            []string
	PublishedAt     time.Time
	FetchedAt       time.Time
}

// PostInput holds the fields required to persist a post. PublishedAt may be
// zero; it defaults to the current time at save.
type PostInput struct {
	ChannelID       string
	ChannelTitle    string
	ChannelUsername string
	Permalink       string
	Text            string
	Labels          []string
	Tags            []string
	PublishedAt     time.Time
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:     db,
		recent: newRecentKeySet(recentKeyCapacity),
	}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SavePost persists a post unless the (channel_id, permalink) pair already
// exists. It returns true when a new row was written and false for
// duplicates. A hit in the in-memory key cache skips the database lookup
// entirely; a cache miss falls through to an existence query before any
// insert, so cache eviction can never cause a duplicate row.
func (s *Store) SavePost(ctx context.Context, in PostInput) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(in.ChannelID) == "" {
		return false, errors.New("channel_id is required")
	}
	if strings.TrimSpace(in.Permalink) == "" {
		return false, errors.New("permalink is required")
	}
	if strings.TrimSpace(in.Text) == "" {
		return false, errors.New("text is required")
	}
	if len(in.Labels) == 0 {
		return false, errors.New("at least one label is required")
	}

	key := dedupKey(in.ChannelID, in.Permalink)
	if s.recent.Contains(key) {
		return false, nil
	}

	exists, err := s.exists(ctx, in.ChannelID, in.Permalink)
	if err != nil {
		return false, err
	}
	if exists {
		s.recent.Add(key)
		return false, nil
	}

	publishedAt := in.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}

	labelsJSON, err := json.Marshal(in.Labels)
	if err != nil {
		return false, fmt.Errorf("encode labels: %w", err)
	}

	tags := in.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return false, fmt.Errorf("encode tags: %w", err)
	}

	var usernameVal sql.NullString
	if strings.TrimSpace(in.ChannelUsername) != "" {
		usernameVal = sql.NullString{String: in.ChannelUsername, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO news_posts (
			channel_id, channel_title, channel_username, permalink, text, labels, tags, published_at, fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		in.ChannelID,
		in.ChannelTitle,
		usernameVal,
		in.Permalink,
		in.Text,
		string(labelsJSON),
		string(tagsJSON),
		formatTime(publishedAt),
		formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("insert post: %w", err)
	}

	s.recent.Add(key)
	return true, nil
}

func (s *Store) exists(ctx context.Context, channelID, permalink string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM news_posts WHERE channel_id = ? AND permalink = ?",
		channelID, permalink,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check existing post: %w", err)
	}
	return true, nil
}

// CountPosts returns the number of stored posts.
func (s *Store) CountPosts(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM news_posts").Scan(&count); err != nil {
		return 0, fmt.Errorf("count posts: %w", err)
	}
	return count, nil
}

// DeleteOlderThan removes posts published before cutoff and returns how
// many rows were deleted.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM news_posts WHERE published_at < ?", formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete old posts: %w", err)
	}

	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteOldest removes the n posts with the earliest published_at and
// returns how many rows were deleted.
func (s *Store) DeleteOldest(ctx context.Context, n int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if n <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM news_posts WHERE id IN (
			SELECT id FROM news_posts ORDER BY published_at ASC, id ASC LIMIT ?
		)
	`, n)
	if err != nil {
		return 0, fmt.Errorf("delete oldest posts: %w", err)
	}

	deleted, _ := res.RowsAffected()
	return deleted, nil
}

// DistinctThemes returns the distinct theme names from the user-themes
// table, ordered alphabetically. An empty result is not an error; callers
// fall back to a default vocabulary.
func (s *Store) DistinctThemes(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT theme FROM user_themes ORDER BY theme")
	if err != nil {
		return nil, fmt.Errorf("query themes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var themes []string
	for rows.Next() {
		var theme string
		if err := rows.Scan(&theme); err != nil {
			return nil, fmt.Errorf("scan theme: %w", err)
		}
		themes = append(themes, theme)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate themes: %w", err)
	}

	return themes, nil
}

// AddUserTheme records one theme subscription for a user. Used by the
// admin side of the system; kept here so tests and tooling can seed the
// vocabulary collaborator.
func (s *Store) AddUserTheme(ctx context.Context, userID, theme string) error {
	if s == nil || s.db == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(userID) == "" {
		return errors.New("user_id is required")
	}
	if strings.TrimSpace(theme) == "" {
		return errors.New("theme is required")
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_themes(user_id, theme) VALUES(?, ?)", userID, theme)
	if err != nil {
		return fmt.Errorf("insert user theme: %w", err)
	}
	return nil
}

// RecentPosts returns up to limit posts ordered by published_at descending.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, channel_title, channel_username, permalink, text, labels, tags, published_at, fetched_at
		FROM news_posts
		ORDER BY published_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent posts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var posts []Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recent posts: %w", err)
	}

	return posts, nil
}

// ChannelStats holds aggregated counts for one channel.
type ChannelStats struct {
	ChannelID    string
	ChannelTitle string
	Total        int
	LastPost     time.Time
}

// GetChannelStats returns per-channel post counts and the latest
// published_at, ordered by channel title.
func (s *Store) GetChannelStats(ctx context.Context) ([]ChannelStats, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, channel_title, COUNT(*) AS total, MAX(published_at) AS last_post
		FROM news_posts
		GROUP BY channel_id, channel_title
		ORDER BY channel_title, channel_id
	`)
	if err != nil {
		return nil, fmt.Errorf("get channel stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []ChannelStats
	for rows.Next() {
		var cs ChannelStats
		var lastPost string
		if err := rows.Scan(&cs.ChannelID, &cs.ChannelTitle, &cs.Total, &lastPost); err != nil {
			return nil, fmt.Errorf("scan channel stats: %w", err)
		}
		cs.LastPost, err = parseTime(lastPost)
		if err != nil {
			return nil, fmt.Errorf("parse last_post: %w", err)
		}
		stats = append(stats, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel stats: %w", err)
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(scanner rowScanner) (Post, error) {
	var (
		post                   Post
		usernameVal            sql.NullString
		labelsJSON, tagsJSON   string
		publishedAt, fetchedAt string
	)

	if err := scanner.Scan(
		&post.ID,
		&post.ChannelID,
		&post.ChannelTitle,
		&usernameVal,
		&post.Permalink,
		&post.Text,
		&labelsJSON,
		&tagsJSON,
		&publishedAt,
		&fetchedAt,
	); err != nil {
		return Post{}, fmt.Errorf("scan post: %w", err)
	}

	if usernameVal.Valid {
		post.ChannelUsername = usernameVal.String
	}

	if err := json.Unmarshal([]byte(labelsJSON), &post.Labels); err != nil {
		return Post{}, fmt.Errorf("decode labels: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &post.Tags); err != nil {
		return Post{}, fmt.Errorf("decode tags: %w", err)
	}

	var err error
	post.PublishedAt, err = parseTime(publishedAt)
	if err != nil {
		return Post{}, fmt.Errorf("parse published_at: %w", err)
	}
	post.FetchedAt, err = parseTime(fetchedAt)
	if err != nil {
		return Post{}, fmt.Errorf("parse fetched_at: %w", err)
	}

	return post, nil
}

func dedupKey(channelID, permalink string) string {
	return channelID + "\x00" + permalink
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return time.Time{}.UTC().Format(time.RFC3339Nano)
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, value)
}
