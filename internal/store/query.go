package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/models"
)

// Query limits.
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
	searchLimit     = 50
)

// Cursor is a stable pagination position: the (created_at, id) tuple of the
// last message on the previous page. The id breaks timestamp ties
// deterministically.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode renders the cursor for transport.
func (c Cursor) Encode() string {
	return c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
}

// ParseCursor decodes a cursor produced by Encode.
func ParseCursor(s string) (Cursor, error) {
	ts, id, ok := strings.Cut(s, "|")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: malformed cursor %q", ErrInvalid, s)
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: malformed cursor timestamp: %v", ErrInvalid, err)
	}
	return Cursor{CreatedAt: t, ID: id}, nil
}

// Filters restrict a Query.
type Filters struct {
	Agent  string  // matches either side of the conversation
	Thread string  // exact thread ID
	Before *Cursor // page backward through history from this position
	Limit  int     // defaults to DefaultPageSize, capped at MaxPageSize
}

// Page is one page of messages, newest first.
type Page struct {
	Messages []models.Message
	HasMore  bool
	Next     *Cursor
}

// Query returns messages newest-first with stable cursor pagination.
func (s *Store) Query(f Filters) (*Page, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	q := s.g.Model(&models.Message{})
	if f.Agent != "" {
		q = q.Where("from_agent = ? OR to_agent = ?", f.Agent, f.Agent)
	}
	if f.Thread != "" {
		q = q.Where("thread_id = ?", f.Thread)
	}
	if f.Before != nil {
		// Bind in UTC: timestamps are stored as text in UTC, and sqlite
		// compares text lexically, so every bound value must share that
		// offset for the cursor predicate to hold.
		before := f.Before.CreatedAt.UTC()
		q = q.Where("created_at < ? OR (created_at = ? AND id < ?)",
			before, before, f.Before.ID)
	}

	var msgs []models.Message
	// Fetch one past the limit to compute HasMore without a count query.
	if err := q.Order("created_at DESC, id DESC").Limit(limit + 1).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: query: %w", err)
	}

	page := &Page{}
	if len(msgs) > limit {
		page.HasMore = true
		msgs = msgs[:limit]
	}
	page.Messages = msgs
	if page.HasMore && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		page.Next = &Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return page, nil
}

// Search runs a ranked full-text query over message bodies, optionally
// restricted to one agent's messages.
func (s *Store) Search(query, agent string) ([]models.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalid)
	}
	if !db.HasFTS(s.g) {
		return nil, fmt.Errorf("store: search unavailable: build with -tags sqlite_fts5")
	}

	sql := `SELECT m.* FROM messages m
		JOIN messages_fts f ON f.rowid = m.rowid
		WHERE messages_fts MATCH ?`
	args := []interface{}{ftsQuote(query)}
	if agent != "" {
		sql += ` AND (m.from_agent = ? OR m.to_agent = ?)`
		args = append(args, agent, agent)
	}
	sql += ` ORDER BY bm25(messages_fts) LIMIT ?`
	args = append(args, searchLimit)

	var msgs []models.Message
	if err := s.g.Raw(sql, args...).Scan(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	return msgs, nil
}

// ftsQuote wraps each term in double quotes so user text can't inject FTS5
// query syntax.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}

// Threads lists every thread with its latest message and unread count,
// newest activity first. Threads are derived from messages, never stored.
func (s *Store) Threads() ([]models.Thread, error) {
	type agg struct {
		ThreadID string
		Total    int64
		Unread   int64
	}
	var aggs []agg
	err := s.g.Model(&models.Message{}).
		Select(`thread_id,
			COUNT(*) AS total,
			SUM(CASE WHEN read = 0 AND to_agent = 'user' THEN 1 ELSE 0 END) AS unread`).
		Group("thread_id").
		Scan(&aggs).Error
	if err != nil {
		return nil, fmt.Errorf("store: threads: %w", err)
	}

	var lasts []models.Message
	err = s.g.Raw(`SELECT m.* FROM messages m
		WHERE m.id = (
			SELECT id FROM messages
			WHERE thread_id = m.thread_id
			ORDER BY created_at DESC, id DESC LIMIT 1
		)`).Scan(&lasts).Error
	if err != nil {
		return nil, fmt.Errorf("store: threads latest: %w", err)
	}
	lastByThread := make(map[string]models.Message, len(lasts))
	for _, m := range lasts {
		lastByThread[m.ThreadID] = m
	}

	participants, err := s.threadParticipants()
	if err != nil {
		return nil, err
	}

	threads := make([]models.Thread, 0, len(aggs))
	for _, a := range aggs {
		t := models.Thread{
			ID:           a.ThreadID,
			Total:        a.Total,
			Unread:       a.Unread,
			Participants: participants[a.ThreadID],
		}
		if last, ok := lastByThread[a.ThreadID]; ok {
			t.LastFrom = last.FromAgent
			t.LastBody = last.Body
			t.LastAt = last.CreatedAt
		}
		threads = append(threads, t)
	}
	sort.Slice(threads, func(i, j int) bool { return threads[i].LastAt.After(threads[j].LastAt) })
	return threads, nil
}

// threadParticipants collects the distinct agent set per thread.
func (s *Store) threadParticipants() (map[string][]string, error) {
	type pair struct {
		ThreadID  string
		FromAgent string
		ToAgent   string
	}
	var pairs []pair
	err := s.g.Model(&models.Message{}).
		Select("thread_id, from_agent, to_agent").
		Distinct().
		Scan(&pairs).Error
	if err != nil {
		return nil, fmt.Errorf("store: thread participants: %w", err)
	}
	seen := make(map[string]map[string]bool)
	for _, p := range pairs {
		if seen[p.ThreadID] == nil {
			seen[p.ThreadID] = make(map[string]bool)
		}
		seen[p.ThreadID][p.FromAgent] = true
		seen[p.ThreadID][p.ToAgent] = true
	}
	out := make(map[string][]string, len(seen))
	for thread, set := range seen {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		out[thread] = names
	}
	return out, nil
}

// UnreadCounts returns, per agent, how many of their messages to the
// operator remain unread.
func (s *Store) UnreadCounts() (map[string]int64, error) {
	type row struct {
		FromAgent string
		Count     int64
	}
	var rows []row
	err := s.g.Model(&models.Message{}).
		Select("from_agent, COUNT(*) AS count").
		Where("to_agent = ? AND read = ?", "user", false).
		Group("from_agent").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: unread counts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.FromAgent] = r.Count
	}
	return counts, nil
}
