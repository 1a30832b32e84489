package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/common"
	"github.com/tenwire/imscrawl/internal/interfaces"
	"github.com/tenwire/imscrawl/internal/models"
)

// IssueStore implements interfaces.IssueStore over SQLite using an
// INSERT ... ON CONFLICT DO UPDATE upsert pattern. Writes are serialized
// through a mutex: SQLite's single writable connection (see connection.go)
// makes this
// redundant for correctness but it keeps phase 3's parallel embedding writes
// from piling up SQLITE_BUSY retries under modernc.org/sqlite's default locking.
type IssueStore struct {
	db     *DB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewIssueStore creates a new IssueStore.
func NewIssueStore(db *DB, logger arbor.ILogger) interfaces.IssueStore {
	return &IssueStore{db: db, logger: logger}
}

func (s *IssueStore) Save(ctx context.Context, issue *models.Issue) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue.Normalize()
	if issue.ID == "" {
		issue.ID = common.NewIssueID()
	}
	if issue.CrawledAt.IsZero() {
		issue.CrawledAt = time.Now()
	}

	labels, err := json.Marshal(issue.Labels)
	if err != nil {
		return "", fmt.Errorf("marshal labels: %w", err)
	}
	related, err := json.Marshal(issue.RelatedImsIDs)
	if err != nil {
		return "", fmt.Errorf("marshal related ids: %w", err)
	}
	custom, err := json.Marshal(issue.CustomFields)
	if err != nil {
		return "", fmt.Errorf("marshal custom fields: %w", err)
	}

	const query = `
		INSERT INTO ims_issues (
			id, user_id, ims_id, title, description, status, raw_status, priority, raw_priority,
			category, product, version, module, customer, issued_date, reporter, assignee,
			project_key, issue_type, labels, comment_count, attachment_count, issue_details,
			action_log, related_ims_ids, custom_fields, source_url, crawled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, ims_id) DO UPDATE SET
			title = excluded.title, description = excluded.description,
			status = excluded.status, raw_status = excluded.raw_status,
			priority = excluded.priority, raw_priority = excluded.raw_priority,
			category = excluded.category, product = excluded.product, version = excluded.version,
			module = excluded.module, customer = excluded.customer, issued_date = excluded.issued_date,
			reporter = excluded.reporter, assignee = excluded.assignee, project_key = excluded.project_key,
			issue_type = excluded.issue_type, labels = excluded.labels,
			comment_count = excluded.comment_count, attachment_count = excluded.attachment_count,
			issue_details = excluded.issue_details, action_log = excluded.action_log,
			related_ims_ids = excluded.related_ims_ids, custom_fields = excluded.custom_fields,
			source_url = excluded.source_url, crawled_at = excluded.crawled_at
		RETURNING id`

	var id string
	err = s.db.DB().QueryRowContext(ctx, query,
		issue.ID, issue.UserID, issue.ImsID, issue.Title, issue.Description,
		string(issue.Status), issue.RawStatus, string(issue.Priority), issue.RawPriority,
		issue.Category, issue.Product, issue.Version, issue.Module, issue.Customer,
		issue.IssuedDate, issue.Reporter, issue.Assignee, issue.ProjectKey, issue.IssueType,
		string(labels), issue.CommentCount, issue.AttachmentCount, issue.IssueDetails,
		issue.ActionLog, string(related), string(custom), issue.SourceURL, issue.CrawledAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("save issue: %w", err)
	}
	return id, nil
}

func (s *IssueStore) SaveEmbedding(ctx context.Context, embedding *models.IssueEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob := encodeVector(embedding.Vector)
	const query = `
		INSERT INTO ims_issue_embeddings (issue_id, embedding, embedded_text, model, dimension)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(issue_id) DO UPDATE SET
			embedding = excluded.embedding, embedded_text = excluded.embedded_text,
			model = excluded.model, dimension = excluded.dimension`
	_, err := s.db.DB().ExecContext(ctx, query,
		embedding.IssueID, blob, embedding.EmbeddedText, embedding.Model, embedding.Dimension())
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

func (s *IssueStore) SaveRelation(ctx context.Context, relation *models.IssueRelation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `
		INSERT INTO ims_issue_relations (source_id, target_id, relation_type)
		VALUES (?, ?, ?) ON CONFLICT(source_id, target_id, relation_type) DO NOTHING`
	_, err := s.db.DB().ExecContext(ctx, query, relation.SourceID, relation.TargetID, string(relation.Kind))
	if err != nil {
		return fmt.Errorf("save relation: %w", err)
	}
	return nil
}

func (s *IssueStore) FindByID(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.DB().QueryRowContext(ctx, issueSelectColumns+" FROM ims_issues WHERE id = ?", id)
	issue, err := scanIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return issue, err
}

func (s *IssueStore) FindByUserID(ctx context.Context, userID string, limit int) ([]*models.Issue, error) {
	query := issueSelectColumns + " FROM ims_issues WHERE user_id = ? ORDER BY crawled_at DESC"
	args := []interface{}{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find by user: %w", err)
	}
	defer rows.Close()
	return scanIssues(rows)
}

// SearchByVector ranks candidates by cosine similarity. modernc.org/sqlite
// has no vector index extension, so this brute-forces over the user's
// embedded issues; that is within bounds for a per-user corpus.
func (s *IssueStore) SearchByVector(ctx context.Context, vector []float32, userID string, limit int) ([]*models.Issue, error) {
	const query = `
		SELECT i.id, i.user_id, i.ims_id, i.title, i.description, i.status, i.raw_status,
			i.priority, i.raw_priority, i.category, i.product, i.version, i.module, i.customer,
			i.issued_date, i.reporter, i.assignee, i.project_key, i.issue_type, i.labels,
			i.comment_count, i.attachment_count, i.issue_details, i.action_log,
			i.related_ims_ids, i.custom_fields, i.source_url, i.crawled_at, e.embedding
		FROM ims_issues i JOIN ims_issue_embeddings e ON e.issue_id = i.id
		WHERE i.user_id = ?`

	rows, err := s.db.DB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("search by vector: %w", err)
	}
	defer rows.Close()

	type scored struct {
		issue *models.Issue
		score float64
	}
	var candidates []scored
	for rows.Next() {
		issue, blob, err := scanIssueWithEmbedding(rows)
		if err != nil {
			return nil, err
		}
		sim := cosineSimilarity(vector, decodeVector(blob))
		candidates = append(candidates, scored{issue: issue, score: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}
	result := make([]*models.Issue, 0, len(candidates))
	for _, c := range candidates {
		if c.issue.CustomFields == nil {
			c.issue.CustomFields = map[string]interface{}{}
		}
		// models.Issue carries no dedicated similarity field; stash it in
		// CustomFields as the side channel the interface contract expects.
		c.issue.CustomFields["similarity_score"] = c.score
		result = append(result, c.issue)
	}
	return result, nil
}

// SearchHybrid retrieves the broad candidate net and hands it to the caller
// (the hybrid retrieval engine) for scoring. It first tries the FTS5 index
// for a keyword-narrowed net; an empty match (no tokens, or nothing indexed
// yet) falls back to plain recency.
func (s *IssueStore) SearchHybrid(ctx context.Context, query, userID string, limit, candidateLimit int) ([]*models.Issue, error) {
	if candidateLimit <= 0 {
		candidateLimit = 200
	}

	ftsQuery := sanitizeFTSQuery(query)
	if ftsQuery != "" {
		ftsSQL := `
			SELECT ` + issueColumnsPrefixed("i") + `
			FROM ims_issues_fts f
			JOIN ims_issues i ON i.rowid = f.rowid
			WHERE f.ims_issues_fts MATCH ? AND i.user_id = ?
			ORDER BY i.crawled_at DESC LIMIT ?`
		rows, err := s.db.DB().QueryContext(ctx, ftsSQL, ftsQuery, userID, candidateLimit)
		if err == nil {
			defer rows.Close()
			issues, scanErr := scanIssues(rows)
			if scanErr == nil && len(issues) > 0 {
				return issues, nil
			}
		} else {
			s.logger.Debug().Err(err).Msg("fts query failed, falling back to recency")
		}
	}

	return s.FindByUserID(ctx, userID, candidateLimit)
}

func (s *IssueStore) GetEmbeddedImsIds(ctx context.Context, userID string, ids []string) (map[string]bool, error) {
	result := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		SELECT i.ims_id FROM ims_issues i JOIN ims_issue_embeddings e ON e.issue_id = i.id
		WHERE i.user_id = ? AND i.ims_id IN (%s)`, strings.Join(placeholders, ","))

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get embedded ims ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var imsID string
		if err := rows.Scan(&imsID); err != nil {
			return nil, err
		}
		result[imsID] = true
	}
	return result, rows.Err()
}

func (s *IssueStore) CountByUserID(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM ims_issues WHERE user_id = ?", userID).Scan(&count)
	return count, err
}

// --- scan helpers ---

const issueSelectColumns = `SELECT id, user_id, ims_id, title, description, status, raw_status,
	priority, raw_priority, category, product, version, module, customer, issued_date,
	reporter, assignee, project_key, issue_type, labels, comment_count, attachment_count,
	issue_details, action_log, related_ims_ids, custom_fields, source_url, crawled_at`

func issueColumnsPrefixed(alias string) string {
	cols := []string{"id", "user_id", "ims_id", "title", "description", "status", "raw_status",
		"priority", "raw_priority", "category", "product", "version", "module", "customer",
		"issued_date", "reporter", "assignee", "project_key", "issue_type", "labels",
		"comment_count", "attachment_count", "issue_details", "action_log", "related_ims_ids",
		"custom_fields", "source_url", "crawled_at"}
	prefixed := make([]string, len(cols))
	for i, c := range cols {
		prefixed[i] = alias + "." + c
	}
	return strings.Join(prefixed, ", ")
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	var i models.Issue
	var status, priority, labels, related, custom string
	err := row.Scan(&i.ID, &i.UserID, &i.ImsID, &i.Title, &i.Description, &status, &i.RawStatus,
		&priority, &i.RawPriority, &i.Category, &i.Product, &i.Version, &i.Module, &i.Customer,
		&i.IssuedDate, &i.Reporter, &i.Assignee, &i.ProjectKey, &i.IssueType, &labels,
		&i.CommentCount, &i.AttachmentCount, &i.IssueDetails, &i.ActionLog, &related, &custom,
		&i.SourceURL, &i.CrawledAt)
	if err != nil {
		return nil, err
	}
	i.Status = models.Status(status)
	i.Priority = models.Priority(priority)
	_ = json.Unmarshal([]byte(labels), &i.Labels)
	_ = json.Unmarshal([]byte(related), &i.RelatedImsIDs)
	_ = json.Unmarshal([]byte(custom), &i.CustomFields)
	return &i, nil
}

func scanIssues(rows *sql.Rows) ([]*models.Issue, error) {
	var result []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		result = append(result, issue)
	}
	return result, rows.Err()
}

func scanIssueWithEmbedding(rows *sql.Rows) (*models.Issue, []byte, error) {
	var i models.Issue
	var status, priority, labels, related, custom string
	var blob []byte
	err := rows.Scan(&i.ID, &i.UserID, &i.ImsID, &i.Title, &i.Description, &status, &i.RawStatus,
		&priority, &i.RawPriority, &i.Category, &i.Product, &i.Version, &i.Module, &i.Customer,
		&i.IssuedDate, &i.Reporter, &i.Assignee, &i.ProjectKey, &i.IssueType, &labels,
		&i.CommentCount, &i.AttachmentCount, &i.IssueDetails, &i.ActionLog, &related, &custom,
		&i.SourceURL, &i.CrawledAt, &blob)
	if err != nil {
		return nil, nil, err
	}
	i.Status = models.Status(status)
	i.Priority = models.Priority(priority)
	_ = json.Unmarshal([]byte(labels), &i.Labels)
	_ = json.Unmarshal([]byte(related), &i.RelatedImsIDs)
	_ = json.Unmarshal([]byte(custom), &i.CustomFields)
	return &i, blob, nil
}

// --- vector (de)serialization ---

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sanitizeFTSQuery strips characters FTS5's query syntax treats specially,
// leaving a plain OR-matched token list; empty/whitespace-only queries
// return "" so callers skip straight to the recency fallback.
func sanitizeFTSQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range q {
		switch {
		case r == '"' || r == '\'' || r == '*' || r == ':' || r == '(' || r == ')':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	fields := strings.Fields(b.String())
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, " OR ")
}

