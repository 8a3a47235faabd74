package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"jobsync/internal/models"
)

const postingColumns = `id::text, company, title, location, source, skills, job_url, salary, equity, job_type, remote, scraped_at, raw_data, created_at, updated_at`

// UpsertPosting inserts p or overwrites the row holding the same job_url. The unique
// index on job_url arbitrates concurrent writers; created reports whether a new row
// was inserted.
func (s *Store) UpsertPosting(ctx context.Context, p models.JobPosting) (models.JobPosting, bool, error) {
	if p.Skills == nil {
		p.Skills = []string{}
	}
	var raw any
	if len(p.RawData) > 0 {
		raw = string(p.RawData)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO job_postings (id, company, title, location, source, skills, job_url, salary, equity, job_type, remote, scraped_at, raw_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, NOW(), NOW())
		ON CONFLICT (job_url) DO UPDATE SET
			company = EXCLUDED.company,
			title = EXCLUDED.title,
			location = EXCLUDED.location,
			source = EXCLUDED.source,
			skills = EXCLUDED.skills,
			salary = EXCLUDED.salary,
			equity = EXCLUDED.equity,
			job_type = EXCLUDED.job_type,
			remote = EXCLUDED.remote,
			scraped_at = EXCLUDED.scraped_at,
			raw_data = EXCLUDED.raw_data,
			updated_at = NOW()
		RETURNING `+postingColumns+`, (xmax = 0) AS inserted
	`, uuid.New(), p.Company, p.Title, p.Location, string(p.Source), p.Skills, p.JobURL,
		p.Salary, p.Equity, p.JobType, p.Remote, p.ScrapedAt, raw)

	var created bool
	out, err := scanPosting(row, &created)
	if err != nil {
		return models.JobPosting{}, false, fmt.Errorf("upsert posting: %w", err)
	}
	return out, created, nil
}

// GetPosting fetches a posting by id.
func (s *Store) GetPosting(ctx context.Context, id string) (models.JobPosting, error) {
	pid, err := uuid.Parse(id)
	if err != nil {
		return models.JobPosting{}, ErrNotFound
	}
	row := s.pool.QueryRow(ctx, `SELECT `+postingColumns+` FROM job_postings WHERE id = $1`, pid)
	p, err := scanPosting(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobPosting{}, ErrNotFound
	}
	if err != nil {
		return models.JobPosting{}, fmt.Errorf("get posting: %w", err)
	}
	return p, nil
}

// DeletePosting removes a posting by id, returning ErrNotFound when absent.
func (s *Store) DeletePosting(ctx context.Context, id string) error {
	pid, err := uuid.Parse(id)
	if err != nil {
		return ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_postings WHERE id = $1`, pid)
	if err != nil {
		return fmt.Errorf("delete posting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPostings returns one page of postings matching params and the total match count.
func (s *Store) ListPostings(ctx context.Context, params ListParams) ([]models.JobPosting, int64, error) {
	params = params.WithDefaults()
	where, args := params.where()

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_postings`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count postings: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM job_postings%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		postingColumns, where, params.orderBy(), len(args)+1, len(args)+2)
	rows, err := s.pool.Query(ctx, query, append(args, params.Limit, params.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list postings: %w", err)
	}
	defer rows.Close()

	out := make([]models.JobPosting, 0, params.Limit)
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan posting: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// PostingsSince returns postings scraped strictly after since (all postings when since
// is nil), optionally restricted to one source, oldest first.
func (s *Store) PostingsSince(ctx context.Context, since *time.Time, source string) ([]models.JobPosting, error) {
	where, args := sinceFilter(since, source)
	rows, err := s.pool.Query(ctx, `SELECT `+postingColumns+` FROM job_postings`+where+` ORDER BY scraped_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query postings since: %w", err)
	}
	defer rows.Close()

	var out []models.JobPosting
	for rows.Next() {
		p, err := scanPosting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan posting: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CountSince counts the postings PostingsSince would return.
func (s *Store) CountSince(ctx context.Context, since *time.Time, source string) (int64, error) {
	where, args := sinceFilter(since, source)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_postings`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count postings since: %w", err)
	}
	return n, nil
}

// Stats aggregates posting counts and the latest scrape time per source.
func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source, COUNT(*), MAX(scraped_at)
		FROM job_postings
		GROUP BY source
	`)
	if err != nil {
		return models.Stats{}, fmt.Errorf("stats query: %w", err)
	}
	defer rows.Close()

	stats := models.Stats{BySource: map[models.Source]models.SourceStats{}}
	for rows.Next() {
		var src string
		var st models.SourceStats
		if err := rows.Scan(&src, &st.Count, &st.LatestScrape); err != nil {
			return models.Stats{}, fmt.Errorf("stats scan: %w", err)
		}
		stats.BySource[models.Source(src)] = st
		stats.Total += st.Count
	}
	return stats, rows.Err()
}

func sinceFilter(since *time.Time, source string) (string, []any) {
	var conds []string
	var args []any
	if since != nil {
		args = append(args, *since)
		conds = append(conds, fmt.Sprintf("scraped_at > $%d", len(args)))
	}
	if source != "" {
		args = append(args, strings.ToLower(source))
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanPosting(row pgx.Row, extra ...any) (models.JobPosting, error) {
	var (
		p                       models.JobPosting
		src                     string
		salary, equity, jobType pgtype.Text
		remote                  pgtype.Bool
		raw                     []byte
	)
	dest := []any{&p.ID, &p.Company, &p.Title, &p.Location, &src, &p.Skills, &p.JobURL,
		&salary, &equity, &jobType, &remote, &p.ScrapedAt, &raw, &p.CreatedAt, &p.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return models.JobPosting{}, err
	}
	p.Source = models.Source(src)
	p.Salary = textPtr(salary)
	p.Equity = textPtr(equity)
	p.JobType = textPtr(jobType)
	p.Remote = boolPtr(remote)
	if len(raw) > 0 {
		p.RawData = raw
	}
	if p.Skills == nil {
		p.Skills = []string{}
	}
	return p, nil
}
