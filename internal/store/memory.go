package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobsync/internal/models"
)

// Memory is a process-local store with the same semantics as Store. It backs tests and
// the POSTGRES_DSN=memory development mode; state is lost on restart.
type Memory struct {
	mu       sync.Mutex
	postings map[string]models.JobPosting // keyed by job_url
	cursors  map[string]models.SyncCursor
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		postings: map[string]models.JobPosting{},
		cursors:  map[string]models.SyncCursor{},
		now:      time.Now,
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) RunMigrations(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) UpsertPosting(ctx context.Context, p models.JobPosting) (models.JobPosting, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.JobPosting{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	if p.Skills == nil {
		p.Skills = []string{}
	}
	existing, found := m.postings[p.JobURL]
	if found {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = uuid.NewString()
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.postings[p.JobURL] = p
	return p, !found, nil
}

func (m *Memory) GetPosting(_ context.Context, id string) (models.JobPosting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.postings {
		if p.ID == id {
			return p, nil
		}
	}
	return models.JobPosting{}, ErrNotFound
}

func (m *Memory) DeletePosting(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for url, p := range m.postings {
		if p.ID == id {
			delete(m.postings, url)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ListPostings(_ context.Context, params ListParams) ([]models.JobPosting, int64, error) {
	params = params.WithDefaults()
	m.mu.Lock()
	matched := make([]models.JobPosting, 0, len(m.postings))
	for _, p := range m.postings {
		if params.matches(p) {
			matched = append(matched, p)
		}
	}
	m.mu.Unlock()

	sortPostings(matched, params.Sort)
	total := int64(len(matched))
	if params.Offset >= len(matched) {
		return []models.JobPosting{}, total, nil
	}
	end := params.Offset + params.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[params.Offset:end], total, nil
}

func (m *Memory) PostingsSince(_ context.Context, since *time.Time, source string) ([]models.JobPosting, error) {
	out := m.since(since, source)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScrapedAt.Equal(out[j].ScrapedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScrapedAt.Before(out[j].ScrapedAt)
	})
	return out, nil
}

func (m *Memory) CountSince(_ context.Context, since *time.Time, source string) (int64, error) {
	return int64(len(m.since(since, source))), nil
}

func (m *Memory) Stats(context.Context) (models.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.Stats{BySource: map[models.Source]models.SourceStats{}}
	for _, p := range m.postings {
		st := stats.BySource[p.Source]
		st.Count++
		if p.ScrapedAt.After(st.LatestScrape) {
			st.LatestScrape = p.ScrapedAt
		}
		stats.BySource[p.Source] = st
		stats.Total++
	}
	return stats, nil
}

func (m *Memory) GetCursor(_ context.Context, key string) (models.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursorLocked(key), nil
}

func (m *Memory) AdvanceCursor(_ context.Context, key string, at time.Time, forwarded int64) (models.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.cursorLocked(key)
	if c.LastSyncAt == nil || at.After(*c.LastSyncAt) {
		t := at
		c.LastSyncAt = &t
	}
	c.LastSyncCount = forwarded
	c.TotalSynced += forwarded
	c.UpdatedAt = m.now().UTC()
	m.cursors[key] = c
	return c, nil
}

func (m *Memory) cursorLocked(key string) models.SyncCursor {
	c, ok := m.cursors[key]
	if !ok {
		now := m.now().UTC()
		c = models.SyncCursor{Key: key, CreatedAt: now, UpdatedAt: now}
		m.cursors[key] = c
	}
	return c
}

func (m *Memory) since(since *time.Time, source string) []models.JobPosting {
	source = strings.ToLower(source)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.JobPosting, 0)
	for _, p := range m.postings {
		if since != nil && !p.ScrapedAt.After(*since) {
			continue
		}
		if source != "" && string(p.Source) != source {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (p ListParams) matches(j models.JobPosting) bool {
	if p.Source != "" && string(j.Source) != strings.ToLower(p.Source) {
		return false
	}
	if p.Company != "" && !containsFold(j.Company, p.Company) {
		return false
	}
	for _, term := range strings.Fields(p.Search) {
		if !containsFold(j.Company, term) && !containsFold(j.Title, term) && !containsFold(strings.Join(j.Skills, " "), term) {
			return false
		}
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortPostings(ps []models.JobPosting, sortBy string) {
	clause := ListParams{Sort: sortBy}.orderBy()
	col, dir, _ := strings.Cut(strings.Split(clause, ",")[0], " ")
	desc := dir == "DESC"
	less := func(a, b models.JobPosting) int {
		switch col {
		case "created_at":
			return a.CreatedAt.Compare(b.CreatedAt)
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case "company":
			return strings.Compare(a.Company, b.Company)
		case "title":
			return strings.Compare(a.Title, b.Title)
		case "source":
			return strings.Compare(string(a.Source), string(b.Source))
		default:
			return a.ScrapedAt.Compare(b.ScrapedAt)
		}
	}
	sort.SliceStable(ps, func(i, j int) bool {
		c := less(ps[i], ps[j])
		if c == 0 {
			c = strings.Compare(ps[i].ID, ps[j].ID)
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}
