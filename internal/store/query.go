package store

import (
	"fmt"
	"strings"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
	DefaultSort      = "-scraped_at"
)

// sortColumns whitelists the columns a caller may sort by.
var sortColumns = map[string]string{
	"scraped_at": "scraped_at",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"company":    "company",
	"title":      "title",
	"source":     "source",
}

// ListParams filters and paginates ListPostings.
type ListParams struct {
	Source  string
	Company string // case-insensitive substring
	Search  string // free text over company, title and skills
	Limit   int
	Offset  int
	Sort    string // column name, "-" prefix for descending
}

// WithDefaults clamps limit and offset and fills in the default sort.
func (p ListParams) WithDefaults() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Sort == "" {
		p.Sort = DefaultSort
	}
	return p
}

func (p ListParams) where() (string, []any) {
	var conds []string
	var args []any
	if p.Source != "" {
		args = append(args, strings.ToLower(p.Source))
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if p.Company != "" {
		args = append(args, "%"+escapeLike(p.Company)+"%")
		conds = append(conds, fmt.Sprintf("company ILIKE $%d", len(args)))
	}
	for _, term := range strings.Fields(p.Search) {
		args = append(args, "%"+escapeLike(term)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf(
			"(company ILIKE $%d OR title ILIKE $%d OR array_to_string(skills, ' ') ILIKE $%d)", n, n, n))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderBy maps the sort parameter to a safe ORDER BY clause; unknown columns fall back
// to the default ordering.
func (p ListParams) orderBy() string {
	dir := "ASC"
	name := strings.TrimSpace(p.Sort)
	if strings.HasPrefix(name, "-") {
		dir = "DESC"
		name = name[1:]
	}
	name = strings.TrimPrefix(name, "+")
	col, ok := sortColumns[name]
	if !ok {
		return "scraped_at DESC, id DESC"
	}
	return col + " " + dir + ", id " + dir
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
