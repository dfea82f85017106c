// Package jobdao reads recent job snapshots from the job backend's tables.
// It never writes.
package jobdao

import (
	"context"
	"fmt"
	"strings"
	"time"

	relaysql "github.com/socialjobs/job-relay/relay-sql"
	"gorm.io/gorm"
)

// RecentLimit caps every snapshot.
const RecentLimit = 50

// Tables names the backend tables the snapshot query joins.
type Tables struct {
	Jobs     string // job rows: id, title, company, url, location, eligible, found_keywords, created_at, page_id
	Searches string // job search pages: id, profile_id
	Profiles string // user profiles: id, user_id
}

var DefaultTables = Tables{
	Jobs:     "linkedin_job",
	Searches: "linkedin_jobsearch",
	Profiles: "user_profile",
}

// Job is the snapshot of a job row exposed to clients.
type Job struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Company   string    `json:"company"`
	URL       string    `json:"url,omitempty"`
	Location  string    `json:"location,omitempty"`
	Eligible  bool      `json:"eligible"`
	Keywords  []string  `json:"keywords"`
	CreatedAt time.Time `json:"created_at"`
}

type row struct {
	ID            int64
	Title         *string
	Company       *string
	URL           *string
	Location      *string
	Eligible      bool
	FoundKeywords *string
	CreatedAt     time.Time
}

// DAO queries job snapshots.
type DAO struct {
	db      *gorm.DB
	tables  Tables
	timeout time.Duration
}

func New(db *gorm.DB, tables Tables, timeout time.Duration) *DAO {
	return &DAO{
		db:      db,
		tables:  tables,
		timeout: timeout,
	}
}

// Recent returns at most RecentLimit eligible jobs belonging to userID,
// newest first.
func (d *DAO) Recent(ctx context.Context, userID string) ([]Job, error) {
	ctx, cancel := relaysql.WithTimeout(ctx, d.timeout)
	defer cancel()

	var rows []row
	err := d.db.WithContext(ctx).
		Table(d.tables.Jobs+" AS j").
		Select("j.id, j.title, j.company, j.url, j.location, j.eligible, j.found_keywords, j.created_at").
		Joins("JOIN "+d.tables.Searches+" AS s ON s.id = j.page_id").
		Joins("JOIN "+d.tables.Profiles+" AS p ON p.id = s.profile_id").
		Where("CAST(p.user_id AS TEXT) = ? AND j.eligible = ?", userID, true).
		Order("j.created_at DESC").
		Limit(RecentLimit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query recent jobs for user %v: %w", userID, err)
	}

	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		jobs = append(jobs, Job{
			ID:        r.ID,
			Title:     deref(r.Title),
			Company:   deref(r.Company),
			URL:       deref(r.URL),
			Location:  deref(r.Location),
			Eligible:  r.Eligible,
			Keywords:  SplitKeywords(deref(r.FoundKeywords)),
			CreatedAt: r.CreatedAt,
		})
	}
	return jobs, nil
}

// SplitKeywords turns the comma-separated keyword column into tags.
func SplitKeywords(s string) []string {
	keywords := []string{}
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
