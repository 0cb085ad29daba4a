package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Listing is one job posting observed from one provider at one point in time.
// Only Score and Reason are written after construction, once, by the scoring engine.
type Listing struct {
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	URL         string    `json:"url"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Salary      string    `json:"salary,omitempty"`
	Source      string    `json:"source,omitempty"`
	PostedDate  string    `json:"posted_date,omitempty"`
	JobType     string    `json:"job_type,omitempty"`
	Remote      bool      `json:"remote,omitempty"`
	Score       float64   `json:"score"`
	Reason      string    `json:"reason,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Identity returns the deduplication key of a (title, company, url) triple:
// hex SHA-256 over the lower-cased, trimmed, pipe-joined fields.
func Identity(title, company, url string) string {
	raw := normalize(title) + "|" + normalize(company) + "|" + normalize(url)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ID is the listing identity. It ignores every field except title, company and url.
func (l *Listing) ID() string {
	return Identity(l.Title, l.Company, l.URL)
}

// PairKey is the normalized (title, company) pair used to collapse the same role
// exposed by several providers under different URLs.
func (l *Listing) PairKey() string {
	return normalize(l.Title) + "|" + normalize(l.Company)
}

// Text is the lower-cased title and description the keyword strategy works on.
func (l *Listing) Text() string {
	return strings.ToLower(l.Title + " " + l.Description)
}

// IDs returns the identities of the given listings in order.
func IDs(items []Listing) []string {
	ids := make([]string, 0, len(items))
	for i := range items {
		ids = append(ids, items[i].ID())
	}
	return ids
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
