// Package serpapi fetches Google Jobs results through SerpAPI.
package serpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/logger"
)

const (
	Name            = "serpapi"
	defaultEndpoint = "https://serpapi.com/search.json"
	engine          = "google_jobs"
	// SerpAPI pages Google Jobs in groups of 10.
	pageSize        = 10
	httpTimeout     = 30 * time.Second
	defaultLocation = "United States"
)

type Client struct {
	apiKey   string
	Endpoint string
	client   *http.Client
	logger   *zap.Logger
}

func New(apiKey string, log *zap.Logger) *Client {
	return &Client{
		apiKey:   apiKey,
		Endpoint: defaultEndpoint,
		client:   &http.Client{Timeout: httpTimeout},
		logger:   logger.OrNop(log),
	}
}

type job struct {
	Title              string     `mapstructure:"title"`
	CompanyName        string     `mapstructure:"company_name"`
	Location           string     `mapstructure:"location"`
	Description        string     `mapstructure:"description"`
	ApplyOptions       []link     `mapstructure:"apply_options"`
	RelatedLinks       []link     `mapstructure:"related_links"`
	DetectedExtensions extensions `mapstructure:"detected_extensions"`
}

type link struct {
	Link string `mapstructure:"link"`
}

type extensions struct {
	Salary       string `mapstructure:"salary"`
	ScheduleType string `mapstructure:"schedule_type"`
	PostedAt     string `mapstructure:"posted_at"`
}

func (c *Client) Name() string { return Name }

// Fetch returns (nil, nil) without an API key.
func (c *Client) Fetch(ctx context.Context, query, location string, maxResults int) ([]listing.Listing, error) {
	if c.apiKey == "" {
		c.logger.Warn("serpapi key not configured, skipping google jobs source")
		return nil, nil
	}
	if location == "" {
		location = defaultLocation
	}

	var jobs []listing.Listing
	for start := 0; maxResults <= 0 || len(jobs) < maxResults; start += pageSize {
		page, err := c.fetchPage(ctx, query, location, start)
		if err != nil {
			return capped(jobs, maxResults), fmt.Errorf("serpapi start=%d: %w", start, err)
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if l, ok := page[i].toListing(); ok {
				jobs = append(jobs, l)
			}
		}

		if len(page) < pageSize {
			break
		}
	}

	jobs = capped(jobs, maxResults)
	c.logger.Info("fetched jobs from serpapi", zap.String("query", query), zap.Int("count", len(jobs)))
	return jobs, nil
}

func (c *Client) fetchPage(ctx context.Context, query, location string, start int) ([]job, error) {
	params := url.Values{}
	params.Set("engine", engine)
	params.Set("q", query)
	params.Set("location", location)
	params.Set("api_key", c.apiKey)
	if start > 0 {
		params.Set("start", strconv.Itoa(start))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode response (status %s): %w", resp.Status, err)
	}

	if msg, ok := raw["error"].(string); ok && msg != "" {
		// SerpAPI reports an exhausted result set as an error on later pages.
		if start > 0 && strings.Contains(strings.ToLower(msg), "hasn't returned any results") {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi error: %s", msg)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var jobs []job
	if err := mapstructure.Decode(raw["jobs_results"], &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs_results: %w", err)
	}
	return jobs, nil
}

func (j *job) toListing() (listing.Listing, bool) {
	if j.Title == "" || j.CompanyName == "" {
		return listing.Listing{}, false
	}

	return listing.Listing{
		Title:       j.Title,
		Company:     j.CompanyName,
		URL:         j.url(),
		Location:    j.Location,
		Description: j.Description,
		Salary:      j.DetectedExtensions.Salary,
		Source:      Name,
		PostedDate:  j.DetectedExtensions.PostedAt,
		JobType:     j.DetectedExtensions.ScheduleType,
		Remote:      strings.Contains(strings.ToLower(j.Location+j.Title+j.Description), "remote"),
	}, true
}

// url prefers the first apply option, then the first related link, then a Google search for the role.
func (j *job) url() string {
	if len(j.ApplyOptions) > 0 && j.ApplyOptions[0].Link != "" {
		return j.ApplyOptions[0].Link
	}
	if len(j.RelatedLinks) > 0 && j.RelatedLinks[0].Link != "" {
		return j.RelatedLinks[0].Link
	}
	return "https://www.google.com/search?q=" + url.QueryEscape(j.Title+" "+j.CompanyName+" jobs")
}

func capped(items []listing.Listing, limit int) []listing.Listing {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
