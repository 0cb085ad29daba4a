// Package adzuna fetches job offers from the Adzuna public API.
package adzuna

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/logger"
	"github.com/spigell/job-radar/internal/utils"
)

const (
	Name           = "adzuna"
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaMaxPages = 3
	httpTimeout    = 15 * time.Second
	defaultCountry = "us"
)

// Fetcher returns (nil, nil) when credentials are missing so the run carries on without it.
type Fetcher struct {
	AppID   string
	AppKey  string
	Country string
	BaseURL string
	client  *http.Client
	logger  *zap.Logger
}

func New(appID, appKey, country string, log *zap.Logger) *Fetcher {
	if country == "" {
		country = defaultCountry
	}
	return &Fetcher{
		AppID:   appID,
		AppKey:  appKey,
		Country: strings.ToLower(country),
		BaseURL: adzunaBaseURL,
		client:  &http.Client{Timeout: httpTimeout},
		logger:  logger.OrNop(log),
	}
}

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Company      adzunaName     `json:"company"`
	Location     adzunaName     `json:"location"`
	SalaryMin    float64        `json:"salary_min"`
	SalaryMax    float64        `json:"salary_max"`
	RedirectURL  string         `json:"redirect_url"`
	Created      string         `json:"created"`
	ContractTime string         `json:"contract_time"`
	ContractType string         `json:"contract_type"`
	Category     adzunaCategory `json:"category"`
}

type adzunaName struct {
	DisplayName string `json:"display_name"`
}

type adzunaCategory struct {
	Label string `json:"label"`
}

func (f *Fetcher) Name() string { return Name }

// Fetch iterates pages until a short page, maxResults or adzunaMaxPages.
func (f *Fetcher) Fetch(ctx context.Context, query, location string, maxResults int) ([]listing.Listing, error) {
	if f.AppID == "" || f.AppKey == "" {
		f.logger.Warn("adzuna credentials not set, skipping source")
		return nil, nil
	}

	var results []listing.Listing

	for page := 1; page <= adzunaMaxPages; page++ {
		batch, err := f.fetchPage(ctx, query, location, page)
		if err != nil {
			return results, fmt.Errorf("page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		results = append(results, batch...)
		if maxResults > 0 && len(results) >= maxResults {
			results = results[:maxResults]
			break
		}
		if len(batch) < adzunaPageSize {
			break
		}
	}

	f.logger.Info("fetched jobs from adzuna", zap.String("query", query), zap.Int("count", len(results)))
	return results, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, query, location string, page int) ([]listing.Listing, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", f.BaseURL, f.Country, page)

	params := url.Values{}
	params.Set("app_id", f.AppID)
	params.Set("app_key", f.AppKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", query)
	if location != "" {
		params.Set("where", location)
	}
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("adzuna returned %d: %s", resp.StatusCode, utils.TruncateForLog(string(body), 200))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}

	out := make([]listing.Listing, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		if r.Title == "" || r.Company.DisplayName == "" {
			continue
		}
		out = append(out, r.toListing())
	}
	return out, nil
}

func (r adzunaResult) toListing() listing.Listing {
	text := strings.ToLower(r.Title + " " + r.Location.DisplayName + " " + r.Description)
	return listing.Listing{
		Title:       r.Title,
		Company:     r.Company.DisplayName,
		URL:         r.RedirectURL,
		Location:    r.Location.DisplayName,
		Description: r.Description,
		Salary:      salaryRange(r.SalaryMin, r.SalaryMax),
		Source:      Name,
		PostedDate:  r.Created,
		JobType:     strings.TrimSpace(strings.ReplaceAll(r.ContractTime+" "+r.ContractType, "_", " ")),
		Remote:      strings.Contains(text, "remote"),
	}
}

func salaryRange(lo, hi float64) string {
	switch {
	case lo > 0 && hi > 0 && lo != hi:
		return fmt.Sprintf("%.0f-%.0f", lo, hi)
	case lo > 0:
		return fmt.Sprintf("%.0f", lo)
	case hi > 0:
		return fmt.Sprintf("%.0f", hi)
	default:
		return ""
	}
}
