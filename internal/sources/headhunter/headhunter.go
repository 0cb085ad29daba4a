// Package headhunter searches hh.ru vacancies.
package headhunter

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/listing"
	"github.com/spigell/job-radar/internal/logger"
)

const (
	Name      = "headhunter"
	apiURL    = "https://api.hh.ru"
	userAgent = "spigell/job-radar (spigelly@gmail.com)"
	// Max value for search per page.
	maxPerPage = 100
	pageDelay  = 200 * time.Millisecond
)

type Config struct {
	// Token is optional. Anonymous search works with stricter rate limits.
	Token string
	// Areas are hh.ru region ids used when the location is empty.
	Areas      []int
	Schedules  []string
	Experience string
	Period     uint
}

type Client struct {
	token      string
	cfg        Config
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	PageDelay  time.Duration
}

func New(cfg Config, log *zap.Logger) *Client {
	return &Client{
		token:  cfg.Token,
		cfg:    cfg,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger.OrNop(log),
		UserAgent: userAgent,
		PageDelay: pageDelay,
	}
}

func (c *Client) Name() string { return Name }

func (c *Client) Fetch(ctx context.Context, query, location string, maxResults int) ([]listing.Listing, error) {
	params := &SearchParams{
		Text:       query,
		Areas:      c.cfg.Areas,
		Schedules:  c.cfg.Schedules,
		Experience: c.cfg.Experience,
		Period:     c.cfg.Period,
		OrderBy:    "publication_time",
	}
	if maxResults > 0 && maxResults < maxPerPage {
		params.PerPage = strconv.Itoa(maxResults)
	}

	// hh.ru areas are numeric ids; a free-text location narrows the text query instead.
	if location != "" && len(params.Areas) == 0 {
		params.Text = fmt.Sprintf("%s %s", query, location)
	}

	vacancies, err := c.search(ctx, params, maxResults)

	items := vacancies.ToListings()
	if maxResults > 0 && len(items) > maxResults {
		items = items[:maxResults]
	}
	if err != nil {
		return items, fmt.Errorf("headhunter search: %w", err)
	}

	c.logger.Info("fetched vacancies from hh.ru",
		zap.String("query", query),
		zap.Int("count", len(items)))
	return items, nil
}
