package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	// scrapeUserAgent mimics a browser; many sites block obvious bots
	scrapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	// maxPageBytes caps how much of a page is read
	maxPageBytes = 4 << 20

	cacheSize = 256
	cacheTTL  = 15 * time.Minute
)

// Scraper fetches web pages and extracts their readable text. Results are
// cached briefly so a user retrying a generation does not re-fetch the
// same page.
type Scraper struct {
	client *http.Client
	cache  *expirable.LRU[string, *Content]
	logger *logrus.Logger
}

// NewScraper creates a caching page scraper
func NewScraper(logger *logrus.Logger) *Scraper {
	return &Scraper{
		client: &http.Client{Timeout: 20 * time.Second},
		cache:  expirable.NewLRU[string, *Content](cacheSize, nil, cacheTTL),
		logger: logger,
	}
}

// Scrape fetches one URL and extracts its content
func (s *Scraper) Scrape(ctx context.Context, url string) (*Content, error) {
	if content, ok := s.cache.Get(url); ok {
		s.logger.WithField("url", url).Debug("Scrape cache hit")
		return content, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("User-Agent", scrapeUserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	content, err := FromHTML(io.LimitReader(resp.Body, maxPageBytes), url)
	if err != nil {
		return nil, err
	}

	s.cache.Add(url, content)
	return content, nil
}
