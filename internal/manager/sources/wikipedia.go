package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// HTTP client timeout in seconds.
	defaultWikiHTTPTimeout = 30
	// Minimum spacing between Wikipedia API calls.
	wikiRequestInterval = 500 * time.Millisecond
	// Wikipedia search results per term.
	wikiSearchLimit = 10

	wikiAPIEndpoint = "https://en.wikipedia.org/w/api.php"
)

var (
	ErrNoSearchTermsConfigured = errors.New("no search terms configured")
	ErrWikiStatusCode          = errors.New("unexpected status code from wikipedia")
	ErrNotWikipediaRecord      = errors.New("record is not a wikipedia record")
)

// defaultSearchTerms are the topics ingested when none are configured.
var defaultSearchTerms = []string{
	"strength training",
	"bodybuilding",
	"sports nutrition",
	"aerobic exercise",
	"muscle hypertrophy",
}

var htmlTagPattern = regexp.MustCompile(`<[^>]+>`)

// WikipediaSource fetches article extracts for a set of search terms.
type WikipediaSource struct {
	client            *http.Client
	searchTerms       []string
	limiter           *rate.Limiter
	markdownConverter *md.Converter
	logger            zerolog.Logger
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			PageID  int    `json:"pageid"`
			Title   string `json:"title"`
			Snippet string `json:"snippet"`
		} `json:"search"`
	} `json:"query"`
}

type wikiExtractResponse struct {
	Query struct {
		Pages map[string]struct {
			PageID     int    `json:"pageid"`
			Title      string `json:"title"`
			Extract    string `json:"extract"`
			FullURL    string `json:"fullurl"`
			Categories []struct {
				Title string `json:"title"`
			} `json:"categories"`
		} `json:"pages"`
	} `json:"query"`
}

// NewWikipediaSource creates a Wikipedia source for the given search terms.
// Passing no terms selects the default fitness topics.
func NewWikipediaSource(searchTerms ...string) *WikipediaSource {
	logger := util.NewLogger(zerolog.InfoLevel)
	if len(searchTerms) == 0 {
		searchTerms = defaultSearchTerms
	}

	return &WikipediaSource{
		client: &http.Client{
			Timeout: defaultWikiHTTPTimeout * time.Second,
		},
		searchTerms:       searchTerms,
		limiter:           rate.NewLimiter(rate.Every(wikiRequestInterval), 1),
		markdownConverter: md.NewConverter("", true, nil),
		logger:            logger,
	}
}

// Name returns the source type this implementation handles.
func (w *WikipediaSource) Name() models.SourceType {
	return models.SourceWikipedia
}

// Fetch retrieves at most limit article extracts across the configured
// search terms. A failure on one term is logged and the fetch continues.
func (w *WikipediaSource) Fetch(ctx context.Context, limit int) ([]models.RawRecord, error) {
	if len(w.searchTerms) == 0 {
		return nil, ErrNoSearchTermsConfigured
	}

	var records []models.RawRecord
	seenPages := make(map[int]bool)

	for _, term := range w.searchTerms {
		if len(records) >= limit {
			break
		}

		results, err := w.search(ctx, term)
		if err != nil {
			w.logger.Error().Err(err).Str("term", term).Msg("search failed, continuing")
			continue
		}

		for _, result := range results {
			if len(records) >= limit {
				break
			}
			// The same article can match multiple search terms.
			if seenPages[result.pageID] {
				continue
			}
			seenPages[result.pageID] = true

			record, err := w.fetchExtract(ctx, result.pageID, result.snippet)
			if err != nil {
				w.logger.Error().Err(err).Int("page_id", result.pageID).Msg("extract fetch failed, continuing")
				continue
			}
			if record != nil {
				records = append(records, *record)
			}
		}

		w.logger.Info().Str("term", term).Int("results", len(results)).Msg("searched wikipedia")
	}

	return records, nil
}

type wikiSearchHit struct {
	pageID  int
	snippet string
}

// search runs a full-text search for one term after the rate-limit wait.
func (w *WikipediaSource) search(ctx context.Context, term string) ([]wikiSearchHit, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", term)
	params.Set("srlimit", fmt.Sprintf("%d", wikiSearchLimit))
	params.Set("format", "json")

	var response wikiSearchResponse
	if err := w.get(ctx, params, &response); err != nil {
		return nil, err
	}

	hits := make([]wikiSearchHit, 0, len(response.Query.Search))
	for _, result := range response.Query.Search {
		hits = append(hits, wikiSearchHit{pageID: result.PageID, snippet: result.Snippet})
	}
	return hits, nil
}

// fetchExtract retrieves one article's HTML extract and categories.
func (w *WikipediaSource) fetchExtract(ctx context.Context, pageID int, snippet string) (*models.RawRecord, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("prop", "extracts|categories|info")
	params.Set("pageids", fmt.Sprintf("%d", pageID))
	params.Set("inprop", "url")
	params.Set("format", "json")

	var response wikiExtractResponse
	if err := w.get(ctx, params, &response); err != nil {
		return nil, err
	}

	page, ok := response.Query.Pages[fmt.Sprintf("%d", pageID)]
	if !ok {
		return nil, nil
	}

	categories := make([]string, 0, len(page.Categories))
	for _, category := range page.Categories {
		categories = append(categories, category.Title)
	}

	return &models.RawRecord{
		SourceID: fmt.Sprintf("%d", page.PageID),
		Source:   models.SourceWikipedia,
		Fields: map[string]interface{}{
			"pageid":     page.PageID,
			"title":      page.Title,
			"extract":    page.Extract,
			"fullurl":    page.FullURL,
			"categories": categories,
			"snippet":    snippet,
		},
	}, nil
}

// get issues one GET against the Wikipedia API and decodes the JSON response.
func (w *WikipediaSource) get(ctx context.Context, params url.Values, out interface{}) error {
	reqURL := wikiAPIEndpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to create request")
		return err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		w.logger.Error().Err(err).Msg("request failed")
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.logger.Error().Int("status_code", resp.StatusCode).Msg("unexpected status code")
		return fmt.Errorf("%w: %d", ErrWikiStatusCode, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// ToDocument normalizes a Wikipedia extract into a document. The HTML extract
// is converted to markdown; the content hash covers the body alone.
func (w *WikipediaSource) ToDocument(record models.RawRecord) (*models.Document, error) {
	if record.Source != models.SourceWikipedia {
		return nil, ErrNotWikipediaRecord
	}

	title, _ := record.Fields["title"].(string)
	extract, _ := record.Fields["extract"].(string)

	content, err := w.markdownConverter.ConvertString(extract)
	if err != nil {
		w.logger.Error().Err(err).Str("title", title).Msg("failed to convert extract")
		return nil, err
	}
	content = strings.TrimSpace(content)

	if !contentLengthOK(content) {
		return nil, nil
	}

	fullURL, _ := record.Fields["fullurl"].(string)
	categories, _ := record.Fields["categories"].([]string)

	tags := make([]string, 0, len(categories))
	for _, category := range categories {
		tags = append(tags, strings.TrimPrefix(strings.ToLower(category), "category:"))
	}

	var summary *string
	if snippet, ok := record.Fields["snippet"].(string); ok && snippet != "" {
		clean := strings.TrimSpace(htmlTagPattern.ReplaceAllString(snippet, ""))
		if clean != "" {
			summary = &clean
		}
	}

	doc := &models.Document{
		ID:          fmt.Sprintf("wikipedia_%s", record.SourceID),
		Source:      models.SourceWikipedia,
		Title:       title,
		Content:     content,
		Summary:     summary,
		URL:         fullURL,
		ContentHash: ContentHash(content),
		Tags:        dedupeTags(tags),
		Metadata: map[string]interface{}{
			"pageid":     record.Fields["pageid"],
			"categories": categories,
		},
		CreatedAt: time.Now().UTC(),
	}

	return doc, nil
}
