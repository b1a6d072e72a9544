package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"
	"github.com/code-sleuth/fitkb-go/pkg/util"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// HTTP client timeout in seconds.
	defaultRedditHTTPTimeout = 30
	// Reddit caps listing responses at 100 items per call.
	redditPageCeiling = 100
	// Minimum spacing between Reddit API calls.
	redditRequestInterval = time.Second

	defaultRedditUserAgent = "fitkb-go/1.0 (knowledge base ingestion)"
	defaultTimeWindow      = "month"
)

var (
	ErrNoSubredditsConfigured = errors.New("no subreddits configured")
	ErrRedditStatusCode       = errors.New("unexpected status code from reddit")
	ErrNotRedditRecord        = errors.New("record is not a reddit record")
)

// defaultSubreddits are the fitness communities ingested when none are
// configured explicitly.
var defaultSubreddits = []string{
	"fitness",
	"bodyweightfitness",
	"weightroom",
	"nutrition",
	"running",
}

// RedditSource fetches top posts from a set of subreddits.
type RedditSource struct {
	client     *http.Client
	userAgent  string
	subreddits []string
	timeWindow string
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// redditListing mirrors the subset of the Reddit listing payload we consume.
type redditListing struct {
	Data struct {
		Children []struct {
			Data map[string]interface{} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// NewRedditSource creates a Reddit source for the given subreddits.
// Passing no subreddits selects the default fitness communities.
func NewRedditSource(subreddits ...string) *RedditSource {
	logger := util.NewLogger(zerolog.InfoLevel)
	if len(subreddits) == 0 {
		subreddits = defaultSubreddits
	}

	userAgent := os.Getenv("REDDIT_USER_AGENT")
	if userAgent == "" {
		userAgent = defaultRedditUserAgent
	}

	return &RedditSource{
		client: &http.Client{
			Timeout: defaultRedditHTTPTimeout * time.Second,
		},
		userAgent:  userAgent,
		subreddits: subreddits,
		timeWindow: defaultTimeWindow,
		limiter:    rate.NewLimiter(rate.Every(redditRequestInterval), 1),
		logger:     logger,
	}
}

// Name returns the source type this implementation handles.
func (r *RedditSource) Name() models.SourceType {
	return models.SourceReddit
}

// SetTimeWindow sets the listing time window (hour, day, week, month, year, all).
func (r *RedditSource) SetTimeWindow(window string) {
	r.timeWindow = window
}

// Fetch retrieves at most limit top posts across the configured subreddits.
// A failure on one subreddit is logged and the fetch continues with the next.
func (r *RedditSource) Fetch(ctx context.Context, limit int) ([]models.RawRecord, error) {
	if len(r.subreddits) == 0 {
		return nil, ErrNoSubredditsConfigured
	}

	var records []models.RawRecord
	for _, subreddit := range r.subreddits {
		if len(records) >= limit {
			break
		}

		remaining := limit - len(records)
		perCall := remaining
		if perCall > redditPageCeiling {
			perCall = redditPageCeiling
		}

		posts, err := r.fetchSubreddit(ctx, subreddit, perCall)
		if err != nil {
			r.logger.Error().Err(err).Str("subreddit", subreddit).Msg("subreddit fetch failed, continuing")
			continue
		}

		records = append(records, posts...)
		r.logger.Info().Str("subreddit", subreddit).Int("posts", len(posts)).Msg("fetched subreddit")
	}

	return records, nil
}

// fetchSubreddit retrieves one subreddit's top listing after the rate-limit wait.
func (r *RedditSource) fetchSubreddit(ctx context.Context, subreddit string, limit int) ([]models.RawRecord, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("https://www.reddit.com/r/%s/top.json?limit=%d&t=%s",
		subreddit, limit, r.timeWindow)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to create request")
		return nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Error().Err(err).Msg("request failed")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		r.logger.Error().Int("status_code", resp.StatusCode).Str("subreddit", subreddit).
			Msg("unexpected status code")
		return nil, fmt.Errorf("%w: %d", ErrRedditStatusCode, resp.StatusCode)
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		r.logger.Error().Err(err).Msg("failed to decode listing")
		return nil, err
	}

	records := make([]models.RawRecord, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		id, _ := child.Data["id"].(string)
		if id == "" {
			continue
		}
		records = append(records, models.RawRecord{
			SourceID: id,
			Source:   models.SourceReddit,
			Fields:   child.Data,
		})
	}

	return records, nil
}

// ToDocument normalizes a Reddit post into a document. Returns nil for posts
// that fail validity checks (deleted/removed text, NSFW, length bounds).
func (r *RedditSource) ToDocument(record models.RawRecord) (*models.Document, error) {
	if record.Source != models.SourceReddit {
		return nil, ErrNotRedditRecord
	}

	title, _ := record.Fields["title"].(string)
	selftext, _ := record.Fields["selftext"].(string)
	selftext = strings.TrimSpace(selftext)

	if selftext == "[deleted]" || selftext == "[removed]" {
		return nil, nil
	}
	if over18, _ := record.Fields["over_18"].(bool); over18 {
		return nil, nil
	}
	if !contentLengthOK(selftext) {
		return nil, nil
	}

	subreddit, _ := record.Fields["subreddit"].(string)
	permalink, _ := record.Fields["permalink"].(string)
	score, _ := record.Fields["score"].(float64)
	upvoteRatio, _ := record.Fields["upvote_ratio"].(float64)
	numComments, _ := record.Fields["num_comments"].(float64)

	tags := []string{strings.ToLower(subreddit)}
	if flair, ok := record.Fields["link_flair_text"].(string); ok && flair != "" {
		tags = append(tags, strings.ToLower(flair))
	}

	doc := &models.Document{
		ID:      fmt.Sprintf("reddit_%s", record.SourceID),
		Source:  models.SourceReddit,
		Title:   title,
		Content: selftext,
		URL:     "https://www.reddit.com" + permalink,
		// Title and body together identify a reddit post's content.
		ContentHash: ContentHash(title + "\n" + selftext),
		Tags:        dedupeTags(tags),
		Metadata: map[string]interface{}{
			"score":        int(score),
			"upvote_ratio": upvoteRatio,
			"num_comments": int(numComments),
			"subreddit":    subreddit,
		},
		CreatedAt: time.Now().UTC(),
	}

	return doc, nil
}

// dedupeTags lower-cases tags and removes duplicates and empties,
// preserving first-seen order.
func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
