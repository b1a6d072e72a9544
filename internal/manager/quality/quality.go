// Package quality assigns heuristic quality scores and content-type labels
// to documents. Both functions are pure so that reprocessing is idempotent.
package quality

import (
	"strings"

	"github.com/code-sleuth/fitkb-go/internal/manager/models"
)

// Scoring weights. Hand-tuned values carried over from the original
// heuristics; adjust only with product-owner review.
const (
	baseScore = 0.5

	// Optimal content length band.
	optimalLengthMin   = 200
	optimalLengthMax   = 2000
	goodLengthMax      = 5000
	optimalLengthBonus = 0.2
	goodLengthBonus    = 0.1

	// Domain keyword presence, capped.
	keywordBonusPer = 0.02
	keywordBonusCap = 0.1

	// Title keyword density, capped.
	titleKeywordBonusPer = 0.05
	titleKeywordBonusCap = 0.1

	// Source trust/engagement signals.
	wikipediaBonus        = 0.2
	redditUpvoteRatioMin  = 0.8
	redditUpvoteBonus     = 0.1
	redditScoreMin        = 50
	redditScoreBonus      = 0.1
	redditCommentsMin     = 20
	redditCommentsBonus   = 0.1
	curatedSubredditBonus = 0.1
)

// domainKeywords signal fitness-relevant content anywhere in the body.
var domainKeywords = []string{
	"exercise", "workout", "training", "muscle", "strength",
	"cardio", "nutrition", "protein", "calories", "form",
	"reps", "sets", "recovery", "hypertrophy", "mobility",
}

// curatedSubreddits is the allowlist of consistently high quality communities.
var curatedSubreddits = map[string]bool{
	"fitness":           true,
	"bodyweightfitness": true,
	"weightroom":        true,
	"strength_training": true,
	"advancedfitness":   true,
	"exercisescience":   true,
}

// classificationOrder is significant: keywords from multiple categories can
// co-occur in one document and the first matching category wins.
var classificationOrder = []struct {
	contentType models.ContentType
	keywords    []string
}{
	{models.ContentTypeExercise, []string{
		"exercise", "movement", "lift", "squat", "deadlift", "bench press",
		"pull-up", "push-up", "rep", "form check",
	}},
	{models.ContentTypeRoutine, []string{
		"routine", "program", "split", "schedule", "plan", "ppl",
		"full body", "upper lower", "5x5",
	}},
	{models.ContentTypeNutrition, []string{
		"nutrition", "diet", "protein", "calorie", "macro", "meal",
		"supplement", "cutting", "bulking",
	}},
	{models.ContentTypeScience, []string{
		"study", "research", "meta-analysis", "evidence", "journal",
		"physiology", "hypertrophy",
	}},
	{models.ContentTypeGuide, []string{
		"guide", "how to", "tutorial", "beginner", "faq", "wiki",
		"explained",
	}},
}

// Score assigns a quality score in [0,1] from content length, keyword
// presence, and source signals. Same document in, same score out.
func Score(doc *models.Document) float64 {
	score := baseScore
	content := strings.ToLower(doc.Content)
	title := strings.ToLower(doc.Title)

	// Content length band.
	switch n := len(doc.Content); {
	case n >= optimalLengthMin && n <= optimalLengthMax:
		score += optimalLengthBonus
	case n > optimalLengthMax && n <= goodLengthMax:
		score += goodLengthBonus
	}

	// Domain keyword presence, bounded.
	var keywordBonus, titleBonus float64
	for _, keyword := range domainKeywords {
		if strings.Contains(content, keyword) {
			keywordBonus += keywordBonusPer
		}
		if strings.Contains(title, keyword) {
			titleBonus += titleKeywordBonusPer
		}
	}
	if keywordBonus > keywordBonusCap {
		keywordBonus = keywordBonusCap
	}
	if titleBonus > titleKeywordBonusCap {
		titleBonus = titleKeywordBonusCap
	}
	score += keywordBonus + titleBonus

	// Source signals.
	switch doc.Source {
	case models.SourceWikipedia:
		score += wikipediaBonus
	case models.SourceReddit:
		score += redditSignals(doc.Metadata)
	}

	return clamp01(score)
}

// redditSignals sums the engagement bonuses from a reddit post's metadata.
func redditSignals(metadata map[string]interface{}) float64 {
	var bonus float64
	if ratio, ok := toFloat(metadata["upvote_ratio"]); ok && ratio > redditUpvoteRatioMin {
		bonus += redditUpvoteBonus
	}
	if score, ok := toFloat(metadata["score"]); ok && score > redditScoreMin {
		bonus += redditScoreBonus
	}
	if comments, ok := toFloat(metadata["num_comments"]); ok && comments > redditCommentsMin {
		bonus += redditCommentsBonus
	}
	if subreddit, ok := metadata["subreddit"].(string); ok {
		if curatedSubreddits[strings.ToLower(subreddit)] {
			bonus += curatedSubredditBonus
		}
	}
	return bonus
}

// Classify labels a document with the first matching content type.
// Falls back to discussion when nothing matches.
func Classify(doc *models.Document) models.ContentType {
	text := strings.ToLower(doc.Title + " " + doc.Content)
	for _, candidate := range classificationOrder {
		for _, keyword := range candidate.keywords {
			if strings.Contains(text, keyword) {
				return candidate.contentType
			}
		}
	}
	return models.ContentTypeDiscussion
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// toFloat widens the numeric representations that survive a trip through
// JSON metadata.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
