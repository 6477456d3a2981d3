// Package ranker scores and orders raw search hits. Ranking is a pure
// function of its inputs: the same matches always produce the same
// order.
package ranker

import (
	"sort"
	"strings"
	"unicode"

	"github.com/starford/notebridge/internal/models"
)

// Component scores.
const (
	ScoreExactTitle = 1.0
	ScoreTitle      = 0.8
	ScoreBody       = 0.5
	ScoreTag        = 0.3
	// ComboBonus is added per matched field beyond the strongest.
	ComboBonus = 0.1
	// ScoreUndetected applies when upstream matched but no field
	// contains the query verbatim (stemming, fuzzy matching).
	ScoreUndetected = 0.1
	// MaxUndetected caps an upstream relevance used for such hits.
	MaxUndetected = 0.25
)

// Rank scores matches against query and returns at most limit results,
// best first. Duplicate note ids are merged. A limit <= 0 means no cap.
func Rank(query string, matches []models.SearchMatch, limit int) []models.RankedResult {
	q := normalize(query)
	merged := mergeByID(matches)

	results := make([]models.RankedResult, 0, len(merged))
	for _, m := range merged {
		score, kind := Score(q, m)
		results = append(results, models.RankedResult{
			NoteID:      m.NoteID,
			Title:       m.Title,
			Snippet:     Snippet(m.Body, q),
			Score:       score,
			MatchType:   kind,
			UpdatedTime: m.UpdatedTime,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.UpdatedTime.Equal(b.UpdatedTime) {
			return a.UpdatedTime.After(b.UpdatedTime)
		}
		return a.NoteID < b.NoteID
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Score returns a match's score in [0, 1] and its classification. The
// query must already be normalized. A field counts as matched when it
// contains the query or when upstream flagged it.
func Score(q string, m models.SearchMatch) (float64, models.MatchType) {
	lq := lower(q)
	title := lower(strings.TrimSpace(m.Title))

	var (
		best    float64
		matched int
		kind    models.MatchType
	)
	hit := func(score float64, k models.MatchType) {
		matched++
		kind = k
		if score > best {
			best = score
		}
	}

	switch {
	case lq != "" && title == lq:
		hit(ScoreExactTitle, models.MatchTitle)
	case lq != "" && strings.Contains(title, lq), m.Fields.Title:
		hit(ScoreTitle, models.MatchTitle)
	}
	if m.Fields.Body || (lq != "" && strings.Contains(lower(m.Body), lq)) {
		hit(ScoreBody, models.MatchBody)
	}
	if m.Fields.Tag || (lq != "" && hasTag(m.Tags, lq)) {
		hit(ScoreTag, models.MatchTags)
	}

	switch matched {
	case 0:
		s := ScoreUndetected
		if m.Relevance != nil {
			s = clamp(*m.Relevance, 0, MaxUndetected)
		}
		return s, models.MatchBody
	case 1:
		return best, kind
	default:
		return clamp(best+ComboBonus*float64(matched-1), 0, 1), models.MatchMixed
	}
}

func hasTag(tags []string, lq string) bool {
	for _, t := range tags {
		if lower(strings.TrimSpace(t)) == lq {
			return true
		}
	}
	return false
}

func mergeByID(matches []models.SearchMatch) []models.SearchMatch {
	index := make(map[string]int, len(matches))
	out := make([]models.SearchMatch, 0, len(matches))
	for _, m := range matches {
		i, seen := index[m.NoteID]
		if !seen {
			index[m.NoteID] = len(out)
			m.Tags = append([]string(nil), m.Tags...)
			out = append(out, m)
			continue
		}
		dst := &out[i]
		dst.Fields.Title = dst.Fields.Title || m.Fields.Title
		dst.Fields.Body = dst.Fields.Body || m.Fields.Body
		dst.Fields.Tag = dst.Fields.Tag || m.Fields.Tag
		if dst.Body == "" {
			dst.Body = m.Body
		}
		if dst.Title == "" {
			dst.Title = m.Title
		}
		if m.UpdatedTime.After(dst.UpdatedTime) {
			dst.UpdatedTime = m.UpdatedTime
		}
		if m.Relevance != nil && (dst.Relevance == nil || *m.Relevance > *dst.Relevance) {
			dst.Relevance = m.Relevance
		}
		dst.Tags = append(dst.Tags, m.Tags...)
	}
	return out
}

// normalize trims the query and collapses internal whitespace.
func normalize(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

// lower folds case rune by rune, so the result has the same rune count
// as s.
func lower(s string) string {
	return strings.Map(unicode.ToLower, s)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
