// Package relevance scores content blocks against keywords and prunes
// low-signal content. Pure functions of their inputs: no page access, no
// hidden state, so scoring is reproducible and testable offline.
package relevance

import (
	"math"
	"sort"
	"strings"

	"ferret/internal/dom"
)

// Scored pairs a block with its relevance score.
type Scored struct {
	dom.Block
	Score float64 `json:"relevance_score"`
}

// Structural salience: headings, tables and list items carry more signal
// per character than generic containers.
var tagWeights = map[string]float64{
	"h1": 0.45, "h2": 0.4, "h3": 0.35,
	"table": 0.35,
	"li":    0.25, "ul": 0.25, "ol": 0.25,
	"article": 0.15, "main": 0.15,
}

// Score rates one block: keyword density plus length shaping plus
// structural salience. Very short blocks are noise; very long blocks are
// usually unsplit containers.
func Score(b dom.Block, keywords []string) float64 {
	text := strings.ToLower(b.Text)
	if text == "" {
		return 0
	}

	score := math.Min(float64(len(text))/500.0, 1.2)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			score += 0.6
		}
	}

	words := strings.Count(text, " ")
	if words < 4 {
		score -= 0.3
	}
	if len(text) > 4000 {
		score -= 0.2
	}

	score += tagWeights[strings.ToLower(b.Tag)]

	if score < 0 {
		return 0
	}
	return round3(score)
}

// Filter drops blocks scoring below minScore, keeps at most maxItems by
// descending score (document order breaking ties), and returns survivors
// in original document order.
func Filter(blocks []dom.Block, keywords []string, minScore float64, maxItems int) []Scored {
	if maxItems <= 0 {
		maxItems = 25
	}
	norm := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.Join(strings.Fields(kw), " "))
		if kw != "" {
			norm = append(norm, kw)
		}
	}

	var survivors []Scored
	for _, b := range blocks {
		s := Score(b, norm)
		if s < minScore {
			continue
		}
		survivors = append(survivors, Scored{Block: b, Score: s})
	}

	if len(survivors) > maxItems {
		sort.SliceStable(survivors, func(i, j int) bool {
			if survivors[i].Score != survivors[j].Score {
				return survivors[i].Score > survivors[j].Score
			}
			return survivors[i].Index < survivors[j].Index
		})
		survivors = survivors[:maxItems]
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Index < survivors[j].Index
	})
	return survivors
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
