package flywheel

import (
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// OverridePair is one analyst correction: the suggested sector mapping
// versus the final one, with the source text for retrieval.
type OverridePair struct {
	ID              uuid.UUID `json:"id"`
	EngagementID    uuid.UUID `json:"engagement_id"`
	LineItemText    string    `json:"line_item_text"`
	SuggestedSector string    `json:"suggested_sector"`
	FinalSector     string    `json:"final_sector"`
	ProjectType     string    `json:"project_type,omitempty"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// WasCorrect reports whether the suggestion was accepted unchanged.
func (p OverridePair) WasCorrect() bool { return p.SuggestedSector == p.FinalSector }

// AccuracyMetrics summarizes suggestion quality.
type AccuracyMetrics struct {
	Total     int
	Correct   int
	Incorrect int
}

// Accuracy is the correct fraction, zero when nothing was recorded.
func (m AccuracyMetrics) Accuracy() float64 {
	if m.Total == 0 {
		return 0
	}
	return float64(m.Correct) / float64(m.Total)
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "for": {},
	"in": {}, "to": {}, "on": {}, "with": {}, "at": {}, "by": {}, "from": {},
	"is": {}, "are": {}, "was": {}, "were": {},
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		var b strings.Builder
		for _, r := range w {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		cleaned := b.String()
		if len(cleaned) <= 1 {
			continue
		}
		if _, stop := stopWords[cleaned]; stop {
			continue
		}
		out[cleaned] = struct{}{}
	}
	return out
}

// LearningLoop records analyst overrides and turns them into library
// improvements: confidence updates on existing patterns and new
// patterns extracted from repeated corrections.
type LearningLoop struct {
	mu        sync.RWMutex
	overrides []OverridePair
	tokens    []map[string]struct{}
}

// NewLearningLoop builds an empty loop.
func NewLearningLoop() *LearningLoop { return &LearningLoop{} }

// Record stores one override pair.
func (l *LearningLoop) Record(pair OverridePair) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides = append(l.overrides, pair)
	l.tokens = append(l.tokens, tokenize(pair.LineItemText))
}

// Overrides returns the pairs recorded at or after since; a zero time
// returns everything.
func (l *LearningLoop) Overrides(since time.Time) []OverridePair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]OverridePair, 0, len(l.overrides))
	for _, p := range l.overrides {
		if since.IsZero() || !p.RecordedAt.Before(since) {
			out = append(out, p)
		}
	}
	return out
}

// RelevantExamples returns the top-k recorded overrides whose source
// text best overlaps the query, boosted for a matching project type.
func (l *LearningLoop) RelevantExamples(text string, topK int, projectType string) []OverridePair {
	query := tokenize(text)
	if len(query) == 0 {
		return nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	type scored struct {
		pair  OverridePair
		score float64
	}
	var hits []scored
	for i, p := range l.overrides {
		pairTokens := l.tokens[i]
		if len(pairTokens) == 0 {
			continue
		}
		matched := 0
		for t := range query {
			if _, ok := pairTokens[t]; ok {
				matched++
			}
		}
		score := float64(matched) / float64(len(pairTokens))
		if projectType != "" && p.ProjectType == projectType {
			score += 0.2
		}
		if score > 0 {
			hits = append(hits, scored{pair: p, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]OverridePair, len(hits))
	for i, h := range hits {
		out[i] = h.pair
	}
	return out
}

// Accuracy computes suggestion accuracy over all recorded overrides.
func (l *LearningLoop) Accuracy() AccuracyMetrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	m := AccuracyMetrics{Total: len(l.overrides)}
	for _, p := range l.overrides {
		if p.WasCorrect() {
			m.Correct++
		}
	}
	m.Incorrect = m.Total - m.Correct
	return m
}

// AccuracyBySector breaks accuracy down by the suggested sector.
func (l *LearningLoop) AccuracyBySector() map[string]AccuracyMetrics {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]AccuracyMetrics)
	for _, p := range l.overrides {
		m := out[p.SuggestedSector]
		m.Total++
		if p.WasCorrect() {
			m.Correct++
		} else {
			m.Incorrect++
		}
		out[p.SuggestedSector] = m
	}
	return out
}

// ExtractNewPatterns finds corrections repeated at least minFrequency
// times for the same final sector and proposes them as new library
// entries, skipping pattern+sector pairs the library already has.
// Confidence is the fraction of correct suggestions in the group.
func (l *LearningLoop) ExtractNewPatterns(overrides []OverridePair, existing []MappingEntry, minFrequency int) []MappingEntry {
	if len(overrides) == 0 {
		return nil
	}
	if minFrequency < 1 {
		minFrequency = 2
	}
	existingKeys := make(map[[2]string]struct{}, len(existing))
	for _, e := range existing {
		existingKeys[[2]string{e.Pattern, e.SectorCode}] = struct{}{}
	}

	bySector := make(map[string][]OverridePair)
	var sectors []string
	for _, p := range overrides {
		if _, seen := bySector[p.FinalSector]; !seen {
			sectors = append(sectors, p.FinalSector)
		}
		bySector[p.FinalSector] = append(bySector[p.FinalSector], p)
	}
	sort.Strings(sectors)

	var out []MappingEntry
	for _, sector := range sectors {
		group := bySector[sector]
		if len(group) < minFrequency {
			continue
		}
		counts := make(map[string]int)
		pattern, best := "", 0
		for _, p := range group {
			counts[p.LineItemText]++
			if counts[p.LineItemText] > best {
				best = counts[p.LineItemText]
				pattern = p.LineItemText
			}
		}
		if _, dup := existingKeys[[2]string{pattern, sector}]; dup {
			continue
		}
		correct := 0
		for _, p := range group {
			if p.WasCorrect() {
				correct++
			}
		}
		out = append(out, MappingEntry{
			ID:         uuid.New(),
			Pattern:    pattern,
			SectorCode: sector,
			Confidence: float64(correct) / float64(len(group)),
			CreatedAt:  time.Now().UTC(),
		})
	}
	return out
}

// UpdateConfidenceScores blends each existing entry's confidence with
// the observed accuracy of suggestions into its sector:
// new = (old + accuracy) / 2. Entries with no relevant overrides keep
// their confidence. The input slice is not modified.
func (l *LearningLoop) UpdateConfidenceScores(overrides []OverridePair, entries []MappingEntry) []MappingEntry {
	bySuggested := make(map[string][]OverridePair)
	for _, p := range overrides {
		bySuggested[p.SuggestedSector] = append(bySuggested[p.SuggestedSector], p)
	}
	out := make([]MappingEntry, len(entries))
	for i, e := range entries {
		out[i] = e
		relevant := bySuggested[e.SectorCode]
		if len(relevant) == 0 {
			continue
		}
		correct := 0
		for _, p := range relevant {
			if p.WasCorrect() {
				correct++
			}
		}
		accuracy := float64(correct) / float64(len(relevant))
		out[i].Confidence = (e.Confidence + accuracy) / 2
	}
	return out
}
