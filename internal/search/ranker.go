// Package search picks the most plausible match out of mixed-type search
// results and debounces keystroke-driven queries.
package search

import (
	"sort"

	"go.uber.org/zap"

	"trackdeck/pkg/fuzzy"
)

type CandidateType string

const (
	TypeTrack    CandidateType = "track"
	TypeAlbum    CandidateType = "album"
	TypeArtist   CandidateType = "artist"
	TypePlaylist CandidateType = "playlist"
)

// Candidate is one entry from a mixed search response. Playlists carry no
// popularity from the remote API; PopularityKnown marks that case so the
// ranker can substitute a neutral value instead of treating them as dead.
type Candidate struct {
	ID              string
	Name            string
	Type            CandidateType
	Popularity      int
	PopularityKnown bool
}

const (
	relevanceWeight  = 0.7
	popularityWeight = 0.3

	// Playlists expose no popularity; score them mid-range so a strong
	// name match can still win without popular noise drowning it out.
	neutralPopularity = 0.3

	trackBias = 0.05
	albumBias = 0.03
)

type Ranker struct {
	normalizer *fuzzy.Normalizer
	logger     *zap.Logger
}

func NewRanker(logger *zap.Logger) *Ranker {
	return &Ranker{
		normalizer: fuzzy.NewNormalizer(),
		logger:     logger,
	}
}

// Score combines name relevance against the query with normalized
// popularity and a small type bias favouring directly playable results.
func (r *Ranker) Score(candidate Candidate, query string) float64 {
	relevance := r.normalizer.Relevance(candidate.Name, query)

	popularity := neutralPopularity
	if candidate.PopularityKnown {
		popularity = float64(candidate.Popularity) / 100
		if popularity > 1 {
			popularity = 1
		}
	}

	score := relevance*relevanceWeight + popularity*popularityWeight

	switch candidate.Type {
	case TypeTrack:
		score += trackBias
	case TypeAlbum:
		score += albumBias
	}

	return score
}

// PickBest returns the highest-scoring candidate for the query. Ties keep
// the earlier candidate, so the outcome is deterministic for a fixed input
// order. Returns false when no candidates were given.
func (r *Ranker) PickBest(candidates []Candidate, query string) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}

	best := candidates[0]
	bestScore := r.Score(best, query)

	for _, candidate := range candidates[1:] {
		if score := r.Score(candidate, query); score > bestScore {
			best = candidate
			bestScore = score
		}
	}

	r.logger.Debug("Ranked search candidates",
		zap.String("query", query),
		zap.Int("candidates", len(candidates)),
		zap.String("best", best.Name),
		zap.String("type", string(best.Type)),
		zap.Float64("score", bestScore))

	return best, true
}

// Rank returns the candidates ordered by descending score. The sort is
// stable, so equally scored candidates keep their response order.
func (r *Ranker) Rank(candidates []Candidate, query string) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)

	scores := make(map[string]float64, len(ranked))
	for _, candidate := range ranked {
		scores[scoreKey(candidate)] = r.Score(candidate, query)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[scoreKey(ranked[i])] > scores[scoreKey(ranked[j])]
	})

	return ranked
}

func scoreKey(c Candidate) string {
	return string(c.Type) + ":" + c.ID
}
