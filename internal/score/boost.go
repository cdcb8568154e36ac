package score

import (
	"fmt"
	"strings"

	"github.com/franz/media-organizer/internal/config"
	"github.com/franz/media-organizer/internal/meta"
)

// BoostRule raises the classifier score of files that clearly belong to
// the priority genre or region. The increase is additive, bounded by
// Amount, and the result never exceeds 1.0.
type BoostRule struct {
	Enabled       bool
	Amount        float64
	MinIndication float64
	Genres        []string
	Regions       []string
	Languages     []string
	Keywords      []string
}

// BoostRuleFrom builds the rule from a config snapshot.
func BoostRuleFrom(cfg config.BoostConfig) BoostRule {
	return BoostRule{
		Enabled:       cfg.Enabled,
		Amount:        cfg.Amount,
		MinIndication: cfg.MinIndication,
		Genres:        cfg.Genres,
		Regions:       cfg.Regions,
		Languages:     cfg.Languages,
		Keywords:      cfg.Keywords,
	}
}

// BoostEvidence is the descriptive metadata the rule inspects.
type BoostEvidence struct {
	Genre    string
	Country  string
	Language string
	Title    string
	Album    string
}

// Indication returns how strongly the evidence points at the priority
// genre or region (0..1) and which signal produced it.
//
// Genre and region matches count fully, a language match 0.9, and title
// or album words count twice their share of configured keywords.
func (r BoostRule) Indication(ev BoostEvidence) (float64, string) {
	best, reason := 0.0, ""
	consider := func(v float64, why string) {
		if v > best {
			best, reason = v, why
		}
	}

	if ev.Genre != "" {
		genre := meta.FoldAccents(ev.Genre)
		for _, g := range r.Genres {
			if g != "" && strings.Contains(genre, meta.FoldAccents(g)) {
				consider(1, "genre:"+g)
				break
			}
		}
	}
	for _, region := range r.Regions {
		if ev.Country != "" && strings.EqualFold(ev.Country, region) {
			consider(1, "region:"+region)
			break
		}
	}
	for _, lang := range r.Languages {
		if ev.Language != "" && strings.EqualFold(ev.Language, lang) {
			consider(0.9, "language:"+lang)
			break
		}
	}
	if ratio := r.keywordRatio(ev.Title + " " + ev.Album); ratio > 0 {
		consider(min(1, 2*ratio), fmt.Sprintf("keywords:%.2f", ratio))
	}
	return best, reason
}

func (r BoostRule) keywordRatio(text string) float64 {
	words := meta.Words(text)
	if len(words) == 0 || len(r.Keywords) == 0 {
		return 0
	}
	keywords := make(map[string]bool, len(r.Keywords))
	for _, k := range r.Keywords {
		keywords[meta.FoldAccents(k)] = true
	}
	hits := 0
	for _, w := range words {
		if keywords[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// Apply adds Amount to raw when indication reaches MinIndication, capped at
// 1.0. It returns the final score and the amount actually added.
func (r BoostRule) Apply(raw, indication float64) (final, applied float64) {
	if !r.Enabled || r.Amount <= 0 || indication < r.MinIndication {
		return raw, 0
	}
	final = min(1, raw+r.Amount)
	if final < raw {
		final = raw
	}
	return final, final - raw
}
