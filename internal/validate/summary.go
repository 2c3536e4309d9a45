package validate

import "tidyplan/internal/domain"

// Scoring weights. Fixed contract: clients compare scores across runs, so
// these never move with configuration.
const (
	errorWeight   = 10
	warningWeight = 5
	infoWeight    = 1
)

// Summarize aggregates a finding list into counts, per-dimension breakdowns
// and a health score. It is a pure fold: order of the input does not matter,
// and summarizing twice gives the same answer.
func Summarize(findings []domain.Finding) domain.Summary {
	s := domain.Summary{
		Total:    len(findings),
		ByEntity: make(map[string]int),
		ByField:  make(map[string]int),
	}
	for _, f := range findings {
		switch f.Severity {
		case domain.SeverityError:
			s.Errors++
		case domain.SeverityWarning:
			s.Warnings++
		case domain.SeverityInfo:
			s.Info++
		}
		s.ByEntity[string(f.EntityKind)]++
		if f.Field != "" {
			s.ByField[f.Field]++
		}
	}
	penalty := errorWeight*s.Errors + warningWeight*s.Warnings + infoWeight*s.Info
	s.Score = 100 - penalty
	if s.Score < 0 {
		s.Score = 0
	}
	return s
}
