package mapping

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/schema"
)

// TableCandidate is one target table the advisor may map a file onto
type TableCandidate struct {
	Key     string
	Columns []models.ColumnDef
}

// ProposalRequest carries everything the advisor sees for one turn
type ProposalRequest struct {
	SourceColumns     []string
	Candidates        []TableCandidate
	Instruction       string
	ConversationToken string
}

// Advisor proposes column mappings for a parsed file. The pipeline only
// ever executes a confirmed mapping, however the proposal was reached.
type Advisor interface {
	ProposeMapping(ctx context.Context, req ProposalRequest) (*models.MappingProposal, error)
}

const (
	// Candidates scoring within this margin of the best are considered tied
	scoreTieMargin = 0.1

	// Proposals below this confidence always ask a follow-up
	minConfidence = 0.5
)

// HeuristicAdvisor scores candidates by normalized column-name overlap.
// Deterministic, dependency-free, and the default advisor; an external
// model can replace it behind the same interface.
type HeuristicAdvisor struct{}

// NewHeuristicAdvisor creates the default mapping advisor
func NewHeuristicAdvisor() *HeuristicAdvisor {
	return &HeuristicAdvisor{}
}

type candidateScore struct {
	candidate TableCandidate
	mappings  []models.ColumnMapping
	score     float64
}

// ProposeMapping scores every candidate table against the source columns
// and proposes mappings for the best one. Ties and weak matches come back
// as a follow-up question; echoing the ConversationToken with an
// instruction naming a table resolves the next turn.
func (a *HeuristicAdvisor) ProposeMapping(ctx context.Context, req ProposalRequest) (*models.MappingProposal, error) {
	if len(req.Candidates) == 0 {
		question := "No target tables exist yet. Create one, or import with create_table to derive a schema from the file."
		return &models.MappingProposal{
			Mappings:         []models.ColumnMapping{},
			FollowupQuestion: &question,
		}, nil
	}

	scores := make([]candidateScore, 0, len(req.Candidates))
	for _, candidate := range req.Candidates {
		mappings, score := scoreCandidate(req.SourceColumns, candidate)
		scores = append(scores, candidateScore{candidate: candidate, mappings: mappings, score: score})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].score > scores[j].score
	})

	best := scores[0]

	// An instruction naming a candidate overrides the scoring order
	if req.Instruction != "" {
		if chosen, ok := candidateNamedBy(req.Instruction, scores); ok {
			best = chosen
		}
	}

	// Tied candidates without direction warrant a question, not a guess
	if req.Instruction == "" && len(scores) > 1 && scores[1].score >= best.score-scoreTieMargin && scores[1].score > 0 {
		names := make([]string, 0, len(scores))
		for _, s := range scores {
			if s.score >= best.score-scoreTieMargin {
				names = append(names, s.candidate.Key)
			}
		}
		question := fmt.Sprintf("Multiple tables fit this file equally well (%s). Which should it import into?", strings.Join(names, ", "))
		return &models.MappingProposal{
			Mappings:          []models.ColumnMapping{},
			Confidence:        best.score,
			FollowupQuestion:  &question,
			ConversationToken: strings.Join(names, ","),
		}, nil
	}

	if best.score < minConfidence {
		question := fmt.Sprintf("The closest table is %s but only %.0f%% of its columns match. Import there anyway, or into a different table?",
			best.candidate.Key, best.score*100)
		return &models.MappingProposal{
			TargetTable:       best.candidate.Key,
			Mappings:          best.mappings,
			Confidence:        best.score,
			FollowupQuestion:  &question,
			ConversationToken: best.candidate.Key,
		}, nil
	}

	return &models.MappingProposal{
		TargetTable: best.candidate.Key,
		Mappings:    best.mappings,
		Confidence:  best.score,
	}, nil
}

// scoreCandidate matches source columns onto one table's columns.
// Score is the summed per-column match quality over the table's column
// count; a required column with no match caps the score.
func scoreCandidate(sourceColumns []string, candidate TableCandidate) ([]models.ColumnMapping, float64) {
	if len(candidate.Columns) == 0 {
		return nil, 0
	}

	var mappings []models.ColumnMapping
	total := 0.0
	requiredMissing := false
	used := make(map[string]bool, len(sourceColumns))

	for _, target := range candidate.Columns {
		bestSource := ""
		bestScore := 0.0
		for _, source := range sourceColumns {
			if used[source] {
				continue
			}
			if s := matchScore(source, target.Name); s > bestScore {
				bestSource = source
				bestScore = s
			}
		}

		if bestScore == 0 {
			if target.Required {
				requiredMissing = true
			}
			continue
		}

		used[bestSource] = true
		total += bestScore
		mappings = append(mappings, models.ColumnMapping{
			SourceColumn: bestSource,
			TargetColumn: target.Name,
		})
	}

	score := total / float64(len(candidate.Columns))
	if requiredMissing && score > 0.4 {
		score = 0.4
	}
	return mappings, score
}

// matchScore compares two column names after slug normalization
func matchScore(source, target string) float64 {
	s := schema.Slugify(source)
	t := schema.Slugify(target)
	if s == "" || t == "" {
		return 0
	}
	if s == t {
		return 1.0
	}
	if strings.Contains(s, t) || strings.Contains(t, s) {
		return 0.7
	}
	return 0
}

// candidateNamedBy matches a free-form instruction against candidate keys
func candidateNamedBy(instruction string, scores []candidateScore) (candidateScore, bool) {
	normalized := strings.ToLower(instruction)
	for _, s := range scores {
		if strings.Contains(normalized, strings.ToLower(s.candidate.Key)) {
			return s, true
		}
	}
	return candidateScore{}, false
}
