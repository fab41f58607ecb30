// Package memory stores problem/solution pairs and retrieves similar
// past solutions. Retrieval seeds the planner's success estimates and
// lets fix handlers reuse what worked before.
package memory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/marcus/taskforge/internal/db"
)

// Solution is a remembered fix and how well it worked.
type Solution struct {
	Problem       string
	Solution      string
	Effectiveness float64 // [0,1]
	CreatedAt     time.Time
	Similarity    float64 // [0,1], set on retrieval
}

// Store persists solutions in the taskforge database.
type Store struct {
	db *db.DB
}

// NewStore creates a solution store backed by the given database.
func NewStore(database *db.DB) (*Store, error) {
	if database == nil {
		return nil, fmt.Errorf("memory store requires a database")
	}
	return &Store{db: database}, nil
}

// StoreSolution records a solved problem.
func (s *Store) StoreSolution(problem, solution string, effectiveness float64) error {
	if strings.TrimSpace(problem) == "" {
		return fmt.Errorf("problem is empty")
	}
	if effectiveness < 0 {
		effectiveness = 0
	}
	if effectiveness > 1 {
		effectiveness = 1
	}

	_, err := s.db.SQL().Exec(
		`INSERT INTO solutions (problem, solution, effectiveness, created_at) VALUES (?, ?, ?, ?)`,
		problem, solution, effectiveness, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("store solution: %w", err)
	}
	return nil
}

// GetSimilar returns up to limit solutions whose problem text overlaps the
// query, best match first. Solutions with no word overlap are excluded.
func (s *Store) GetSimilar(problem string, limit int) ([]Solution, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.SQL().Query(`SELECT problem, solution, effectiveness, created_at FROM solutions`)
	if err != nil {
		return nil, fmt.Errorf("query solutions: %w", err)
	}
	defer rows.Close()

	queryTokens := tokenize(problem)

	var matches []Solution
	for rows.Next() {
		var sol Solution
		if err := rows.Scan(&sol.Problem, &sol.Solution, &sol.Effectiveness, &sol.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan solution: %w", err)
		}
		sol.Similarity = overlap(queryTokens, tokenize(sol.Problem))
		if sol.Similarity > 0 {
			matches = append(matches, sol)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(matches, func(i, j int) bool {
		// Rank by similarity, then by how well the fix worked.
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Effectiveness > matches[j].Effectiveness
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// BestEffectiveness returns the effectiveness of the closest stored
// solution, or 0 when nothing similar is known.
func (s *Store) BestEffectiveness(problem string) float64 {
	similar, err := s.GetSimilar(problem, 1)
	if err != nil || len(similar) == 0 {
		return 0
	}
	return similar[0].Effectiveness
}

// tokenize lowercases and splits text into a word set, dropping short
// stopword-like tokens.
func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,:;!?()[]{}\"'")
		if len(word) < 3 {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}

// overlap returns |a∩b| / |a∪b|.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for word := range a {
		if _, ok := b[word]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	return float64(common) / float64(union)
}
