package session

import (
	"sort"
	"strings"
)

// Classify grades a submitted choice against the round's correct answer.
// Pure and deterministic; the only place verdicts are derived.
func Classify(choice, correctAnswer Choice) Verdict {
	if choice == correctAnswer {
		return VerdictCorrect
	}
	return VerdictWrong
}

// Row is one tally line: a member name and their final verdict.
type Row struct {
	Name    string  `json:"name"`
	Verdict Verdict `json:"verdict"`
}

// Tally returns the per-member verdicts sorted by name. Members with no
// recorded response are reported as Missing.
func (s *Session) Tally() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]Row, 0, len(s.members))
	for name := range s.members {
		verdict := VerdictMissing
		if resp, ok := s.responses[name]; ok {
			verdict = resp.Verdict
		}
		rows = append(rows, Row{Name: name, Verdict: verdict})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// ExportCSV renders tally rows as "Name,Response" CSV text, one line per
// member in snapshot order.
func ExportCSV(rows []Row) string {
	var sb strings.Builder
	sb.WriteString("Name,Response\n")
	for _, row := range rows {
		sb.WriteString(row.Name)
		sb.WriteByte(',')
		sb.WriteString(string(row.Verdict))
		sb.WriteByte('\n')
	}
	return sb.String()
}
