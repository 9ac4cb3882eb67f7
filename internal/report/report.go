package report

import (
	"context"
	"math"
	"sort"
	"time"

	"rollbook/attendance/internal/db"
	"rollbook/attendance/internal/model"
)

// JoinMode picks between inner-join aggregation (only rows with at least
// one record) and outer-join aggregation (never-marked rows included at
// zero). Callers that do not care get inner.
type JoinMode string

const (
	JoinInner JoinMode = "inner"
	JoinOuter JoinMode = "outer"
)

// Query scopes an aggregation. From/To are inclusive on both ends.
type Query struct {
	StudentID string
	Subject   string
	Stream    string
	Year      string
	From      time.Time
	To        time.Time
	Join      JoinMode
}

type SubjectRow struct {
	Subject       string  `json:"subject"`
	TotalLectures int64   `json:"total_lectures"`
	PresentCount  int64   `json:"present_count"`
	AbsentCount   int64   `json:"absent_count"`
	Percentage    float64 `json:"percentage"`
}

type StudentRow struct {
	StudentID     string  `json:"student_id"`
	StudentName   string  `json:"student_name"`
	TotalLectures int64   `json:"total_lectures"`
	PresentCount  int64   `json:"present_count"`
	Percentage    float64 `json:"percentage"`
	IsDefaulter   bool    `json:"is_defaulter"`
}

// Engine computes read-only aggregates over the ledger. It holds no state
// beyond the store handle.
type Engine struct {
	store *db.Store
}

func NewEngine(store *db.Store) *Engine {
	return &Engine{store: store}
}

// StudentSubjects returns one row per subject for a single student within
// the window.
func (e *Engine) StudentSubjects(ctx context.Context, q Query) ([]SubjectRow, error) {
	totals, err := e.store.Queries.SubjectTotals(ctx, db.ReportFilter{
		StudentID: q.StudentID,
		Subject:   q.Subject,
		Stream:    q.Stream,
		Year:      q.Year,
		From:      q.From,
		To:        q.To,
		Outer:     q.Join == JoinOuter,
	})
	if err != nil {
		return nil, &model.StorageFault{Op: "subject aggregation", Err: err}
	}

	rows := make([]SubjectRow, 0, len(totals))
	for _, total := range totals {
		rows = append(rows, SubjectRow{
			Subject:       total.Subject,
			TotalLectures: total.Total,
			PresentCount:  total.Present,
			AbsentCount:   total.Total - total.Present,
			Percentage:    Percentage(total.Present, total.Total),
		})
	}
	return rows, nil
}

// Cohort returns one row per student matched by the filters, unclassified.
func (e *Engine) Cohort(ctx context.Context, q Query) ([]StudentRow, error) {
	totals, err := e.store.Queries.StudentTotals(ctx, db.ReportFilter{
		Subject: q.Subject,
		Stream:  q.Stream,
		Year:    q.Year,
		From:    q.From,
		To:      q.To,
		Outer:   q.Join == JoinOuter,
	})
	if err != nil {
		return nil, &model.StorageFault{Op: "cohort aggregation", Err: err}
	}

	rows := make([]StudentRow, 0, len(totals))
	for _, total := range totals {
		rows = append(rows, StudentRow{
			StudentID:     total.StudentID,
			StudentName:   total.StudentName,
			TotalLectures: total.Total,
			PresentCount:  total.Present,
			Percentage:    Percentage(total.Present, total.Total),
		})
	}
	return rows, nil
}

// Percentage is present/total*100 rounded to two decimals. An empty cohort
// is 0, never a division fault.
func Percentage(present, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(present)/float64(total)*10000) / 100
}

// Classify flags each row with is_defaulter = percentage strictly below the
// threshold (exactly at the threshold is not a defaulter) and orders the
// result ascending by percentage, ties broken by student id for
// determinism.
func Classify(rows []StudentRow, threshold float64) []StudentRow {
	classified := make([]StudentRow, len(rows))
	copy(classified, rows)
	for i := range classified {
		classified[i].IsDefaulter = classified[i].Percentage < threshold
	}
	sort.Slice(classified, func(i, j int) bool {
		if classified[i].Percentage != classified[j].Percentage {
			return classified[i].Percentage < classified[j].Percentage
		}
		return classified[i].StudentID < classified[j].StudentID
	})
	return classified
}

// MonthWindow expands a month into its inclusive first..last day range.
func MonthWindow(year int, month time.Month) (time.Time, time.Time) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	return from, to
}
