package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ReportFilter narrows aggregation queries. Empty string fields are
// ignored; From and To are an inclusive date window. Outer switches the
// attendance join from inner (only rows with records) to left (never-marked
// rows included with zero counts).
type ReportFilter struct {
	StudentID string
	Subject   string
	Stream    string
	Year      string
	From      time.Time
	To        time.Time
	Outer     bool
}

type SubjectTotalsRow struct {
	Subject string
	Total   int64
	Present int64
}

type StudentTotalsRow struct {
	StudentID   string
	StudentName string
	Total       int64
	Present     int64
}

// SubjectTotals counts attendance per subject for one student. In outer
// mode the spine is the subject catalogue for the student's own stream and
// year, deduplicated by name, so subjects with no records in the window
// still appear with zero counts and a same-named subject in another stream
// or semester never inflates the totals.
func (q *Queries) SubjectTotals(ctx context.Context, f ReportFilter) ([]SubjectTotalsRow, error) {
	var (
		query string
		args  []any
	)
	if f.Outer {
		args = []any{f.StudentID, f.From, f.To, f.Subject, f.Stream, f.Year}
		query = `
			SELECT sub.name,
			       COUNT(a.lecture_key) AS total,
			       COUNT(a.lecture_key) FILTER (WHERE a.status = 'present') AS present
			FROM students st
			JOIN (SELECT DISTINCT name, stream, year FROM subjects) sub
				ON sub.stream = st.stream AND sub.year = st.year
			LEFT JOIN (lectures l
				JOIN attendance a ON a.lecture_key = l.lecture_key
					AND a.student_id = $1
					AND a.date >= $2 AND a.date <= $3
			) ON l.subject = sub.name
				AND l.stream = sub.stream
				AND l.year = sub.year
			WHERE st.student_id = $1
			  AND ($4 = '' OR sub.name = $4)
			  AND ($5 = '' OR sub.stream = $5)
			  AND ($6 = '' OR sub.year = $6)
			GROUP BY sub.name
			ORDER BY sub.name
		`
	} else {
		conds := []string{"a.student_id = $1", "a.date >= $2", "a.date <= $3"}
		args = []any{f.StudentID, f.From, f.To}
		if f.Subject != "" {
			args = append(args, f.Subject)
			conds = append(conds, fmt.Sprintf("l.subject = $%d", len(args)))
		}
		if f.Stream != "" {
			args = append(args, f.Stream)
			conds = append(conds, fmt.Sprintf("l.stream = $%d", len(args)))
		}
		if f.Year != "" {
			args = append(args, f.Year)
			conds = append(conds, fmt.Sprintf("l.year = $%d", len(args)))
		}
		query = `
			SELECT l.subject,
			       COUNT(*) AS total,
			       COUNT(*) FILTER (WHERE a.status = 'present') AS present
			FROM attendance a
			JOIN lectures l ON l.lecture_key = a.lecture_key
			WHERE ` + strings.Join(conds, " AND ") + `
			GROUP BY l.subject
			ORDER BY l.subject
		`
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []SubjectTotalsRow
	for rows.Next() {
		var row SubjectTotalsRow
		if err := rows.Scan(&row.Subject, &row.Total, &row.Present); err != nil {
			return nil, err
		}
		totals = append(totals, row)
	}
	return totals, rows.Err()
}

// StudentTotals counts attendance per student across a cohort. Outer mode
// keeps students with no matching records, which is what the defaulter
// report wants: a never-marked student sits at 0%.
func (q *Queries) StudentTotals(ctx context.Context, f ReportFilter) ([]StudentTotalsRow, error) {
	var (
		query string
		args  []any
	)
	if f.Outer {
		args = []any{f.From, f.To, f.Subject, f.Stream, f.Year}
		query = `
			SELECT s.student_id, s.name,
			       COUNT(a.lecture_key) AS total,
			       COUNT(a.lecture_key) FILTER (WHERE a.status = 'present') AS present
			FROM students s
			LEFT JOIN (attendance a
				JOIN lectures l ON l.lecture_key = a.lecture_key
					AND ($3 = '' OR l.subject = $3)
			) ON a.student_id = s.student_id
				AND a.date >= $1 AND a.date <= $2
			WHERE ($4 = '' OR s.stream = $4)
			  AND ($5 = '' OR s.year = $5)
			GROUP BY s.student_id, s.name
			ORDER BY s.student_id
		`
	} else {
		conds := []string{"a.date >= $1", "a.date <= $2"}
		args = []any{f.From, f.To}
		if f.Subject != "" {
			args = append(args, f.Subject)
			conds = append(conds, fmt.Sprintf("l.subject = $%d", len(args)))
		}
		if f.Stream != "" {
			args = append(args, f.Stream)
			conds = append(conds, fmt.Sprintf("s.stream = $%d", len(args)))
		}
		if f.Year != "" {
			args = append(args, f.Year)
			conds = append(conds, fmt.Sprintf("s.year = $%d", len(args)))
		}
		query = `
			SELECT s.student_id, s.name,
			       COUNT(*) AS total,
			       COUNT(*) FILTER (WHERE a.status = 'present') AS present
			FROM attendance a
			JOIN lectures l ON l.lecture_key = a.lecture_key
			JOIN students s ON s.student_id = a.student_id
			WHERE ` + strings.Join(conds, " AND ") + `
			GROUP BY s.student_id, s.name
			ORDER BY s.student_id
		`
	}

	rows, err := q.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var totals []StudentTotalsRow
	for rows.Next() {
		var row StudentTotalsRow
		if err := rows.Scan(&row.StudentID, &row.StudentName, &row.Total, &row.Present); err != nil {
			return nil, err
		}
		totals = append(totals, row)
	}
	return totals, rows.Err()
}
