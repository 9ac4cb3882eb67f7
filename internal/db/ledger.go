package db

import (
	"context"

	"rollbook/attendance/internal/model"
)

// UpsertLecture inserts or overwrites the lecture row for a key. The row
// lock taken by the upsert serializes concurrent submissions for the same
// lecture key for the rest of the transaction; different keys do not block
// each other.
func (q *Queries) UpsertLecture(ctx context.Context, lecture model.Lecture) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO lectures (lecture_key, subject, year, stream, date_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (lecture_key) DO UPDATE SET
			subject = EXCLUDED.subject,
			year = EXCLUDED.year,
			stream = EXCLUDED.stream,
			date_time = EXCLUDED.date_time
	`, lecture.LectureKey, lecture.Subject, lecture.Year, lecture.Stream, lecture.DateTime)
	return err
}

func (q *Queries) GetLecture(ctx context.Context, lectureKey string) (model.Lecture, error) {
	var lecture model.Lecture
	row := q.db.QueryRow(ctx, `
		SELECT lecture_key, subject, year, stream, date_time
		FROM lectures
		WHERE lecture_key = $1
	`, lectureKey)
	err := row.Scan(&lecture.LectureKey, &lecture.Subject, &lecture.Year, &lecture.Stream, &lecture.DateTime)
	return lecture, err
}

func (q *Queries) DeleteAttendanceByLecture(ctx context.Context, lectureKey string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM attendance WHERE lecture_key = $1`, lectureKey)
	return err
}

func (q *Queries) InsertAttendanceRecord(ctx context.Context, record model.AttendanceRecord) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO attendance (lecture_key, student_id, status, date)
		VALUES ($1, $2, $3, $4)
	`, record.LectureKey, record.StudentID, string(record.Status), record.Date)
	return err
}

func (q *Queries) ListAttendanceByLecture(ctx context.Context, lectureKey string) ([]model.AttendanceRecord, error) {
	rows, err := q.db.Query(ctx, `
		SELECT lecture_key, student_id, status, date
		FROM attendance
		WHERE lecture_key = $1
		ORDER BY student_id
	`, lectureKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var record model.AttendanceRecord
		var status string
		if err := rows.Scan(&record.LectureKey, &record.StudentID, &status, &record.Date); err != nil {
			return nil, err
		}
		record.Status = model.Status(status)
		records = append(records, record)
	}
	return records, rows.Err()
}
