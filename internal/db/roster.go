package db

import (
	"context"

	"rollbook/attendance/internal/model"
)

func (q *Queries) CreateStudent(ctx context.Context, student model.Student) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO students (student_id, name, department, stream, year, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, student.StudentID, student.Name, student.Department, student.Stream, student.Year, student.PasswordHash)
	return err
}

func (q *Queries) GetStudent(ctx context.Context, studentID string) (model.Student, error) {
	var student model.Student
	row := q.db.QueryRow(ctx, `
		SELECT student_id, name, department, stream, year, password_hash, created_at
		FROM students
		WHERE student_id = $1
	`, studentID)
	err := row.Scan(
		&student.StudentID,
		&student.Name,
		&student.Department,
		&student.Stream,
		&student.Year,
		&student.PasswordHash,
		&student.CreatedAt,
	)
	return student, err
}

func (q *Queries) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := q.db.Query(ctx, `
		SELECT student_id, name, department, stream, year, password_hash, created_at
		FROM students
		ORDER BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var student model.Student
		if err := rows.Scan(
			&student.StudentID,
			&student.Name,
			&student.Department,
			&student.Stream,
			&student.Year,
			&student.PasswordHash,
			&student.CreatedAt,
		); err != nil {
			return nil, err
		}
		students = append(students, student)
	}
	return students, rows.Err()
}

func (q *Queries) DeleteStudent(ctx context.Context, studentID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM students WHERE student_id = $1`, studentID)
	return err
}

// MissingStudents returns every id from the input that has no roster row.
func (q *Queries) MissingStudents(ctx context.Context, studentIDs []string) ([]string, error) {
	rows, err := q.db.Query(ctx, `
		SELECT candidate.id
		FROM unnest($1::text[]) AS candidate(id)
		WHERE NOT EXISTS (
			SELECT 1 FROM students s WHERE s.student_id = candidate.id
		)
		ORDER BY candidate.id
	`, studentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var missing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		missing = append(missing, id)
	}
	return missing, rows.Err()
}

func (q *Queries) CreateTeacher(ctx context.Context, teacher model.Teacher) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO teachers (teacher_id, name, department, password_hash)
		VALUES ($1, $2, $3, $4)
	`, teacher.TeacherID, teacher.Name, teacher.Department, teacher.PasswordHash)
	return err
}

func (q *Queries) GetTeacher(ctx context.Context, teacherID string) (model.Teacher, error) {
	var teacher model.Teacher
	row := q.db.QueryRow(ctx, `
		SELECT teacher_id, name, department, password_hash, created_at
		FROM teachers
		WHERE teacher_id = $1
	`, teacherID)
	err := row.Scan(
		&teacher.TeacherID,
		&teacher.Name,
		&teacher.Department,
		&teacher.PasswordHash,
		&teacher.CreatedAt,
	)
	return teacher, err
}

func (q *Queries) ListTeachers(ctx context.Context) ([]model.Teacher, error) {
	rows, err := q.db.Query(ctx, `
		SELECT teacher_id, name, department, password_hash, created_at
		FROM teachers
		ORDER BY teacher_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teachers []model.Teacher
	for rows.Next() {
		var teacher model.Teacher
		if err := rows.Scan(
			&teacher.TeacherID,
			&teacher.Name,
			&teacher.Department,
			&teacher.PasswordHash,
			&teacher.CreatedAt,
		); err != nil {
			return nil, err
		}
		teachers = append(teachers, teacher)
	}
	return teachers, rows.Err()
}

func (q *Queries) DeleteTeacher(ctx context.Context, teacherID string) error {
	_, err := q.db.Exec(ctx, `DELETE FROM teachers WHERE teacher_id = $1`, teacherID)
	return err
}

func (q *Queries) CreateSubject(ctx context.Context, subject model.Subject) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO subjects (id, name, stream, year, semester)
		VALUES ($1, $2, $3, $4, $5)
	`, subject.ID, subject.Name, subject.Stream, subject.Year, subject.Semester)
	return err
}

func (q *Queries) ListSubjects(ctx context.Context, stream, year, semester string) ([]model.Subject, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, name, stream, year, semester
		FROM subjects
		WHERE ($1 = '' OR stream = $1)
		  AND ($2 = '' OR year = $2)
		  AND ($3 = '' OR semester = $3)
		ORDER BY name
	`, stream, year, semester)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subjects []model.Subject
	for rows.Next() {
		var subject model.Subject
		if err := rows.Scan(&subject.ID, &subject.Name, &subject.Stream, &subject.Year, &subject.Semester); err != nil {
			return nil, err
		}
		subjects = append(subjects, subject)
	}
	return subjects, rows.Err()
}

func (q *Queries) AssignSubject(ctx context.Context, teacherID, subjectID string) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO teacher_subjects (teacher_id, subject_id)
		VALUES ($1, $2)
		ON CONFLICT (teacher_id, subject_id) DO NOTHING
	`, teacherID, subjectID)
	return err
}
