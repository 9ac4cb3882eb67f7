package model

import (
	"strings"
	"time"
)

// Status is the canonical attendance status. Inputs are normalized
// case-insensitively at the boundary; anything else is rejected.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
)

func ParseStatus(value string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "present":
		return StatusPresent, nil
	case "absent":
		return StatusAbsent, nil
	default:
		return "", &ValidationError{Field: "status", Reason: "must be present or absent, got " + value}
	}
}

type Student struct {
	StudentID    string
	Name         string
	Department   string
	Stream       string
	Year         string
	PasswordHash string
	CreatedAt    time.Time
}

type Teacher struct {
	TeacherID    string
	Name         string
	Department   string
	PasswordHash string
	CreatedAt    time.Time
}

type Subject struct {
	ID       string
	Name     string
	Stream   string
	Year     string
	Semester string
}

// Lecture is one class session, uniquely identified by its caller-supplied
// lecture key. Resubmission with the same key updates the descriptive
// fields in place.
type Lecture struct {
	LectureKey string
	Subject    string
	Year       string
	Stream     string
	DateTime   time.Time
}

// AttendanceRecord holds exactly one status per (lecture_key, student_id).
// The date is denormalized from the lecture so window queries skip the join.
type AttendanceRecord struct {
	LectureKey string
	StudentID  string
	Status     Status
	Date       time.Time
}
