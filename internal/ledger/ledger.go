package ledger

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgconn"

	"rollbook/attendance/internal/db"
	"rollbook/attendance/internal/model"
)

// Submission is one lecture session plus the full roster of statuses for
// it. Submitting the same lecture key again replaces the prior set.
type Submission struct {
	LectureKey string            `json:"lecture_key" validate:"required"`
	Subject    string            `json:"subject" validate:"required"`
	Year       string            `json:"year" validate:"required"`
	Stream     string            `json:"stream" validate:"required"`
	DateTime   string            `json:"lecture_date_time" validate:"required"`
	Attendance map[string]string `json:"attendance" validate:"required"`
}

type Service struct {
	store    *db.Store
	validate *validator.Validate
}

func NewService(store *db.Store) *Service {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{store: store, validate: validate}
}

// Submit records one lecture and its full attendance roster atomically.
// Validation and reference failures surface before anything is written;
// everything after that is a single transaction that either commits whole
// or rolls back whole.
func (s *Service) Submit(ctx context.Context, sub Submission) error {
	// Whitespace-only fields count as missing.
	sub.LectureKey = strings.TrimSpace(sub.LectureKey)
	sub.Subject = strings.TrimSpace(sub.Subject)
	sub.Year = strings.TrimSpace(sub.Year)
	sub.Stream = strings.TrimSpace(sub.Stream)
	sub.DateTime = strings.TrimSpace(sub.DateTime)

	if err := s.validate.Struct(sub); err != nil {
		var fieldErrors validator.ValidationErrors
		if errors.As(err, &fieldErrors) && len(fieldErrors) > 0 {
			return &model.ValidationError{Field: fieldErrors[0].Field(), Reason: "required"}
		}
		return &model.ValidationError{Field: "request", Reason: err.Error()}
	}

	dateTime, err := ParseDateTime(sub.DateTime)
	if err != nil {
		return err
	}

	statuses := make(map[string]model.Status, len(sub.Attendance))
	for studentID, raw := range sub.Attendance {
		if strings.TrimSpace(studentID) == "" {
			return &model.ValidationError{Field: "attendance", Reason: "empty student id"}
		}
		status, err := model.ParseStatus(raw)
		if err != nil {
			return err
		}
		statuses[studentID] = status
	}

	studentIDs := make([]string, 0, len(statuses))
	for studentID := range statuses {
		studentIDs = append(studentIDs, studentID)
	}
	sort.Strings(studentIDs)

	date := time.Date(dateTime.Year(), dateTime.Month(), dateTime.Day(), 0, 0, 0, 0, time.UTC)

	err = s.store.WithTx(ctx, func(q *db.Queries) error {
		if len(studentIDs) > 0 {
			missing, err := q.MissingStudents(ctx, studentIDs)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return &model.ReferenceError{StudentIDs: missing}
			}
		}
		if err := q.UpsertLecture(ctx, model.Lecture{
			LectureKey: sub.LectureKey,
			Subject:    sub.Subject,
			Year:       sub.Year,
			Stream:     sub.Stream,
			DateTime:   dateTime,
		}); err != nil {
			return err
		}
		if err := q.DeleteAttendanceByLecture(ctx, sub.LectureKey); err != nil {
			return err
		}
		for _, studentID := range studentIDs {
			if err := q.InsertAttendanceRecord(ctx, model.AttendanceRecord{
				LectureKey: sub.LectureKey,
				StudentID:  studentID,
				Status:     statuses[studentID],
				Date:       date,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return classifyStoreError(sub.LectureKey, err)
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
}

// ParseDateTime accepts the HTML datetime-local shape and its space
// separated variants, with or without seconds.
func ParseDateTime(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, &model.ValidationError{Field: "lecture_date_time", Reason: "unparseable date time " + value}
}

// classifyStoreError keeps typed domain errors as-is and sorts pg failures
// into retryable conflicts versus storage faults.
func classifyStoreError(lectureKey string, err error) error {
	if err == nil {
		return nil
	}
	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		return validationErr
	}
	var referenceErr *model.ReferenceError
	if errors.As(err, &referenceErr) {
		return referenceErr
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return &model.ConflictError{LectureKey: lectureKey}
		}
	}
	return &model.StorageFault{Op: "submit lecture attendance", Err: err}
}
