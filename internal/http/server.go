package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollbook/attendance/internal/auth"
	"rollbook/attendance/internal/cache"
	"rollbook/attendance/internal/config"
	"rollbook/attendance/internal/crypto"
	"rollbook/attendance/internal/db"
	"rollbook/attendance/internal/ledger"
	"rollbook/attendance/internal/model"
	"rollbook/attendance/internal/report"
)

var submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "rollbook_attendance_submissions_total",
	Help: "Attendance submissions by outcome.",
}, []string{"result"})

type Server struct {
	cfg     config.Config
	store   *db.Store
	ledger  *ledger.Service
	reports *report.Engine
	cache   *cache.Cache
}

func NewServer(cfg config.Config, store *db.Store, ledgerService *ledger.Service, reports *report.Engine, cacheLayer *cache.Cache) *Server {
	return &Server{
		cfg:     cfg,
		store:   store,
		ledger:  ledgerService,
		reports: reports,
		cache:   cacheLayer,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)

	r.With(s.authMiddleware, s.requireStaff).Post("/attendance", s.handleSubmitAttendance)
	r.With(s.authMiddleware, s.requireStaff).Get("/attendance/{lectureKey}", s.handleGetLectureAttendance)

	r.With(s.authMiddleware).Get("/students/{studentId}/attendance/monthly", s.handleMonthlyAttendance)
	r.With(s.authMiddleware).Get("/students/{studentId}/attendance/range", s.handleRangeAttendance)
	r.With(s.authMiddleware).Get("/students/{studentId}/attendance/defaulter", s.handleStudentDefaulterStatus)

	r.With(s.authMiddleware, s.requireStaff).Post("/reports/defaulters", s.handleDefaulterReport)

	r.With(s.authMiddleware, s.requireAdmin).Post("/students", s.handleCreateStudent)
	r.With(s.authMiddleware, s.requireStaff).Get("/students", s.handleListStudents)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/students/{studentId}", s.handleDeleteStudent)

	r.With(s.authMiddleware, s.requireAdmin).Post("/teachers", s.handleCreateTeacher)
	r.With(s.authMiddleware, s.requireAdmin).Get("/teachers", s.handleListTeachers)
	r.With(s.authMiddleware, s.requireAdmin).Delete("/teachers/{teacherId}", s.handleDeleteTeacher)

	r.With(s.authMiddleware, s.requireAdmin).Post("/subjects", s.handleCreateSubject)
	r.With(s.authMiddleware).Get("/subjects", s.handleListSubjects)
	r.With(s.authMiddleware, s.requireAdmin).Post("/subjects/{subjectId}/teachers", s.handleAssignSubject)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

func (s *Server) requireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if claims.UserType != "teacher" && claims.UserType != "admin" {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		if claims.UserType != "admin" {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// canReadStudent allows staff to read anyone and a student to read only
// their own aggregates.
func canReadStudent(claims *auth.Claims, studentID string) bool {
	if claims == nil {
		return false
	}
	if claims.UserType == "teacher" || claims.UserType == "admin" {
		return true
	}
	return claims.UserType == "student" && claims.UserID == studentID
}

// Login / refresh

type loginRequest struct {
	UserType string `json:"user_type"`
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	UserID       string `json:"user_id"`
	UserType     string `json:"user_type"`
	Name         string `json:"name,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}

	name := ""
	switch req.UserType {
	case "student":
		student, err := s.store.Queries.GetStudent(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusUnauthorized, "invalid_credentials")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		if err := crypto.CheckPassword(student.PasswordHash, req.Password); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		name = student.Name
	case "teacher":
		teacher, err := s.store.Queries.GetTeacher(r.Context(), req.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, http.StatusUnauthorized, "invalid_credentials")
				return
			}
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		if err := crypto.CheckPassword(teacher.PasswordHash, req.Password); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		name = teacher.Name
	case "admin":
		if s.cfg.AdminPassword == "" ||
			subtle.ConstantTimeCompare([]byte(req.UserID), []byte(s.cfg.AdminID)) != 1 ||
			subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.cfg.AdminPassword)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_user_type")
		return
	}

	resp, err := s.issueTokens(r.Context(), req.UserID, req.UserType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp.Name = name
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "missing_refresh_token")
		return
	}
	session, ok, err := s.cache.ConsumeRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}
	resp, err := s.issueTokens(r.Context(), session.UserID, session.UserType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) issueTokens(ctx context.Context, userID, userType string) (loginResponse, error) {
	accessToken, err := auth.NewToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, userID, userType, s.cfg.AccessTokenTTL)
	if err != nil {
		return loginResponse{}, err
	}
	resp := loginResponse{AccessToken: accessToken, UserID: userID, UserType: userType}
	if s.cache.Enabled() {
		refreshToken, err := crypto.NewRefreshToken()
		if err != nil {
			return loginResponse{}, err
		}
		if err := s.cache.StoreRefreshSession(ctx, crypto.HashToken(refreshToken), cache.RefreshSession{
			UserID:   userID,
			UserType: userType,
		}, s.cfg.RefreshTokenTTL); err != nil {
			return loginResponse{}, err
		}
		resp.RefreshToken = refreshToken
	}
	return resp, nil
}

// Write path

type submitAttendanceRequest struct {
	LectureKey      string            `json:"lecture_key"`
	Subject         string            `json:"subject"`
	Year            flexString        `json:"year"`
	Stream          string            `json:"stream"`
	LectureDateTime string            `json:"lecture_date_time"`
	Attendance      map[string]string `json:"attendance"`
}

func (s *Server) handleSubmitAttendance(w http.ResponseWriter, r *http.Request) {
	var req submitAttendanceRequest
	if err := decodeJSON(r, &req); err != nil {
		submissionsTotal.WithLabelValues("validation_error").Inc()
		writeSubmitError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.ledger.Submit(r.Context(), ledger.Submission{
		LectureKey: req.LectureKey,
		Subject:    req.Subject,
		Year:       string(req.Year),
		Stream:     req.Stream,
		DateTime:   req.LectureDateTime,
		Attendance: req.Attendance,
	})
	if err != nil {
		status, result := submitFailure(err)
		submissionsTotal.WithLabelValues(result).Inc()
		writeSubmitError(w, status, err.Error())
		return
	}

	submissionsTotal.WithLabelValues("saved").Inc()
	writeJSON(w, http.StatusOK, map[string]string{"message": "attendance saved"})
}

func submitFailure(err error) (int, string) {
	var validationErr *model.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "validation_error"
	}
	var referenceErr *model.ReferenceError
	if errors.As(err, &referenceErr) {
		return http.StatusUnprocessableEntity, "reference_error"
	}
	var conflictErr *model.ConflictError
	if errors.As(err, &conflictErr) {
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "storage_fault"
}

func (s *Server) handleGetLectureAttendance(w http.ResponseWriter, r *http.Request) {
	lectureKey := chi.URLParam(r, "lectureKey")
	lecture, err := s.store.Queries.GetLecture(r.Context(), lectureKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "lecture_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	records, err := s.store.Queries.ListAttendanceByLecture(r.Context(), lectureKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	attendance := make(map[string]string, len(records))
	for _, record := range records {
		attendance[record.StudentID] = string(record.Status)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lecture_key":       lecture.LectureKey,
		"subject":           lecture.Subject,
		"year":              lecture.Year,
		"stream":            lecture.Stream,
		"lecture_date_time": lecture.DateTime.Format("2006-01-02 15:04:05"),
		"attendance":        attendance,
	})
}

// Read path

func (s *Server) handleMonthlyAttendance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	studentID := chi.URLParam(r, "studentId")
	if !canReadStudent(claims, studentID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil || month < 1 || month > 12 {
		writeError(w, http.StatusBadRequest, "invalid_month")
		return
	}
	year := time.Now().UTC().Year()
	if raw := r.URL.Query().Get("year"); raw != "" {
		if year, err = strconv.Atoi(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_year")
			return
		}
	}

	from, to := report.MonthWindow(year, time.Month(month))
	rows, err := s.reports.StudentSubjects(r.Context(), report.Query{
		StudentID: studentID,
		Subject:   r.URL.Query().Get("subject"),
		From:      from,
		To:        to,
		Join:      joinModeFromQuery(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	data := make(map[string]map[string]int64, len(rows))
	for _, row := range rows {
		data[row.Subject] = map[string]int64{
			"total":    row.TotalLectures,
			"attended": row.PresentCount,
			"absent":   row.AbsentCount,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleRangeAttendance(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	studentID := chi.URLParam(r, "studentId")
	if !canReadStudent(claims, studentID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	from, to, errCode := s.resolveWindow(r)
	if errCode != "" {
		writeError(w, http.StatusBadRequest, errCode)
		return
	}

	rows, err := s.reports.StudentSubjects(r.Context(), report.Query{
		StudentID: studentID,
		Subject:   r.URL.Query().Get("subject"),
		From:      from,
		To:        to,
		Join:      joinModeFromQuery(r),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	data := make(map[string]float64, len(rows))
	for _, row := range rows {
		data[row.Subject] = row.Percentage
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (s *Server) handleStudentDefaulterStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	studentID := chi.URLParam(r, "studentId")
	if !canReadStudent(claims, studentID) {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	if subject == "" {
		writeError(w, http.StatusBadRequest, "missing_subject")
		return
	}
	from, to, errCode := s.resolveWindow(r)
	if errCode != "" {
		writeError(w, http.StatusBadRequest, errCode)
		return
	}
	threshold, errCode := thresholdFromQuery(r, s.cfg.DefaulterThreshold)
	if errCode != "" {
		writeError(w, http.StatusBadRequest, errCode)
		return
	}

	rows, err := s.reports.StudentSubjects(r.Context(), report.Query{
		StudentID: studentID,
		Subject:   subject,
		From:      from,
		To:        to,
		Join:      report.JoinInner,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	// No records in the window means 0%, not a failure.
	percentage := float64(0)
	if len(rows) > 0 {
		percentage = rows[0].Percentage
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attendance_percentage": percentage,
		"is_defaulter":          percentage < threshold,
	})
}

type defaulterReportRequest struct {
	Stream    string     `json:"stream"`
	Year      flexString `json:"year"`
	Subject   string     `json:"subject"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Threshold *float64   `json:"threshold"`
}

func (s *Server) handleDefaulterReport(w http.ResponseWriter, r *http.Request) {
	var req defaulterReportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, "missing_date_range")
		return
	}
	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from_date")
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to_date")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "invalid_date_range")
		return
	}
	threshold := s.cfg.DefaulterThreshold
	if req.Threshold != nil {
		threshold = *req.Threshold
	}

	cacheKey := cache.DefaulterReportKey(req.Stream, string(req.Year), req.Subject, from, to, threshold)
	if cached, ok := s.lookupDefaulterReport(r.Context(), cacheKey); ok {
		writeJSON(w, http.StatusOK, map[string]any{"data": cached, "cached": true})
		return
	}

	// Outer join on purpose: a never-marked student belongs in this report
	// at 0%, not silently out of it.
	rows, err := s.reports.Cohort(r.Context(), report.Query{
		Subject: req.Subject,
		Stream:  req.Stream,
		Year:    string(req.Year),
		From:    from,
		To:      to,
		Join:    report.JoinOuter,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	classified := report.Classify(rows, threshold)

	if s.cache.Enabled() {
		if err := s.cache.SetDefaulterReport(r.Context(), cacheKey, classified); err != nil {
			log.Printf("defaulter report cache write error: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": classified})
}

// lookupDefaulterReport treats a cache failure as a miss, but never a
// silent one.
func (s *Server) lookupDefaulterReport(ctx context.Context, key string) ([]report.StudentRow, bool) {
	rows, ok, err := s.cache.GetDefaulterReport(ctx, key)
	if err != nil {
		log.Printf("defaulter report cache read error: %v", err)
		return nil, false
	}
	return rows, ok
}

// Roster administration

type createStudentRequest struct {
	StudentID  string     `json:"student_id"`
	Name       string     `json:"name"`
	Department string     `json:"department"`
	Stream     string     `json:"stream"`
	Year       flexString `json:"year"`
	Password   string     `json:"password"`
}

func (s *Server) handleCreateStudent(w http.ResponseWriter, r *http.Request) {
	var req createStudentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.StudentID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	passwordHash := ""
	if req.Password != "" {
		hash, err := crypto.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		passwordHash = hash
	}
	err := s.store.Queries.CreateStudent(r.Context(), model.Student{
		StudentID:    strings.TrimSpace(req.StudentID),
		Name:         strings.TrimSpace(req.Name),
		Department:   req.Department,
		Stream:       req.Stream,
		Year:         string(req.Year),
		PasswordHash: passwordHash,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "student_exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "student added"})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	students, err := s.store.Queries.ListStudents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]map[string]string, 0, len(students))
	for _, student := range students {
		resp = append(resp, map[string]string{
			"student_id": student.StudentID,
			"name":       student.Name,
			"department": student.Department,
			"stream":     student.Stream,
			"year":       student.Year,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Queries.DeleteStudent(r.Context(), chi.URLParam(r, "studentId")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "student deleted"})
}

type createTeacherRequest struct {
	TeacherID  string `json:"teacher_id"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Password   string `json:"password"`
}

func (s *Server) handleCreateTeacher(w http.ResponseWriter, r *http.Request) {
	var req createTeacherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.TeacherID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	passwordHash := ""
	if req.Password != "" {
		hash, err := crypto.HashPassword(req.Password)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		passwordHash = hash
	}
	err := s.store.Queries.CreateTeacher(r.Context(), model.Teacher{
		TeacherID:    strings.TrimSpace(req.TeacherID),
		Name:         strings.TrimSpace(req.Name),
		Department:   req.Department,
		PasswordHash: passwordHash,
	})
	if err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "teacher_exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": "teacher added"})
}

func (s *Server) handleListTeachers(w http.ResponseWriter, r *http.Request) {
	teachers, err := s.store.Queries.ListTeachers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]map[string]string, 0, len(teachers))
	for _, teacher := range teachers {
		resp = append(resp, map[string]string{
			"teacher_id": teacher.TeacherID,
			"name":       teacher.Name,
			"department": teacher.Department,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteTeacher(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Queries.DeleteTeacher(r.Context(), chi.URLParam(r, "teacherId")); err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "teacher deleted"})
}

type createSubjectRequest struct {
	Name     string     `json:"name"`
	Stream   string     `json:"stream"`
	Year     flexString `json:"year"`
	Semester string     `json:"semester"`
}

func (s *Server) handleCreateSubject(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}
	subject := model.Subject{
		ID:       uuid.NewString(),
		Name:     strings.TrimSpace(req.Name),
		Stream:   req.Stream,
		Year:     string(req.Year),
		Semester: req.Semester,
	}
	if err := s.store.Queries.CreateSubject(r.Context(), subject); err != nil {
		if isUniqueViolation(err) {
			writeError(w, http.StatusConflict, "subject_exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": subject.ID, "message": "subject added"})
}

func (s *Server) handleListSubjects(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	subjects, err := s.store.Queries.ListSubjects(r.Context(), query.Get("stream"), query.Get("year"), query.Get("semester"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	resp := make([]map[string]string, 0, len(subjects))
	for _, subject := range subjects {
		resp = append(resp, map[string]string{
			"id":       subject.ID,
			"name":     subject.Name,
			"stream":   subject.Stream,
			"year":     subject.Year,
			"semester": subject.Semester,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssignSubject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TeacherID string `json:"teacher_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if strings.TrimSpace(req.TeacherID) == "" {
		writeError(w, http.StatusBadRequest, "missing_teacher_id")
		return
	}
	err := s.store.Queries.AssignSubject(r.Context(), req.TeacherID, chi.URLParam(r, "subjectId"))
	if err != nil {
		if isForeignKeyViolation(err) {
			writeError(w, http.StatusUnprocessableEntity, "unknown_teacher_or_subject")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "subject assigned"})
}

// Window helpers

// resolveWindow reads either from/to date params or a semester label mapped
// through configuration. Both bounds are inclusive.
func (s *Server) resolveWindow(r *http.Request) (time.Time, time.Time, string) {
	query := r.URL.Query()
	if semester := query.Get("semester"); semester != "" {
		window, ok := s.cfg.SemesterRanges[semester]
		if !ok {
			return time.Time{}, time.Time{}, "unknown_semester"
		}
		return window.From, window.To, ""
	}
	fromRaw := query.Get("from")
	toRaw := query.Get("to")
	if fromRaw == "" || toRaw == "" {
		return time.Time{}, time.Time{}, "missing_date_range"
	}
	from, err := time.Parse("2006-01-02", fromRaw)
	if err != nil {
		return time.Time{}, time.Time{}, "invalid_from_date"
	}
	to, err := time.Parse("2006-01-02", toRaw)
	if err != nil {
		return time.Time{}, time.Time{}, "invalid_to_date"
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, "invalid_date_range"
	}
	return from, to, ""
}

func joinModeFromQuery(r *http.Request) report.JoinMode {
	if r.URL.Query().Get("join") == "outer" {
		return report.JoinOuter
	}
	return report.JoinInner
}

func thresholdFromQuery(r *http.Request, fallback float64) (float64, string) {
	raw := r.URL.Query().Get("threshold")
	if raw == "" {
		return fallback, ""
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, "invalid_threshold"
	}
	return parsed, ""
}

// Utilities

// flexString accepts JSON strings and numbers, since callers send year
// both ways.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var value string
		if err := json.Unmarshal(data, &value); err != nil {
			return err
		}
		*f = flexString(value)
		return nil
	}
	var value json.Number
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*f = flexString(value.String())
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeSubmitError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{
		"message": "error saving attendance",
		"error":   detail,
	})
}
