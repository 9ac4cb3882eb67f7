package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type submitResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type lectureResponse struct {
	LectureKey string            `json:"lecture_key"`
	Attendance map[string]string `json:"attendance"`
}

type defaulterRow struct {
	StudentID   string  `json:"student_id"`
	Percentage  float64 `json:"percentage"`
	IsDefaulter bool    `json:"is_defaulter"`
}

func TestSubmitIdempotenceAndReplace(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ROLLBOOK_HTTP_ADDR", "http://127.0.0.1:8084")
	adminToken := adminLogin(t, baseURL)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	studentA := seedStudent(t, baseURL, adminToken, "ITA-"+suffix)
	studentB := seedStudent(t, baseURL, adminToken, "ITB-"+suffix)
	lectureKey := "maths_CS_3_2026-02-10T09:00_" + suffix

	payload := map[string]interface{}{
		"lecture_key":       lectureKey,
		"subject":           "maths",
		"year":              "3",
		"stream":            "CS",
		"lecture_date_time": "2026-02-10T09:00",
		"attendance": map[string]string{
			studentA: "present",
			studentB: "absent",
		},
	}
	for i := 0; i < 2; i++ {
		resp, _ := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, payload)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	lecture := getLecture(t, baseURL, adminToken, lectureKey)
	if len(lecture.Attendance) != 2 {
		t.Fatalf("double submit must not duplicate rows, got %d", len(lecture.Attendance))
	}

	// Resubmitting with a smaller roster replaces, never merges.
	payload["attendance"] = map[string]string{studentA: "absent"}
	resp, _ := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replace submit: expected 200, got %d", resp.StatusCode)
	}
	lecture = getLecture(t, baseURL, adminToken, lectureKey)
	if len(lecture.Attendance) != 1 {
		t.Fatalf("expected 1 record after replace, got %d", len(lecture.Attendance))
	}
	if lecture.Attendance[studentA] != "absent" {
		t.Fatalf("expected replaced status absent, got %q", lecture.Attendance[studentA])
	}
}

func TestSubmitRejectsUnknownStudents(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ROLLBOOK_HTTP_ADDR", "http://127.0.0.1:8084")
	adminToken := adminLogin(t, baseURL)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	known := seedStudent(t, baseURL, adminToken, "ITK-"+suffix)
	lectureKey := "maths_CS_3_2026-02-11T09:00_" + suffix

	resp, body := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, map[string]interface{}{
		"lecture_key":       lectureKey,
		"subject":           "maths",
		"year":              "3",
		"stream":            "CS",
		"lecture_date_time": "2026-02-11T09:00",
		"attendance": map[string]string{
			known:             "present",
			"GHOST-" + suffix: "absent",
		},
	})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", resp.StatusCode, body)
	}
	var errResp submitResponse
	if err := json.Unmarshal(body, &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if errResp.Error == "" {
		t.Fatalf("expected error detail naming unknown students")
	}

	// The whole batch must have been rejected, not just the unknown row.
	getResp, _ := doRequest(t, http.MethodGet, baseURL+"/attendance/"+lectureKey, adminToken, nil)
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected no lecture after rejected batch, got %d", getResp.StatusCode)
	}
}

func TestConcurrentSubmitsSameLecture(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ROLLBOOK_HTTP_ADDR", "http://127.0.0.1:8084")
	adminToken := adminLogin(t, baseURL)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	studentA := seedStudent(t, baseURL, adminToken, "ITCA-"+suffix)
	studentB := seedStudent(t, baseURL, adminToken, "ITCB-"+suffix)
	lectureKey := "maths_CS_3_2026-02-12T09:00_" + suffix

	rosters := []map[string]string{
		{studentA: "present", studentB: "present"},
		{studentA: "absent", studentB: "absent"},
	}
	var wg sync.WaitGroup
	statuses := make([]int, len(rosters))
	for i := range rosters {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, _ := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, map[string]interface{}{
				"lecture_key":       lectureKey,
				"subject":           "maths",
				"year":              "3",
				"stream":            "CS",
				"lecture_date_time": "2026-02-12T09:00",
				"attendance":        rosters[i],
			})
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()
	for i, status := range statuses {
		if status != http.StatusOK && status != http.StatusConflict {
			t.Fatalf("writer %d: expected 200 or 409, got %d", i, status)
		}
	}

	// Whichever writer won, the stored set must be exactly one full roster.
	lecture := getLecture(t, baseURL, adminToken, lectureKey)
	if len(lecture.Attendance) != 2 {
		t.Fatalf("expected 2 records, got %d", len(lecture.Attendance))
	}
	if lecture.Attendance[studentA] != lecture.Attendance[studentB] {
		t.Fatalf("interleaved rosters: %v", lecture.Attendance)
	}
}

func TestRangeWindowInclusivity(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ROLLBOOK_HTTP_ADDR", "http://127.0.0.1:8084")
	adminToken := adminLogin(t, baseURL)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	student := seedStudent(t, baseURL, adminToken, "ITR-"+suffix)
	subject := "range_subject_" + suffix

	// One lecture on each boundary day and one outside the window.
	for _, day := range []string{"2026-03-01", "2026-03-31", "2026-04-01"} {
		resp, _ := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, map[string]interface{}{
			"lecture_key":       subject + "_" + day,
			"subject":           subject,
			"year":              "3",
			"stream":            "CS",
			"lecture_date_time": day + "T09:00",
			"attendance":        map[string]string{student: "present"},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("seed lecture %s: got %d", day, resp.StatusCode)
		}
	}

	url := fmt.Sprintf("%s/students/%s/attendance/range?from=2026-03-01&to=2026-03-31&subject=%s", baseURL, student, subject)
	resp, body := doRequest(t, http.MethodGet, url, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("range query: got %d", resp.StatusCode)
	}
	var rangeResp struct {
		Data map[string]float64 `json:"data"`
	}
	if err := json.Unmarshal(body, &rangeResp); err != nil {
		t.Fatalf("decode range: %v", err)
	}
	if rangeResp.Data[subject] != 100 {
		t.Fatalf("expected 100%% inside window, got %v", rangeResp.Data[subject])
	}

	monthly := fmt.Sprintf("%s/students/%s/attendance/monthly?month=3&year=2026&subject=%s", baseURL, student, subject)
	resp, body = doRequest(t, http.MethodGet, monthly, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("monthly query: got %d", resp.StatusCode)
	}
	var monthlyResp struct {
		Data map[string]map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(body, &monthlyResp); err != nil {
		t.Fatalf("decode monthly: %v", err)
	}
	if monthlyResp.Data[subject]["total"] != 2 {
		t.Fatalf("both boundary days must count, April 1 must not: %v", monthlyResp.Data[subject])
	}
}

func TestOuterJoinScopedToStudentCatalogue(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ROLLBOOK_HTTP_ADDR", "http://127.0.0.1:8084")
	adminToken := adminLogin(t, baseURL)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	streamA := "OJA" + suffix
	streamB := "OJB" + suffix
	student := seedStudentInStream(t, baseURL, adminToken, "ITO-"+suffix, streamA)
	subjectName := "outer_subject_" + suffix

	// Same subject name in another stream and in a second semester of the
	// student's own stream. Neither copy may inflate the student's counts.
	seedSubject(t, baseURL, adminToken, subjectName, streamA, "3", "1")
	seedSubject(t, baseURL, adminToken, subjectName, streamA, "3", "2")
	seedSubject(t, baseURL, adminToken, subjectName, streamB, "3", "1")
	otherStreamOnly := "foreign_subject_" + suffix
	seedSubject(t, baseURL, adminToken, otherStreamOnly, streamB, "3", "1")

	for day, status := range map[string]string{"2026-06-01": "present", "2026-06-02": "absent"} {
		resp, _ := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, map[string]interface{}{
			"lecture_key":       subjectName + "_" + day,
			"subject":           subjectName,
			"year":              "3",
			"stream":            streamA,
			"lecture_date_time": day + "T09:00",
			"attendance":        map[string]string{student: status},
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("seed lecture %s: got %d", day, resp.StatusCode)
		}
	}

	url := fmt.Sprintf("%s/students/%s/attendance/monthly?month=6&year=2026&join=outer", baseURL, student)
	resp, body := doRequest(t, http.MethodGet, url, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("monthly outer query: got %d", resp.StatusCode)
	}
	var monthlyResp struct {
		Data map[string]map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(body, &monthlyResp); err != nil {
		t.Fatalf("decode monthly: %v", err)
	}
	counts, ok := monthlyResp.Data[subjectName]
	if !ok {
		t.Fatalf("expected subject %s in outer view: %v", subjectName, monthlyResp.Data)
	}
	if counts["total"] != 2 || counts["attended"] != 1 {
		t.Fatalf("duplicate catalogue rows must not multiply counts: %v", counts)
	}
	if _, ok := monthlyResp.Data[otherStreamOnly]; ok {
		t.Fatalf("another stream's subject must not appear in the student's outer view")
	}
}

func TestDefaulterReportIncludesUnmarkedStudents(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "1" {
		t.Skip("set INTEGRATION_TESTS=1 to run")
	}
	baseURL := getenv("ROLLBOOK_HTTP_ADDR", "http://127.0.0.1:8084")
	adminToken := adminLogin(t, baseURL)

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	stream := "ST" + suffix
	marked := seedStudentInStream(t, baseURL, adminToken, "ITM-"+suffix, stream)
	unmarked := seedStudentInStream(t, baseURL, adminToken, "ITU-"+suffix, stream)

	resp, _ := doRequest(t, http.MethodPost, baseURL+"/attendance", adminToken, map[string]interface{}{
		"lecture_key":       "def_" + suffix,
		"subject":           "maths",
		"year":              "3",
		"stream":            stream,
		"lecture_date_time": "2026-05-04T09:00",
		"attendance":        map[string]string{marked: "present"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seed lecture: got %d", resp.StatusCode)
	}

	resp, body := doRequest(t, http.MethodPost, baseURL+"/reports/defaulters", adminToken, map[string]interface{}{
		"stream":    stream,
		"year":      "3",
		"from":      "2026-05-01",
		"to":        "2026-05-31",
		"threshold": 75,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("defaulter report: got %d", resp.StatusCode)
	}
	var report struct {
		Data []defaulterRow `json:"data"`
	}
	if err := json.Unmarshal(body, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	byID := make(map[string]defaulterRow)
	for _, row := range report.Data {
		byID[row.StudentID] = row
	}
	if row, ok := byID[unmarked]; !ok || !row.IsDefaulter || row.Percentage != 0 {
		t.Fatalf("never-marked student must appear at 0%% as defaulter: %+v", byID[unmarked])
	}
	if row := byID[marked]; row.IsDefaulter || row.Percentage != 100 {
		t.Fatalf("fully present student must not be a defaulter: %+v", row)
	}
}

func adminLogin(t *testing.T, baseURL string) string {
	t.Helper()
	payload := map[string]string{
		"user_type": "admin",
		"user_id":   getenv("ADMIN_ID", "admin"),
		"password":  getenv("ADMIN_PASSWORD", "dev-password"),
	}
	resp, body := doRequest(t, http.MethodPost, baseURL+"/auth/login", "", payload)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login status %d: %s", resp.StatusCode, body)
	}
	var tokens tokenResponse
	if err := json.Unmarshal(body, &tokens); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if tokens.AccessToken == "" {
		t.Fatalf("missing access token")
	}
	return tokens.AccessToken
}

func seedStudent(t *testing.T, baseURL, token, studentID string) string {
	return seedStudentInStream(t, baseURL, token, studentID, "CS")
}

func seedStudentInStream(t *testing.T, baseURL, token, studentID, stream string) string {
	t.Helper()
	resp, body := doRequest(t, http.MethodPost, baseURL+"/students", token, map[string]string{
		"student_id": studentID,
		"name":       "Integration " + studentID,
		"department": "CSE",
		"stream":     stream,
		"year":       "3",
	})
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		t.Fatalf("seed student %s: status %d: %s", studentID, resp.StatusCode, body)
	}
	return studentID
}

func seedSubject(t *testing.T, baseURL, token, name, stream, year, semester string) {
	t.Helper()
	resp, body := doRequest(t, http.MethodPost, baseURL+"/subjects", token, map[string]string{
		"name":     name,
		"stream":   stream,
		"year":     year,
		"semester": semester,
	})
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		t.Fatalf("seed subject %s/%s: status %d: %s", name, stream, resp.StatusCode, body)
	}
}

func getLecture(t *testing.T, baseURL, token, lectureKey string) lectureResponse {
	t.Helper()
	resp, body := doRequest(t, http.MethodGet, baseURL+"/attendance/"+lectureKey, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get lecture %s: status %d", lectureKey, resp.StatusCode)
	}
	var lecture lectureResponse
	if err := json.Unmarshal(body, &lecture); err != nil {
		t.Fatalf("decode lecture: %v", err)
	}
	return lecture
}

func doRequest(t *testing.T, method, url, token string, payload interface{}) (*http.Response, []byte) {
	t.Helper()
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, bytes.NewBuffer(bodyBytes))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, body
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
