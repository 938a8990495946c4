package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type mockGenerator struct {
	doc Document
	err error
}

func (m *mockGenerator) Generate(_ context.Context, pctx PatientContext, _ Defaults) (Document, error) {
	if m.err != nil {
		return Document{}, m.err
	}
	doc := m.doc
	if doc.Patient.Name == "" {
		doc.Patient.Name = pctx.FullName
	}
	return doc, nil
}

func newTestHandler(local *mockLocal, remote RemoteStore, gen Generator) (*Handler, *echo.Echo) {
	svc := newTestService(local, remote)
	if gen == nil {
		gen = &mockGenerator{doc: testDoc("RAD-GEN", StatusPending)}
	}
	return NewHandler(svc, gen), echo.New()
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestGenerateReport_SavesDraft(t *testing.T) {
	local := &mockLocal{}
	h, e := newTestHandler(local, nil, nil)

	body, contentType := multipartBody(t, map[string]string{
		"patient_name": "Sam Park",
		"patient_age":  "61",
		"modality":     "X-Ray",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/generate", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.GenerateReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if len(local.records) != 1 {
		t.Fatalf("expected 1 saved record, got %d", len(local.records))
	}

	var saved Record
	if err := json.Unmarshal(rec.Body.Bytes(), &saved); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(saved.ID, LocalIDPrefix) {
		t.Errorf("expected local id, got %q", saved.ID)
	}
}

func TestGenerateReport_MissingFields(t *testing.T) {
	h, e := newTestHandler(&mockLocal{}, nil, nil)

	body, contentType := multipartBody(t, map[string]string{"modality": "CT"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/generate", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.GenerateReport(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestGenerateReport_UpstreamFailure(t *testing.T) {
	h, e := newTestHandler(&mockLocal{}, nil, &mockGenerator{err: errors.New("webhook returned 500")})

	body, contentType := multipartBody(t, map[string]string{
		"patient_name": "Sam Park",
		"modality":     "CT",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/generate", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.GenerateReport(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
}

func TestCreateReport(t *testing.T) {
	local := &mockLocal{}
	h, e := newTestHandler(local, nil, nil)

	payload, _ := json.Marshal(testDoc("RAD-1", StatusPending))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", bytes.NewReader(payload))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(local.records) != 1 {
		t.Fatalf("expected saved record, got %d", len(local.records))
	}
}

func TestListReports_Paginates(t *testing.T) {
	local := &mockLocal{}
	for i := 0; i < 5; i++ {
		local.records = append(local.records, &Record{ID: NewLocalID(), ReportData: testDoc("", StatusPending)})
	}
	h, e := newTestHandler(local, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=2&offset=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data    []Record `json:"data"`
		Total   int      `json:"total"`
		HasMore bool     `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 5 {
		t.Errorf("total = %d, want 5", resp.Total)
	}
	if len(resp.Data) != 2 {
		t.Errorf("page size = %d, want 2", len(resp.Data))
	}
	if !resp.HasMore {
		t.Error("expected has_more")
	}
}

func TestListReports_FirstPageIsNewestRecord(t *testing.T) {
	now := time.Now().UTC()
	remote := &mockRemote{records: []*Record{
		{ID: "uuid-old", ReportData: testDoc("RAD-1", StatusPending), CreatedAt: now.Add(-24 * time.Hour)},
	}}
	local := &mockLocal{records: []*Record{
		{ID: "local_new", ReportData: testDoc("RAD-2", StatusPending), CreatedAt: now},
	}}
	h, e := newTestHandler(local, remote, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports?limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var resp struct {
		Data  []Record `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "local_new" {
		t.Fatalf("first page = %+v, want the newest record local_new", resp.Data)
	}
}

func TestGetReport_NotFound(t *testing.T) {
	h, e := newTestHandler(&mockLocal{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/ghost", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	err := h.GetReport(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestPatchReport_RemoteOnly(t *testing.T) {
	remote := &mockRemote{records: []*Record{{ID: "uuid-1", ReportData: testDoc("RAD-1", StatusPending)}}}
	h, e := newTestHandler(&mockLocal{}, remote, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/reports/uuid-1",
		strings.NewReader(`{"impression":["updated"]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("uuid-1")

	if err := h.PatchReport(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := remote.records[0].ReportData.Impression; len(got) != 1 || got[0] != "updated" {
		t.Errorf("impression = %v", got)
	}
}

func TestSetReportStatus(t *testing.T) {
	local := &mockLocal{records: []*Record{{ID: "local_1", ReportData: testDoc("RAD-1", StatusPending)}}}
	h, e := newTestHandler(local, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/local_1/status",
		strings.NewReader(`{"status":"Approved","signature":"sig"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("local_1")

	if err := h.SetReportStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if local.records[0].ReportData.ReportFooter.ReportStatus != StatusApproved {
		t.Error("expected record approved")
	}
}

func TestSetReportStatus_UnknownStatus(t *testing.T) {
	h, e := newTestHandler(&mockLocal{}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/x/status",
		strings.NewReader(`{"status":"Archived"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("x")

	err := h.SetReportStatus(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestSetReportStatus_InvalidTransition(t *testing.T) {
	local := &mockLocal{records: []*Record{{ID: "local_1", ReportData: testDoc("RAD-1", StatusFinal)}}}
	h, e := newTestHandler(local, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/local_1/status",
		strings.NewReader(`{"status":"Approved"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("local_1")

	err := h.SetReportStatus(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
}

func TestAddReportComment(t *testing.T) {
	local := &mockLocal{records: []*Record{{ID: "local_1", ReportData: testDoc("RAD-1", StatusPending)}}}
	h, e := newTestHandler(local, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/local_1/comments",
		strings.NewReader(`{"text":"needs comparison views"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("local_1")

	if err := h.AddReportComment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}

	var comment Comment
	if err := json.Unmarshal(rec.Body.Bytes(), &comment); err != nil {
		t.Fatal(err)
	}
	if comment.Text != "needs comparison views" {
		t.Errorf("text = %q", comment.Text)
	}
}

func TestClearReports(t *testing.T) {
	local := &mockLocal{records: []*Record{{ID: "local_1"}}}
	remote := &mockRemote{records: []*Record{{ID: "uuid-1"}}}
	h, e := newTestHandler(local, remote, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reports", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ClearReports(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(local.records) != 0 || len(remote.records) != 0 {
		t.Error("expected both stores cleared")
	}
}

func TestClearReports_RemoteFailure(t *testing.T) {
	remote := &mockRemote{deleteErr: errors.New("denied")}
	h, e := newTestHandler(&mockLocal{}, remote, nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/reports", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.ClearReports(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %v", err)
	}
}

func TestReportWorkflow_GenerateApproveList(t *testing.T) {
	local := &mockLocal{}
	h, e := newTestHandler(local, nil, nil)

	// Generate a draft from the clinician's context.
	body, contentType := multipartBody(t, map[string]string{
		"patient_name": "Sam Park",
		"patient_age":  "61",
		"modality":     "CT",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports/generate", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	if err := h.GenerateReport(e.NewContext(req, rec)); err != nil {
		t.Fatalf("generate: %v", err)
	}
	var draft Record
	if err := json.Unmarshal(rec.Body.Bytes(), &draft); err != nil {
		t.Fatal(err)
	}
	if draft.ReportData.ReportFooter.ReportStatus != StatusPending {
		t.Fatalf("draft status = %s, want Pending", draft.ReportData.ReportFooter.ReportStatus)
	}

	// Approve it with a signature and a note.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/reports/"+draft.ID+"/status",
		strings.NewReader(`{"status":"Approved","signature":"sig-1","notes":"verified against prior study"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(draft.ID)
	if err := h.SetReportStatus(c); err != nil {
		t.Fatalf("set status: %v", err)
	}

	// The list reflects the approval, its audit entry, and the note.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	rec = httptest.NewRecorder()
	if err := h.ListReports(e.NewContext(req, rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var resp struct {
		Data  []Record `json:"data"`
		Total int      `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Fatalf("expected exactly one report, got %+v", resp)
	}

	doc := resp.Data[0].ReportData
	f := doc.ReportFooter
	if f.ReportStatus != StatusApproved {
		t.Errorf("status = %s, want Approved", f.ReportStatus)
	}
	if f.ApprovedBy != "Dr. Chen" || f.Signature != "sig-1" {
		t.Errorf("approval stamp = %q / %q", f.ApprovedBy, f.Signature)
	}
	if doc.Collaboration == nil {
		t.Fatal("expected collaboration block")
	}
	if len(doc.Collaboration.Logs) != 1 || doc.Collaboration.Logs[0].Action != "Status Changed to Approved" {
		t.Fatalf("audit logs = %+v", doc.Collaboration.Logs)
	}
	if len(doc.Collaboration.Comments) != 1 || doc.Collaboration.Comments[0].Text != "verified against prior study" {
		t.Fatalf("comments = %+v", doc.Collaboration.Comments)
	}
}
