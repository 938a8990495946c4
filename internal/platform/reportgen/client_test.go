package reportgen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openrad/openrad/internal/domain/report"
)

type staticURL string

func (s staticURL) WebhookURL() string { return string(s) }

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func sampleResponseDoc() report.Document {
	return report.Document{
		ReportHeader: report.ReportHeader{ReportID: "RAD-77", ReportTitle: "Radiology Report"},
		Patient:      report.Patient{Name: "Sam Park", Age: 61, Gender: "Male"},
		Study:        report.Study{Modality: "CT", Examination: "CT Scan", Views: "Axial"},
		Impression:   []string{"no acute findings"},
		ReportFooter: report.ReportFooter{ReportStatus: report.StatusPending},
	}
}

func TestDecodeResponse_Shapes(t *testing.T) {
	doc := sampleResponseDoc()
	raw, _ := json.Marshal(doc)

	tests := []struct {
		name string
		body []byte
	}{
		{"bare object", raw},
		{"array", []byte(`[` + string(raw) + `]`)},
		{"output envelope", []byte(`{"output":` + string(raw) + `}`)},
		{"data envelope", []byte(`{"data":` + string(raw) + `}`)},
		{"array of output envelopes", []byte(`[{"output":` + string(raw) + `}]`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeResponse(tt.body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ReportHeader.ReportID != "RAD-77" {
				t.Errorf("report id = %q", got.ReportHeader.ReportID)
			}
			if got.Patient.Name != "Sam Park" {
				t.Errorf("patient = %+v", got.Patient)
			}
		})
	}
}

func TestDecodeResponse_Errors(t *testing.T) {
	for _, body := range []string{"", "[]", "not json"} {
		if _, err := DecodeResponse([]byte(body)); err == nil {
			t.Errorf("expected error for %q", body)
		}
	}
}

func TestGenerate_Unconfigured_ReturnsSample(t *testing.T) {
	c := NewClient(staticURL(""), testLogger())
	pctx := report.PatientContext{FullName: "Sam Park", Age: 61, Modality: "MRI"}

	doc, err := c.Generate(context.Background(), pctx, report.Defaults{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Patient.Name != "Sam Park" {
		t.Errorf("patient = %+v", doc.Patient)
	}
	if doc.Study.Modality != "MRI" || doc.Study.Examination != "MRI Scan" {
		t.Errorf("study = %+v", doc.Study)
	}
	if doc.ReportFooter.ReportStatus != report.StatusPending {
		t.Errorf("status = %s", doc.ReportFooter.ReportStatus)
	}
	if doc.ReportHeader.ReportID == "" {
		t.Error("expected normalized header")
	}
	if len(doc.Findings) == 0 || len(doc.Impression) == 0 {
		t.Error("expected sample findings and impression")
	}
}

func TestGenerate_PostsMultipartForm(t *testing.T) {
	var gotFields map[string]string
	var gotImage []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		if f, _, err := r.FormFile("image"); err == nil {
			buf := make([]byte, 16)
			n, _ := f.Read(buf)
			gotImage = buf[:n]
			f.Close()
		}
		raw, _ := json.Marshal(sampleResponseDoc())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"output":` + string(raw) + `}`))
	}))
	defer srv.Close()

	c := NewClient(staticURL(srv.URL), testLogger())
	pctx := report.PatientContext{
		FullName:   "Sam Park",
		Age:        61,
		Gender:     "Male",
		Symptoms:   "cough",
		History:    "none",
		Indication: "screening",
		Modality:   "CT",
		Image:      []byte("fakepng"),
		ImageName:  "scan.png",
	}

	doc, err := c.Generate(context.Background(), pctx, report.Defaults{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]string{
		"patient_name":   "Sam Park",
		"patient_age":    "61",
		"patient_gender": "Male",
		"symptoms":       "cough",
		"history":        "none",
		"indication":     "screening",
		"modality":       "CT",
	}
	for k, v := range want {
		if gotFields[k] != v {
			t.Errorf("form field %s = %q, want %q", k, gotFields[k], v)
		}
	}
	if string(gotImage) != "fakepng" {
		t.Errorf("image payload = %q", gotImage)
	}
	if doc.ReportHeader.ReportID != "RAD-77" {
		t.Errorf("report id = %q", doc.ReportHeader.ReportID)
	}
	if doc.ImageData != base64.StdEncoding.EncodeToString([]byte("fakepng")) {
		t.Errorf("expected image attached as base64, got %q", doc.ImageData)
	}
}

func TestGenerate_Non2xxStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(staticURL(srv.URL), testLogger())
	_, err := c.Generate(context.Background(), report.PatientContext{FullName: "X", Modality: "CT"}, report.Defaults{})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestGenerate_Unreachable(t *testing.T) {
	c := NewClient(staticURL("http://127.0.0.1:1"), testLogger())
	_, err := c.Generate(context.Background(), report.PatientContext{FullName: "X", Modality: "CT"}, report.Defaults{})
	if err == nil {
		t.Fatal("expected error for unreachable webhook")
	}
}

func TestGenerate_NormalizesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Minimal response: normalization must fill the rest.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"impression":["possible effusion"],"urgency":"URGENT"}`))
	}))
	defer srv.Close()

	c := NewClient(staticURL(srv.URL), testLogger())
	pctx := report.PatientContext{FullName: "Ana Cruz", Age: 30, Gender: "Female", Modality: "Ultrasound"}
	defaults := report.Defaults{HospitalName: "City General", Department: "Imaging"}

	doc, err := c.Generate(context.Background(), pctx, defaults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Patient.Name != "Ana Cruz" {
		t.Errorf("patient backfilled = %+v", doc.Patient)
	}
	if doc.ReportHeader.HospitalName != "City General" {
		t.Errorf("hospital = %q", doc.ReportHeader.HospitalName)
	}
	if doc.Urgency != report.UrgencyUrgent {
		t.Errorf("urgency = %s", doc.Urgency)
	}
	if doc.ReportFooter.ReportStatus != report.StatusPending {
		t.Errorf("status = %s", doc.ReportFooter.ReportStatus)
	}
}

func TestMockDocument_DefaultModality(t *testing.T) {
	doc := MockDocument(report.PatientContext{FullName: "X"})
	if doc.Study.Modality != "X-Ray" {
		t.Errorf("modality = %q, want X-Ray fallback", doc.Study.Modality)
	}
}
