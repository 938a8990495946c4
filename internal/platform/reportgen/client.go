// Package reportgen calls the external report-generation webhook: it posts the
// clinician-entered patient context plus the study image as a multipart form
// and decodes whatever envelope the webhook wraps the draft document in. When
// no webhook is configured the client produces a canned sample document so the
// rest of the workflow stays usable.
package reportgen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/openrad/openrad/internal/domain/report"
)

// URLSource resolves the effective webhook URL at call time, so settings
// changes take effect without a restart. An empty URL means unconfigured.
type URLSource interface {
	WebhookURL() string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// Client generates report documents through the configured webhook.
type Client struct {
	urls       URLSource
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a generation client. Generation can take a while on the
// model side, so the default timeout is generous.
func NewClient(urls URLSource, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		urls:   urls,
		logger: logger,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Generate produces a normalized report document for the given patient
// context. Without a configured webhook it returns a sample document; with one
// it posts the context and image and normalizes the response. The returned
// document always carries the uploaded image as base64 in image_data.
func (c *Client) Generate(ctx context.Context, pctx report.PatientContext, defaults report.Defaults) (report.Document, error) {
	webhookURL := c.urls.WebhookURL()
	if webhookURL == "" {
		c.logger.Warn().Msg("no generation webhook configured, returning sample report")
		doc := MockDocument(pctx)
		doc = report.Normalize(doc, pctx, defaults)
		attachImage(&doc, pctx)
		return doc, nil
	}

	body, contentType, err := encodeForm(pctx)
	if err != nil {
		return report.Document{}, fmt.Errorf("encode generation request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, body)
	if err != nil {
		return report.Document{}, fmt.Errorf("build generation request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return report.Document{}, fmt.Errorf("generation webhook unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return report.Document{}, fmt.Errorf("read generation response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return report.Document{}, fmt.Errorf("generation webhook returned %d", resp.StatusCode)
	}

	doc, err := DecodeResponse(raw)
	if err != nil {
		return report.Document{}, err
	}
	c.logger.Info().
		Dur("duration", time.Since(start)).
		Str("modality", pctx.Modality).
		Msg("report generated")

	doc = report.Normalize(doc, pctx, defaults)
	attachImage(&doc, pctx)
	return doc, nil
}

// encodeForm builds the multipart body the webhook expects: one text field per
// patient-context value plus the raw image under "image".
func encodeForm(pctx report.PatientContext) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := map[string]string{
		"patient_name":   pctx.FullName,
		"patient_age":    strconv.Itoa(pctx.Age),
		"patient_gender": pctx.Gender,
		"symptoms":       pctx.Symptoms,
		"history":        pctx.History,
		"indication":     pctx.Indication,
		"modality":       pctx.Modality,
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, "", err
		}
	}
	if len(pctx.Image) > 0 {
		name := pctx.ImageName
		if name == "" {
			name = "image"
		}
		fw, err := w.CreateFormFile("image", name)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(pctx.Image); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// DecodeResponse unwraps the webhook response into a document. Deployed
// webhooks answer in several shapes: a bare document, a one-element array of
// documents, or the document nested under "output" or "data".
func DecodeResponse(raw []byte) (report.Document, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return report.Document{}, fmt.Errorf("empty generation response")
	}

	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return report.Document{}, fmt.Errorf("decode generation response: %w", err)
		}
		if len(arr) == 0 {
			return report.Document{}, fmt.Errorf("generation response array is empty")
		}
		return DecodeResponse(arr[0])
	}

	var envelope struct {
		Output json.RawMessage `json:"output"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return report.Document{}, fmt.Errorf("decode generation response: %w", err)
	}
	if len(envelope.Output) > 0 && !bytes.Equal(bytes.TrimSpace(envelope.Output), []byte("null")) {
		return DecodeResponse(envelope.Output)
	}
	if len(envelope.Data) > 0 && !bytes.Equal(bytes.TrimSpace(envelope.Data), []byte("null")) {
		return DecodeResponse(envelope.Data)
	}

	var doc report.Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return report.Document{}, fmt.Errorf("decode generation response: %w", err)
	}
	return doc, nil
}

func attachImage(doc *report.Document, pctx report.PatientContext) {
	if len(pctx.Image) > 0 && doc.ImageData == "" {
		doc.ImageData = base64.StdEncoding.EncodeToString(pctx.Image)
	}
}

// MockDocument builds a plausible sample report from the patient context. It
// is returned when no webhook is configured so the review workflow can be
// exercised end to end without an upstream model.
func MockDocument(pctx report.PatientContext) report.Document {
	modality := pctx.Modality
	if modality == "" {
		modality = "X-Ray"
	}
	return report.Document{
		Patient: report.Patient{
			Name:   pctx.FullName,
			Age:    pctx.Age,
			Gender: pctx.Gender,
		},
		ClinicalInformation: report.ClinicalInformation{
			Symptoms:   pctx.Symptoms,
			History:    pctx.History,
			Indication: pctx.Indication,
		},
		Study: report.Study{
			Modality:    modality,
			Examination: modality + " Scan",
			Views:       "Standard Views",
		},
		Findings: []report.Finding{
			{
				AnatomicalRegion: "Lungs",
				Observation:      "Lung fields are clear. No focal consolidation, effusion, or pneumothorax.",
				Status:           report.FindingNormal,
			},
			{
				AnatomicalRegion: "Heart",
				Observation:      "Cardiac silhouette is within normal limits.",
				Status:           report.FindingNormal,
			},
			{
				AnatomicalRegion: "Bones",
				Observation:      "No acute osseous abnormality.",
				Status:           report.FindingNormal,
			},
		},
		Impression: []string{
			"No acute cardiopulmonary abnormality.",
		},
		Urgency: report.UrgencyRoutine,
		Recommendations: []string{
			"Clinical correlation recommended.",
			"Follow-up imaging if symptoms persist.",
		},
		ReportFooter: report.ReportFooter{
			ReportStatus: report.StatusPending,
		},
	}
}
