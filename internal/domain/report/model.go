package report

import (
	"fmt"
	"strings"
	"time"
)

// Status is the review state carried in the report footer.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
	StatusFinal    Status = "Final"
)

// ParseStatus maps a free-form status value from an external source to a known
// Status. Anything unrecognized (PRELIMINARY, DRAFT, empty, ...) becomes Pending.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVED":
		return StatusApproved
	case "REJECTED":
		return StatusRejected
	case "FINAL":
		return StatusFinal
	default:
		return StatusPending
	}
}

// Urgency classifies how quickly a report needs review.
type Urgency string

const (
	UrgencyRoutine  Urgency = "Routine"
	UrgencyUrgent   Urgency = "Urgent"
	UrgencyCritical Urgency = "Critical"
)

// ParseUrgency maps a free-form urgency value to a known Urgency, defaulting
// to Routine.
func ParseUrgency(s string) Urgency {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "URGENT":
		return UrgencyUrgent
	case "CRITICAL":
		return UrgencyCritical
	default:
		return UrgencyRoutine
	}
}

// FindingStatus classifies a single finding.
type FindingStatus string

const (
	FindingNormal         FindingStatus = "normal"
	FindingAbnormal       FindingStatus = "abnormal"
	FindingIndeterminate  FindingStatus = "indeterminate"
	FindingPostProcedural FindingStatus = "post_procedural"
)

// ReportHeader identifies the report document. ReportID is the document-level
// identity key used to match the same logical report across stores; it is
// assigned once at generation time and never rewritten.
type ReportHeader struct {
	HospitalName string `json:"hospital_name"`
	Department   string `json:"department"`
	ReportTitle  string `json:"report_title"`
	ReportID     string `json:"report_id"`
	ReportDate   string `json:"report_date"`
}

// Patient holds the demographic block of the report.
type Patient struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

// ClinicalInformation holds the referring context.
type ClinicalInformation struct {
	Symptoms   string `json:"symptoms"`
	History    string `json:"history"`
	Indication string `json:"indication"`
}

// Study describes the imaging study the report covers.
type Study struct {
	Modality    string `json:"modality"`
	Examination string `json:"examination"`
	Views       string `json:"views"`
}

// Finding is a single observation tied to an anatomical region.
type Finding struct {
	AnatomicalRegion string        `json:"anatomical_region"`
	Observation      string        `json:"observation"`
	Status           FindingStatus `json:"status"`
}

// ReportFooter carries preparer identity and the review lifecycle state.
// The approval block (ApprovedBy/ApprovedAt/Signature) is set only on
// Approved transitions; RejectionReason is set on Rejected transitions and is
// not cleared when the report later returns to Pending.
type ReportFooter struct {
	PreparedBy      string `json:"prepared_by"`
	Department      string `json:"department"`
	ReportStatus    Status `json:"report_status"`
	ApprovedBy      string `json:"approved_by,omitempty"`
	ApprovedAt      string `json:"approved_at,omitempty"`
	Signature       string `json:"signature,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

// Comment is a collaboration note. Immutable once created.
type Comment struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// AuditLog records one state-changing operation. Immutable once created.
type AuditLog struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	User      string `json:"user"`
	Timestamp string `json:"timestamp"`
	Details   string `json:"details,omitempty"`
}

// CollaborationBlock is the append-only comments + audit trail pair attached
// to a document. Entries are never reordered or deleted through normal
// operation; only full document deletion removes them.
type CollaborationBlock struct {
	Comments []Comment  `json:"comments"`
	Logs     []AuditLog `json:"logs"`
}

// Document is the canonical structured report payload. JSON field names match
// the wire format produced by the generation webhook.
type Document struct {
	ReportHeader        ReportHeader        `json:"report_header"`
	Patient             Patient             `json:"patient"`
	ClinicalInformation ClinicalInformation `json:"clinical_information"`
	Study               Study               `json:"study"`
	Findings            []Finding           `json:"findings"`
	Impression          []string            `json:"impression"`
	Urgency             Urgency             `json:"urgency"`
	Recommendations     []string            `json:"recommendations"`
	ReportFooter        ReportFooter        `json:"report_footer"`
	Disclaimer          string              `json:"disclaimer"`
	ImageData           string              `json:"image_data,omitempty"`
	Collaboration       *CollaborationBlock `json:"collaboration,omitempty"`
}

// Record is the persisted envelope around a Document. The storage ID is
// store-local: remote ids are store-generated UUIDs, local ids carry the
// "local_" prefix so the two are distinguishable.
type Record struct {
	ID          string    `json:"id" db:"id"`
	PatientName string    `json:"patient_name" db:"patient_name"`
	Modality    string    `json:"modality" db:"modality"`
	Urgency     Urgency   `json:"urgency" db:"urgency"`
	ReportData  Document  `json:"report_data" db:"report_data"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// LocalIDPrefix marks records created by the local store adapter.
const LocalIDPrefix = "local_"

// NewLocalID returns a record id unique within one device.
func NewLocalID() string {
	return fmt.Sprintf("%s%d", LocalIDPrefix, time.Now().UnixNano())
}

// IdentityKey returns the cross-store join key for this record: the
// document-level report id when present, otherwise the storage id.
func (r *Record) IdentityKey() string {
	if rid := r.ReportData.ReportHeader.ReportID; rid != "" {
		return rid
	}
	return r.ID
}

// NewRecord wraps a document in a fresh local-store envelope, denormalizing
// the summary fields used by list views. The modality column carries the
// examination label (e.g. "CT Scan"), matching what historical records hold.
func NewRecord(doc Document) *Record {
	return &Record{
		ID:          NewLocalID(),
		PatientName: doc.Patient.Name,
		Modality:    doc.Study.Examination,
		Urgency:     doc.Urgency,
		ReportData:  doc,
		CreatedAt:   time.Now().UTC(),
	}
}

// DefaultDisclaimer is attached to generated documents that carry none.
const DefaultDisclaimer = "This AI-generated report is for reference only and must be verified by a licensed radiologist."

// Defaults supplies profile-derived fallback values for normalization.
type Defaults struct {
	HospitalName string
	Department   string
	PreparedBy   string
}

// PatientContext is the clinician-entered input handed to the generation
// client and used to backfill missing document sections.
type PatientContext struct {
	FullName   string `json:"patient_name" form:"patient_name"`
	Age        int    `json:"patient_age" form:"patient_age"`
	Gender     string `json:"patient_gender" form:"patient_gender"`
	Symptoms   string `json:"symptoms" form:"symptoms"`
	History    string `json:"history" form:"history"`
	Indication string `json:"indication" form:"indication"`
	Modality   string `json:"modality" form:"modality"`

	// Image bytes are optional; Name is the original upload filename.
	Image     []byte `json:"-" form:"-"`
	ImageName string `json:"-" form:"-"`
}

// Normalize fills every missing section of a document ingested from the
// generation webhook (or from either store) so that internal code can rely on
// a fully populated shape. Present values are kept as-is; the status and
// urgency fields are coerced to known enum values.
func Normalize(doc Document, ctx PatientContext, d Defaults) Document {
	if d.HospitalName == "" {
		d.HospitalName = "Hospital"
	}
	if d.Department == "" {
		d.Department = "Radiology"
	}
	if d.PreparedBy == "" {
		d.PreparedBy = "OpenRad AI"
	}

	header := doc.ReportHeader
	if header.HospitalName == "" {
		header.HospitalName = d.HospitalName
	}
	if header.Department == "" {
		header.Department = d.Department
	}
	if header.ReportTitle == "" {
		header.ReportTitle = "Radiology Report"
	}
	if header.ReportID == "" {
		header.ReportID = fmt.Sprintf("RAD-%d", time.Now().UnixMilli())
	}
	if header.ReportDate == "" {
		header.ReportDate = time.Now().UTC().Format(time.RFC3339)
	}
	doc.ReportHeader = header

	patient := doc.Patient
	if patient.Name == "" {
		patient.Name = ctx.FullName
	}
	if patient.Age == 0 {
		patient.Age = ctx.Age
	}
	if patient.Gender == "" {
		patient.Gender = ctx.Gender
	}
	doc.Patient = patient

	info := doc.ClinicalInformation
	if info.Symptoms == "" {
		info.Symptoms = ctx.Symptoms
	}
	if info.History == "" {
		info.History = ctx.History
	}
	if info.Indication == "" {
		info.Indication = ctx.Indication
	}
	doc.ClinicalInformation = info

	study := doc.Study
	if study.Modality == "" {
		study.Modality = ctx.Modality
	}
	if study.Examination == "" && study.Modality != "" {
		study.Examination = study.Modality + " Scan"
	}
	if study.Views == "" {
		study.Views = "Standard Views"
	}
	doc.Study = study
	if doc.Findings == nil {
		doc.Findings = []Finding{}
	}
	if doc.Impression == nil {
		doc.Impression = []string{}
	}
	if doc.Recommendations == nil {
		doc.Recommendations = []string{}
	}
	doc.Urgency = ParseUrgency(string(doc.Urgency))

	footer := doc.ReportFooter
	if footer.PreparedBy == "" {
		footer.PreparedBy = d.PreparedBy
	}
	if footer.Department == "" {
		footer.Department = d.Department
	}
	footer.ReportStatus = ParseStatus(string(footer.ReportStatus))
	doc.ReportFooter = footer

	if doc.Disclaimer == "" {
		doc.Disclaimer = DefaultDisclaimer
	}
	return doc
}

// EnsureCollaboration returns the document's collaboration block, attaching an
// empty one first when absent.
func (d *Document) EnsureCollaboration() *CollaborationBlock {
	if d.Collaboration == nil {
		d.Collaboration = &CollaborationBlock{Comments: []Comment{}, Logs: []AuditLog{}}
	}
	return d.Collaboration
}
