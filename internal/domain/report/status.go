package report

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// statusTransitions defines the review workflow. Pending is the initial state
// and is re-enterable: a rejected report can be reopened ("unreject") and an
// approved one can be reset. Approved accepts a repeat approval, which
// restamps the approval block. Final is reachable only by ingesting an
// already-final external document; no in-app transition produces or leaves it.
var statusTransitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected},
	StatusApproved: {StatusApproved, StatusPending},
	StatusRejected: {StatusPending},
	StatusFinal:    {},
}

// ValidateTransition reports whether a report may move from one status to
// another.
func ValidateTransition(from, to Status) error {
	allowed, ok := statusTransitions[from]
	if !ok {
		return fmt.Errorf("unknown status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s", from, to)
}

// ActionData carries the optional payload of a status change.
type ActionData struct {
	Signature       string `json:"signature,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// Actor identifies who performed a transition, resolved from the stored
// profile by the caller.
type Actor struct {
	Name string
	Role string
}

// ApplyTransition mutates the document for a status change: it updates the
// footer, stamps approval or rejection data, and appends exactly one audit
// log entry plus at most one comment to the collaboration block. The document
// is untouched when the transition is invalid.
func ApplyTransition(doc *Document, to Status, data ActionData, actor Actor) error {
	if err := ValidateTransition(doc.ReportFooter.ReportStatus, to); err != nil {
		return err
	}
	if actor.Name == "" {
		actor.Name = "System"
	}
	if actor.Role == "" {
		actor.Role = "System"
	}
	now := time.Now().UTC().Format(time.RFC3339)

	doc.ReportFooter.ReportStatus = to
	switch to {
	case StatusApproved:
		doc.ReportFooter.ApprovedAt = now
		doc.ReportFooter.ApprovedBy = actor.Name
		if data.Signature != "" {
			doc.ReportFooter.Signature = data.Signature
		}
	case StatusRejected:
		if data.RejectionReason != "" {
			doc.ReportFooter.RejectionReason = data.RejectionReason
		}
	}

	collab := doc.EnsureCollaboration()
	collab.Logs = append(collab.Logs, AuditLog{
		ID:        uuid.New().String(),
		Action:    fmt.Sprintf("Status Changed to %s", to),
		User:      actor.Name,
		Timestamp: now,
		Details:   transitionDetails(to, data),
	})

	if text := commentText(data); text != "" {
		collab.Comments = append(collab.Comments, Comment{
			ID:        uuid.New().String(),
			Author:    actor.Name,
			Role:      actor.Role,
			Text:      text,
			Timestamp: now,
		})
	}
	return nil
}

func transitionDetails(to Status, data ActionData) string {
	switch to {
	case StatusRejected:
		return fmt.Sprintf("Reason: %s", data.RejectionReason)
	case StatusApproved:
		return "Report Approved"
	default:
		return "Status reset"
	}
}

func commentText(data ActionData) string {
	if data.Notes != "" {
		return data.Notes
	}
	return data.RejectionReason
}

// AppendComment adds a collaboration comment and its matching audit entry.
// Comments are append-only; nothing short of full document deletion removes
// them.
func AppendComment(doc *Document, text string, actor Actor) Comment {
	if actor.Name == "" {
		actor.Name = "System"
	}
	if actor.Role == "" {
		actor.Role = "System"
	}
	now := time.Now().UTC().Format(time.RFC3339)

	collab := doc.EnsureCollaboration()
	c := Comment{
		ID:        uuid.New().String(),
		Author:    actor.Name,
		Role:      actor.Role,
		Text:      text,
		Timestamp: now,
	}
	collab.Comments = append(collab.Comments, c)
	collab.Logs = append(collab.Logs, AuditLog{
		ID:        uuid.New().String(),
		Action:    "Comment Added",
		User:      actor.Name,
		Timestamp: now,
	})
	return c
}
