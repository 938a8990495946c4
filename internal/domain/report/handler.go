package report

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/openrad/openrad/pkg/pagination"
)

// Generator produces a draft document from clinician input. Implemented by
// the reportgen client.
type Generator interface {
	Generate(ctx context.Context, pctx PatientContext, defaults Defaults) (Document, error)
}

type Handler struct {
	svc *Service
	gen Generator
}

func NewHandler(svc *Service, gen Generator) *Handler {
	return &Handler{svc: svc, gen: gen}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reports/generate", h.GenerateReport)
	api.POST("/reports", h.CreateReport)
	api.GET("/reports", h.ListReports)
	api.GET("/reports/:id", h.GetReport)
	api.PATCH("/reports/:id", h.PatchReport)
	api.POST("/reports/:id/status", h.SetReportStatus)
	api.POST("/reports/:id/comments", h.AddReportComment)
	api.DELETE("/reports", h.ClearReports)
}

// maxImageBytes bounds the uploaded study image.
const maxImageBytes = 20 << 20

// GenerateReport accepts the clinician's patient context as a multipart form,
// runs the generation client, and persists the resulting draft.
func (h *Handler) GenerateReport(c echo.Context) error {
	var pctx PatientContext
	if err := c.Bind(&pctx); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if pctx.FullName == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_name is required")
	}
	if pctx.Modality == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "modality is required")
	}

	if fh, err := c.FormFile("image"); err == nil {
		if fh.Size > maxImageBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image exceeds 20MB limit")
		}
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot read image upload")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxImageBytes+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cannot read image upload")
		}
		if len(data) > maxImageBytes {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "image exceeds 20MB limit")
		}
		pctx.Image = data
		pctx.ImageName = fh.Filename
	}

	doc, err := h.gen.Generate(c.Request().Context(), pctx, h.svc.profile.Defaults())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	rec := h.svc.Save(c.Request().Context(), doc)
	return c.JSON(http.StatusCreated, rec)
}

// CreateReport saves an externally produced document as-is, after filling any
// missing sections with defaults.
func (h *Handler) CreateReport(c echo.Context) error {
	var doc Document
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec := h.svc.NormalizeAndSave(c.Request().Context(), doc, PatientContext{})
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) ListReports(c echo.Context) error {
	pg := pagination.FromContext(c)
	records := h.svc.List(c.Request().Context())

	total := len(records)
	start, end := pg.Slice(total)
	return c.JSON(http.StatusOK, pagination.NewResponse(records[start:end], total, pg.Limit, pg.Offset))
}

func (h *Handler) GetReport(c echo.Context) error {
	rec, ok := h.svc.Get(c.Request().Context(), c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusOK, rec)
}

// PatchReport shallow-merges top-level document fields into the remote copy.
func (h *Handler) PatchReport(c echo.Context) error {
	var updates map[string]json.RawMessage
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(updates) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "empty patch")
	}
	if !h.svc.Patch(c.Request().Context(), c.Param("id"), updates) {
		return echo.NewHTTPError(http.StatusNotFound, "report not found in remote store")
	}
	return c.JSON(http.StatusOK, map[string]bool{"updated": true})
}

type statusRequest struct {
	Status          string `json:"status"`
	Signature       string `json:"signature"`
	RejectionReason string `json:"rejection_reason"`
	Notes           string `json:"notes"`
}

func (h *Handler) SetReportStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	switch Status(req.Status) {
	case StatusPending, StatusApproved, StatusRejected, StatusFinal:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}

	ok := h.svc.SetStatus(c.Request().Context(), c.Param("id"), Status(req.Status), ActionData{
		Signature:       req.Signature,
		RejectionReason: req.RejectionReason,
		Notes:           req.Notes,
	})
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "status change failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}

type commentRequest struct {
	Text string `json:"text"`
}

func (h *Handler) AddReportComment(c echo.Context) error {
	var req commentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	comment, ok := h.svc.AddComment(c.Request().Context(), c.Param("id"), req.Text)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.JSON(http.StatusCreated, comment)
}

func (h *Handler) ClearReports(c echo.Context) error {
	if !h.svc.ClearAll(c.Request().Context()) {
		return echo.NewHTTPError(http.StatusBadGateway, "remote deletion failed")
	}
	return c.NoContent(http.StatusNoContent)
}
