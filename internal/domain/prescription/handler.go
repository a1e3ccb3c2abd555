package prescription

import (
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medivault/medivault/internal/platform/apperr"
	"github.com/medivault/medivault/internal/platform/auth"
	"github.com/medivault/medivault/internal/platform/pdfconv"
	"github.com/medivault/medivault/pkg/pagination"
	"github.com/medivault/medivault/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the handlers under api. uploadMW wraps only the
// upload routes.
func (h *Handler) RegisterRoutes(api *echo.Group, uploadMW ...echo.MiddlewareFunc) {
	g := api.Group("/prescriptions")
	g.POST("/upload", h.Upload, uploadMW...)
	g.PUT("/:id", h.Update)
	g.GET("/patient/:patientId", h.ListByPatient)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
}

func (h *Handler) Upload(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c.FormValue("patientId"), "patientId")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fmt.Errorf("%w: file is required", apperr.ErrInvalidInput)
	}
	src, err := fh.Open()
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", apperr.ErrInvalidInput, fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", apperr.ErrInvalidInput, fh.Filename, err)
	}

	rec, err := h.svc.Submit(c.Request().Context(), SubmitRequest{
		UploadID:    c.FormValue("uploadId"),
		PatientID:   patientID,
		RequesterID: acct,
		File:        pdfconv.File{Name: fh.Filename, Data: data},
	})
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "Prescription uploaded successfully", rec)
}

func (h *Handler) Update(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := c.Bind(&req); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrInvalidInput, err)
	}
	rec, err := h.svc.Update(c.Request().Context(), id, acct, req)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "Prescription updated successfully", rec)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c.Param("patientId"), "patientId")
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, acct, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Prescription{}
	}
	page := pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL.Path)
	return response.OK(c, http.StatusOK, "Prescriptions retrieved successfully", page)
}

func (h *Handler) Get(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	rec, err := h.svc.Get(c.Request().Context(), id, acct)
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "Prescription retrieved successfully", rec)
}

func (h *Handler) Delete(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, acct); err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "Prescription deleted successfully", nil)
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", apperr.ErrInvalidInput, field)
	}
	return id, nil
}
