package medicalfile

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

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
	g := api.Group("/medical-files")
	g.POST("/upload", h.Upload, uploadMW...)
	g.POST("/upload-multiple", h.UploadMultiple, uploadMW...)
	g.GET("/patient/:patientId", h.ListByPatient)
	g.GET("/:id", h.Get)
	g.GET("/:id/content", h.Content)
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
	f, err := readFile(fh)
	if err != nil {
		return err
	}

	rec, err := h.svc.SubmitFile(c.Request().Context(), SubmitFileRequest{
		UploadID:    c.FormValue("uploadId"),
		PatientID:   patientID,
		RequesterID: acct,
		File:        f,
		Category:    c.FormValue("category"),
		Description: c.FormValue("description"),
	})
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "Medical file uploaded and processed successfully", rec)
}

func (h *Handler) UploadMultiple(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	patientID, err := parseID(c.FormValue("patientId"), "patientId")
	if err != nil {
		return err
	}
	form, err := c.MultipartForm()
	if err != nil {
		return fmt.Errorf("%w: multipart form expected", apperr.ErrInvalidInput)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return fmt.Errorf("%w: files are required", apperr.ErrInvalidInput)
	}
	files := make([]pdfconv.File, 0, len(headers))
	for _, fh := range headers {
		f, err := readFile(fh)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	rec, err := h.svc.SubmitBatch(c.Request().Context(), SubmitBatchRequest{
		UploadID:    c.FormValue("uploadId"),
		PatientID:   patientID,
		RequesterID: acct,
		Files:       files,
		Category:    c.FormValue("category"),
		Description: c.FormValue("description"),
	})
	if err != nil {
		return err
	}
	return response.OK(c, http.StatusOK, "Medical files merged and uploaded successfully", rec)
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
		items = []*MedicalFile{}
	}
	page := pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL.Path)
	return response.OK(c, http.StatusOK, "Medical files retrieved successfully", page)
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
	return response.OK(c, http.StatusOK, "Medical file retrieved successfully", rec)
}

func (h *Handler) Content(c echo.Context) error {
	acct, err := auth.RequireAccount(c)
	if err != nil {
		return err
	}
	id, err := parseID(c.Param("id"), "id")
	if err != nil {
		return err
	}
	body, rec, err := h.svc.Download(c.Request().Context(), id, acct)
	if err != nil {
		return err
	}
	defer body.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("inline; filename=%q", rec.ID.String()+".pdf"))
	if rec.SizeBytes != nil {
		c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(*rec.SizeBytes, 10))
	}
	return c.Stream(http.StatusOK, "application/pdf", body)
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
	return response.OK(c, http.StatusOK, "Medical file deleted successfully", nil)
}

func parseID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", apperr.ErrInvalidInput, field)
	}
	return id, nil
}

func readFile(fh *multipart.FileHeader) (pdfconv.File, error) {
	src, err := fh.Open()
	if err != nil {
		return pdfconv.File{}, fmt.Errorf("%w: open %s: %v", apperr.ErrInvalidInput, fh.Filename, err)
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		return pdfconv.File{}, fmt.Errorf("%w: read %s: %v", apperr.ErrInvalidInput, fh.Filename, err)
	}
	return pdfconv.File{Name: fh.Filename, Data: data}, nil
}
