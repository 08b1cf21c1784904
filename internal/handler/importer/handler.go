package importer

import (
	"crypto/sha256"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/clinicware/ledger-import/internal/handler"
	"github.com/clinicware/ledger-import/internal/model"
	"github.com/clinicware/ledger-import/internal/service/importer"
	"github.com/clinicware/ledger-import/pkg/errors"
)

const previewCacheTTL = 5 * time.Minute

type Handler struct {
	service   *importer.Service
	uploadDir string
	backupDir string
	maxUpload int64
	// previews caches read-only preview results keyed by file digest and
	// options, so re-uploading the same ledger is cheap.
	previews *gocache.Cache
}

func NewHandler(service *importer.Service, uploadDir, backupDir string, maxUpload int64) *Handler {
	return &Handler{
		service:   service,
		uploadDir: uploadDir,
		backupDir: backupDir,
		maxUpload: maxUpload,
		previews:  gocache.New(previewCacheTTL, 10*time.Minute),
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	imports := r.Group("/imports")
	{
		imports.POST("/preview", h.Preview)
		imports.POST("/preflight", h.Preflight)
		imports.POST("/commit", h.Commit)
		imports.GET("/reports", h.ListReports)
		imports.GET("/reports/:name", h.GetReport)
		imports.GET("/backups", h.ListBackups)
	}
}

func (h *Handler) Preview(c *gin.Context) {
	up, opts, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	defer up.cleanup()

	cacheKey := up.digest + "|" + optionsKey(opts)
	if cached, found := h.previews.Get(cacheKey); found {
		c.JSON(http.StatusOK, handler.NewSuccessResponse(cached))
		return
	}

	result, err := h.service.Preview(c.Request.Context(), up.path, opts)
	if err != nil {
		h.renderError(c, err)
		return
	}

	h.previews.Set(cacheKey, result, gocache.DefaultExpiration)
	c.JSON(http.StatusOK, handler.NewSuccessResponse(result))
}

func (h *Handler) Preflight(c *gin.Context) {
	up, opts, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	defer up.cleanup()

	report, err := h.service.Preflight(c.Request.Context(), up.path, opts)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

func (h *Handler) Commit(c *gin.Context) {
	up, opts, ok := h.receiveUpload(c)
	if !ok {
		return
	}
	defer up.cleanup()

	report, err := h.service.Commit(c.Request.Context(), up.path, opts)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, handler.NewSuccessResponse(report))
}

func (h *Handler) ListReports(c *gin.Context) {
	reports, err := h.service.Reports(c.Request.Context())
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(reports))
}

// BackupInfo describes one on-disk database backup.
type BackupInfo struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

func (h *Handler) ListBackups(c *gin.Context) {
	entries, err := os.ReadDir(h.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusOK, handler.NewSuccessResponse([]BackupInfo{}))
			return
		}
		h.renderError(c, errors.NewInternal(err))
		return
	}

	backups := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Modified.After(backups[j].Modified) })

	c.JSON(http.StatusOK, handler.NewSuccessResponse(backups))
}

func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.service.Report(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewSuccessResponse(report))
}

// upload is a received source file staged under the upload directory. Each
// upload gets its own subdirectory so the original filename survives into
// the import report.
type upload struct {
	dir    string
	path   string
	digest string
}

func (u *upload) cleanup() {
	_ = os.RemoveAll(u.dir)
}

// receiveUpload stages the multipart "file" field to disk, hashing it on the
// way through, and parses the import options from the remaining form fields.
// On failure it writes the error response itself and returns ok=false.
func (h *Handler) receiveUpload(c *gin.Context) (*upload, model.ImportOptions, bool) {
	var opts model.ImportOptions

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("missing file upload"))
		return nil, opts, false
	}
	if h.maxUpload > 0 && fileHeader.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, handler.NewErrorResponse(
			fmt.Sprintf("file exceeds upload limit of %d bytes", h.maxUpload)))
		return nil, opts, false
	}

	kind, err := sourceKind(c, fileHeader.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse(err.Error()))
		return nil, opts, false
	}
	opts = optionsFromForm(c, kind)

	src, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, handler.NewErrorResponse("unreadable file upload"))
		return nil, opts, false
	}
	defer src.Close()

	dir := filepath.Join(h.uploadDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.renderError(c, errors.NewInternal(err))
		return nil, opts, false
	}
	path := filepath.Join(dir, filepath.Base(fileHeader.Filename))
	dst, err := os.Create(path)
	if err != nil {
		_ = os.RemoveAll(dir)
		h.renderError(c, errors.NewInternal(err))
		return nil, opts, false
	}

	hash := sha256.New()
	_, err = io.Copy(io.MultiWriter(dst, hash), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.RemoveAll(dir)
		h.renderError(c, errors.NewInternal(err))
		return nil, opts, false
	}

	return &upload{
		dir:    dir,
		path:   path,
		digest: fmt.Sprintf("%x", hash.Sum(nil)),
	}, opts, true
}

// sourceKind resolves the source kind from the source_kind form field,
// falling back to the file extension.
func sourceKind(c *gin.Context, filename string) (model.SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(c.PostForm("source_kind"))) {
	case string(model.SourceSpreadsheet):
		return model.SourceSpreadsheet, nil
	case string(model.SourceCSV):
		return model.SourceCSV, nil
	case "":
	default:
		return "", fmt.Errorf("unrecognized source_kind %q", c.PostForm("source_kind"))
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm", ".xls":
		return model.SourceSpreadsheet, nil
	case ".csv":
		return model.SourceCSV, nil
	}
	return "", fmt.Errorf("cannot infer source kind from filename %q, pass source_kind", filename)
}

// optionsFromForm overlays form fields onto the default options.
func optionsFromForm(c *gin.Context, kind model.SourceKind) model.ImportOptions {
	opts := model.DefaultImportOptions(kind)
	opts.Mode = model.NormalizeMode(c.PostForm("mode"))

	if v, err := strconv.ParseBool(c.PostForm("skip_duplicates")); err == nil {
		opts.SkipDuplicates = v
	}
	if v, err := strconv.ParseBool(c.PostForm("import_zero_entries")); err == nil {
		opts.ImportZeroAmountEntries = v
	}
	if v, err := strconv.ParseBool(c.PostForm("never_auto_merge")); err == nil {
		opts.NeverAutoMergeByPageNumber = v
	}
	if v, err := strconv.Atoi(c.PostForm("max_conflict_preview")); err == nil && v > 0 {
		opts.MaxConflictPreview = v
	}
	return opts
}

func optionsKey(opts model.ImportOptions) string {
	return fmt.Sprintf("%s|%s|%t|%t|%t", opts.SourceKind, opts.Mode,
		opts.SkipDuplicates, opts.ImportZeroAmountEntries, opts.NeverAutoMergeByPageNumber)
}

func (h *Handler) renderError(c *gin.Context, err error) {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus(), handler.NewErrorResponse(appErr.Message))
		return
	}
	c.JSON(http.StatusInternalServerError, handler.NewErrorResponse(err.Error()))
}
