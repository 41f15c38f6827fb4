package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"kabox/internal/domain"
	"kabox/internal/logging"
	"kabox/internal/notify"
	"kabox/internal/security"
	"kabox/internal/service"
	"kabox/internal/validator"
)

const (
	responseAuthor = "aka"
	responseEmail  = "akaanakbaik17@proton.me"

	maxFilesPerRequest = 5
)

type envelope struct {
	Author  string      `json:"author"`
	Email   string      `json:"email"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// FileHandler owns the HTTP surface: routing, the response envelope
// and the security checks in front of the service.
type FileHandler struct {
	svc      *service.FileService
	gate     *security.Gate
	tokens   *security.TokenManager
	notifier *notify.Notifier
	baseURL  string
}

func NewFileHandler(
	svc *service.FileService,
	gate *security.Gate,
	tokens *security.TokenManager,
	notifier *notify.Notifier,
	baseURL string,
) *FileHandler {
	return &FileHandler{
		svc:      svc,
		gate:     gate,
		tokens:   tokens,
		notifier: notifier,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Routes builds the chi router with all middleware attached.
func (h *FileHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(RequestLogger)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", h.Upload)
		r.Post("/upload/url", h.UploadFromURL)
		r.Get("/stats", h.Stats)
		r.Post("/admin/cleanup", h.AdminCleanup)
	})

	r.Route("/files/{id}", func(r chi.Router) {
		r.Get("/", h.FileInfo)
		r.Get("/status", h.FileStatus)
		r.Get("/download", h.Download)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, env envelope) {
	env.Author = responseAuthor
	env.Email = responseEmail
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		logging.HTTP.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Error: message})
}

// checkRate applies the per-(ip, endpoint) budget and answers the 429
// itself. Returns false when the request must stop.
func (h *FileHandler) checkRate(w http.ResponseWriter, ip, endpoint string) bool {
	d := h.gate.CheckRateLimit(ip, endpoint)
	if d.Allowed {
		return true
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", secs))
	return false
}

// checkAttack runs the request heuristics; upload endpoints only.
func (h *FileHandler) checkAttack(w http.ResponseWriter, r *http.Request, ip string) bool {
	report := h.gate.DetectAttack(r)
	if !report.IsAttack {
		return true
	}
	h.gate.Block(ip, "attack detected: "+strings.Join(report.Indicators, ", "))
	h.notifier.SecurityAlert("ATTACK_DETECTED", ip, strings.Join(report.Indicators, ", "))
	writeError(w, http.StatusForbidden, "Security violation detected")
	return false
}

// Upload handles multipart uploads of up to five files.
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)

	if !h.checkAttack(w, r, ip) {
		return
	}
	if !h.checkRate(w, ip, "upload") {
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart request")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No files provided")
		return
	}
	if len(files) > maxFilesPerRequest {
		h.gate.Block(ip, "too many files attempted")
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Maximum %d files allowed per request", maxFilesPerRequest))
		return
	}

	inputs := make([]service.UploadInput, 0, len(files))
	for _, fh := range files {
		if fh.Size > domain.MaxFileSize {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File %s exceeds 100MB limit", fh.Filename))
			return
		}
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		data, err := io.ReadAll(io.LimitReader(f, domain.MaxFileSize+1))
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		if int64(len(data)) > domain.MaxFileSize {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File %s exceeds 100MB limit", fh.Filename))
			return
		}
		inputs = append(inputs, service.UploadInput{
			Filename:     fh.Filename,
			DeclaredType: fh.Header.Get("Content-Type"),
			Data:         data,
		})
	}

	outcomes := h.svc.Upload(r.Context(), ip, inputs)

	uploaded := make([]map[string]interface{}, 0, len(outcomes))
	for _, out := range outcomes {
		if !out.Success {
			continue
		}
		uploaded = append(uploaded, fileProjection(out.Record))
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data:    uploaded,
		Message: fmt.Sprintf("Successfully uploaded %d of %d files", len(uploaded), len(inputs)),
	})
}

// UploadFromURL stores a file fetched server-side from a client URL.
func (h *FileHandler) UploadFromURL(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)

	if !h.checkAttack(w, r, ip) {
		return
	}
	if !h.checkRate(w, ip, "upload_url") {
		return
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
		writeError(w, http.StatusBadRequest, "URL parameter is required")
		return
	}
	if !h.gate.ValidateInput(security.InputURL, body.URL) {
		writeError(w, http.StatusBadRequest, "Invalid URL format")
		return
	}

	rec, err := h.svc.UploadFromURL(r.Context(), ip, body.URL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFetch):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, validator.ErrFileTooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "File size exceeds 100MB limit")
		default:
			h.notifier.ErrorReport("/api/upload/url", err)
			writeError(w, http.StatusInternalServerError, "Failed to process URL upload")
		}
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: fileProjection(rec)})
}

// FileInfo returns the full metadata projection for a file.
func (h *FileHandler) FileInfo(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)
	id := chi.URLParam(r, "id")

	if !h.gate.ValidateInput(security.InputID, id) {
		writeError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}
	if !h.checkRate(w, ip, "file_info") {
		return
	}

	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, envelope{Success: true, Data: fileProjection(rec)})
}

// FileStatus reports upload state; unknown ids are a successful
// response with status not_found so pollers can keep a single code
// path.
func (h *FileHandler) FileStatus(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)
	id := chi.URLParam(r, "id")

	if !h.gate.ValidateInput(security.InputID, id) {
		writeError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}
	if !h.checkRate(w, ip, "file_status") {
		return
	}

	rec, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeJSON(w, http.StatusOK, envelope{
				Success: true,
				Data: map[string]interface{}{
					"id":         id,
					"name":       "Unknown",
					"size":       0,
					"status":     "not_found",
					"message":    "File not found or not yet processed",
					"chunked":    false,
					"chunkCount": 0,
				},
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Data: map[string]interface{}{
			"id":          rec.ID,
			"name":        rec.OriginalName,
			"size":        rec.Size,
			"status":      "completed",
			"message":     "Upload completed successfully",
			"chunked":     false,
			"chunkCount":  0,
			"downloadUrl": fmt.Sprintf("%s/files/%s/download", h.baseURL, rec.ID),
		},
	})
}

// Download redirects to public provider URLs and streams everything
// else with immutable cache headers.
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)
	id := chi.URLParam(r, "id")

	if !h.gate.ValidateInput(security.InputID, id) {
		h.gate.Block(ip, "invalid file ID in download")
		writeError(w, http.StatusBadRequest, "Invalid file ID")
		return
	}
	if !h.checkRate(w, ip, "file_download") {
		return
	}

	res, err := h.svc.Download(r.Context(), ip, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		h.notifier.ErrorReport("/files/{id}/download", err)
		writeError(w, http.StatusInternalServerError, "Failed to download file")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")

	if res.RedirectURL != "" {
		http.Redirect(w, r, res.RedirectURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", res.Record.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Record.Size, 10))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", res.Record.OriginalName))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		logging.HTTP.Printf("failed to stream %s: %v", id, err)
	}
}

// Stats returns aggregate service statistics.
func (h *FileHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)

	if !h.checkRate(w, ip, "stats") {
		return
	}

	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: stats})
}

// AdminCleanup runs the expiry sweep on demand. Requires a Bearer
// token carrying the admin role.
func (h *FileHandler) AdminCleanup(w http.ResponseWriter, r *http.Request) {
	ip := security.ClientIP(r)

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	if _, err := h.tokens.VerifyAdminToken(strings.TrimPrefix(authHeader, "Bearer ")); err != nil {
		writeError(w, http.StatusForbidden, "Invalid or expired token")
		return
	}

	if !h.checkRate(w, ip, "admin_cleanup") {
		return
	}

	start := time.Now()
	removed, err := h.svc.CleanupExpired(r.Context())
	if err != nil {
		h.notifier.ErrorReport("/api/admin/cleanup", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, envelope{
		Success: true,
		Message: "Cleanup completed successfully",
		Data: map[string]interface{}{
			"removed":       removed,
			"executionTime": time.Since(start).String(),
		},
	})
}

// fileProjection is the JSON shape shared by upload and info
// responses. Chunked fields are reserved and always constant.
func fileProjection(rec *domain.FileRecord) map[string]interface{} {
	return map[string]interface{}{
		"id":          rec.ID,
		"filename":    rec.OriginalName,
		"size":        rec.Size,
		"mimeType":    rec.MimeType,
		"url":         rec.URL,
		"provider":    rec.Provider,
		"checksum":    rec.Hash,
		"downloads":   rec.Downloads,
		"chunked":     false,
		"chunkCount":  0,
		"createdAt":   rec.CreatedAt,
		"downloadUrl": rec.URL,
	}
}
