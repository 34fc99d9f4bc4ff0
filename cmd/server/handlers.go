package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dontdude/imgconv/internal/convert"
	"github.com/dontdude/imgconv/internal/domain"
	"github.com/dontdude/imgconv/internal/jobs"
	"github.com/dontdude/imgconv/internal/platform/web"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/websocket"
)

// multipartOverhead covers form fields and boundaries on top of the file itself.
const multipartOverhead = 1 << 20

// api carries the handlers' dependencies.
type api struct {
	submitter     *jobs.Submitter
	blobs         domain.BlobStore
	hub           *resultHub
	maxFileSize   int64
	resultTimeout time.Duration
	// baseCtx outlives single requests; background waits stop with the server.
	baseCtx context.Context
	log     *slog.Logger
}

// upload is a validated conversion form.
type upload struct {
	data      []byte
	filename  string
	extension string
	format    convert.Format
	quality   int
}

// parseUpload reads the multipart form: file, format and optional quality.
// The returned message is safe to show to the client.
func (a *api) parseUpload(w http.ResponseWriter, r *http.Request) (upload, string) {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return upload{}, fmt.Sprintf("File too large (max %d bytes)", a.maxFileSize)
		}
		return upload{}, "Invalid multipart form"
	}

	format, ok := convert.Lookup(r.FormValue("format"))
	if !ok {
		return upload{}, fmt.Sprintf("Unsupported format. Supported: %s", strings.Join(convert.Names(), ", "))
	}

	quality := 0
	if raw := strings.TrimSpace(r.FormValue("quality")); raw != "" {
		q, err := strconv.Atoi(raw)
		if err != nil || q < 1 || q > 100 {
			return upload{}, "Quality must be an integer between 1 and 100"
		}
		quality = q
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return upload{}, "No file uploaded"
	}
	defer file.Close()

	data, msg := readUpload(file, a.maxFileSize)
	if msg != "" {
		return upload{}, msg
	}
	if len(data) == 0 {
		return upload{}, "Uploaded file is empty"
	}

	return upload{
		data:      data,
		filename:  header.Filename,
		extension: convert.SafeExtension(filepath.Ext(header.Filename), ""),
		format:    format,
		quality:   quality,
	}, ""
}

func readUpload(f multipart.File, limit int64) ([]byte, string) {
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, "Failed to read uploaded file"
	}
	if int64(len(data)) > limit {
		return nil, fmt.Sprintf("File too large (max %d bytes)", limit)
	}
	return data, ""
}

// handleConvert converts synchronously and streams the result back.
func (a *api) handleConvert(w http.ResponseWriter, r *http.Request) {
	up, msg := a.parseUpload(w, r)
	if msg != "" {
		web.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	out, err := a.submitter.Convert(r.Context(), jobs.ConvertInput{
		Data:         up.data,
		Extension:    up.extension,
		OutputFormat: up.format.Value,
		Quality:      up.quality,
	}, a.resultTimeout)
	if err != nil {
		a.writeConvertError(w, err)
		return
	}

	base := strings.TrimSuffix(filepath.Base(up.filename), filepath.Ext(up.filename))
	if base == "" || base == "." {
		base = "converted"
	}
	w.Header().Set("Content-Type", out.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", base+"."+up.format.Value))
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(out.Data); err != nil {
		a.log.Warn("Failed to write converted file", "error", err)
	}
}

func (a *api) writeConvertError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrConversionFailed):
		web.WriteError(w, http.StatusInternalServerError, "Conversion failed: "+conversionMessage(err))
	case errors.Is(err, domain.ErrTimeout):
		web.WriteError(w, http.StatusGatewayTimeout, "Conversion timed out")
	default:
		a.log.Error("Conversion request failed", "error", err)
		web.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
	}
}

func conversionMessage(err error) string {
	var convErr *domain.ConversionError
	if errors.As(err, &convErr) {
		return convErr.Msg
	}
	return err.Error()
}

// handleSubmit enqueues the job and returns immediately. The result is parked
// in the hub for GET /api/ws.
func (a *api) handleSubmit(w http.ResponseWriter, r *http.Request) {
	up, msg := a.parseUpload(w, r)
	if msg != "" {
		web.WriteError(w, http.StatusBadRequest, msg)
		return
	}

	inputID, err := a.blobs.Put(r.Context(), up.data, nil)
	if err != nil {
		a.log.Error("Failed to store upload", "error", err)
		web.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	pending, err := a.submitter.Dispatch(r.Context(), jobs.ConversionJobData{
		InputFileID:    inputID,
		InputExtension: up.extension,
		OutputFormat:   up.format.Value,
		Quality:        up.quality,
	})
	if err != nil {
		a.log.Error("Failed to publish job", "error", err)
		if derr := a.blobs.Delete(r.Context(), inputID); derr != nil {
			a.log.Warn("Failed to delete orphaned upload", "blobID", inputID, "error", derr)
		}
		web.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	a.hub.track(pending.JobID)
	go func() {
		result, err := pending.Wait(a.baseCtx, a.resultTimeout)
		a.hub.finish(pending.JobID, result, err)
	}()

	a.log.Info("Received submission", "jobID", pending.JobID)
	web.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": pending.JobID,
		"status": "queued",
	})
}

// wsMessage is sent once per websocket connection.
type wsMessage struct {
	JobID       string `json:"job_id"`
	Success     bool   `json:"success"`
	MimeType    string `json:"mimeType,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS pushes the job's result to the client as soon as it is known, then closes.
func (a *api) handleWS(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		web.WriteError(w, http.StatusBadRequest, "job_id is required")
		return
	}
	if !a.hub.known(jobID) {
		web.WriteError(w, http.StatusNotFound, "Unknown job")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.log.Error("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	log := a.log.With("jobID", jobID)
	log.Info("Client connected via WebSocket", "remoteAddr", conn.RemoteAddr())

	// Reading is only needed to notice the client going away.
	ctx, cancel := context.WithCancel(a.baseCtx)
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	out, err := a.hub.wait(ctx, jobID)
	if err != nil {
		log.Info("Client disconnected before the result arrived")
		return
	}

	if err := conn.WriteJSON(toWSMessage(jobID, out)); err != nil {
		log.Error("Failed to write to websocket", "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
}

func toWSMessage(jobID string, out outcome) wsMessage {
	msg := wsMessage{JobID: jobID}
	switch {
	case errors.Is(out.err, domain.ErrTimeout):
		msg.Error = "Conversion timed out"
	case out.err != nil:
		msg.Error = "Internal Server Error"
	case out.result.Success:
		msg.Success = true
		msg.MimeType = out.result.MimeType
		msg.DownloadURL = "/api/files/" + out.result.OutputFileID
	default:
		msg.Error = out.result.Error
	}
	return msg
}

// handleDownload serves an output blob once and deletes it.
func (a *api) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := a.blobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			web.WriteError(w, http.StatusNotFound, "File not found")
			return
		}
		a.log.Error("Failed to read blob", "blobID", id, "error", err)
		web.WriteError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	mt := mimetype.Detect(data)
	w.Header().Set("Content-Type", mt.String())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+mt.Extension()))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		a.log.Warn("Failed to write download", "blobID", id, "error", err)
		return
	}

	if err := a.blobs.Delete(r.Context(), id); err != nil {
		a.log.Warn("Failed to delete blob", "blobID", id, "error", err)
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
