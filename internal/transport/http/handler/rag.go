package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pdfchat/internal/app"
	"pdfchat/internal/transport/http/response"
)

const (
	// room for multipart framing and the session_id field on top of the file itself
	multipartOverhead  = 64 << 10
	maxSessionIDBytes  = 256
	defaultReadTimeout = 30 * time.Second
)

type RAGHandler struct {
	ragService     *app.RAGService
	maxUploadBytes int64
	readTimeout    time.Duration
}

type ChatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

type uploadResponse struct {
	Message string `json:"message"`
	*app.UploadResult
}

func NewRAGHandler(ragService *app.RAGService, maxUploadBytes int64, readTimeout time.Duration) *RAGHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &RAGHandler{
		ragService:     ragService,
		maxUploadBytes: maxUploadBytes,
		readTimeout:    readTimeout,
	}
}

// UploadPDF accepts a multipart form with "file" (PDF) and optional "session_id", and indexes it.
func (h *RAGHandler) UploadPDF(c *gin.Context) {
	limit := h.maxUploadBytes + multipartOverhead
	if c.Request.ContentLength > limit {
		writeError(c, h.tooLarge())
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	form, err := h.readForm(c)
	if err != nil {
		writeError(c, err)
		return
	}

	result, err := h.ragService.Upload(c.Request.Context(), app.UploadInput{
		SessionID: form.sessionID,
		Filename:  form.filename,
		Data:      form.data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, uploadResponse{
		Message:      "PDF processed successfully!",
		UploadResult: result,
	})
}

func (h *RAGHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.ragService.Ask(c.Request.Context(), app.AskInput{
		SessionID: req.SessionID,
		Question:  req.Question,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	response.OK(c, result)
}

type uploadForm struct {
	sessionID string
	filename  string
	data      []byte
}

// readForm drains the multipart body with a read deadline of readTimeout on the connection.
// The deadline stays in place after a failed read so the server cannot block discarding the rest.
func (h *RAGHandler) readForm(c *gin.Context) (*uploadForm, error) {
	rc := http.NewResponseController(c.Writer)
	err := rc.SetReadDeadline(time.Now().Add(h.readTimeout))
	if errors.Is(err, http.ErrNotSupported) {
		return h.readFormAsync(c.Request.Context(), c.Request)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: set upload read deadline: %v", app.ErrDependency, err)
	}

	form, err := h.parseForm(c.Request)
	if err != nil {
		return nil, err
	}
	// the server's background read after EOF must not trip over the deadline while the build runs
	_ = rc.SetReadDeadline(time.Time{})
	return form, nil
}

// readFormAsync bounds the read with a timer for writers that cannot carry a connection deadline.
// On timeout the body is closed and the reader is waited for, so nothing touches it after return.
func (h *RAGHandler) readFormAsync(ctx context.Context, r *http.Request) (*uploadForm, error) {
	ctx, cancel := context.WithTimeout(ctx, h.readTimeout)
	defer cancel()

	type readResult struct {
		form *uploadForm
		err  error
	}
	done := make(chan readResult, 1)
	go func() {
		form, err := h.parseForm(r)
		done <- readResult{form: form, err: err}
	}()

	select {
	case res := <-done:
		return res.form, res.err
	case <-ctx.Done():
		_ = r.Body.Close()
		<-done
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, h.readTimedOut()
		}
		return nil, fmt.Errorf("%w: upload aborted: %w", app.ErrTimeout, ctx.Err())
	}
}

func (h *RAGHandler) parseForm(r *http.Request) (*uploadForm, error) {
	reader, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: expected a multipart/form-data body", app.ErrValidation)
	}

	form := &uploadForm{}
	hasFile := false
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, h.bodyError(err)
		}

		switch part.FormName() {
		case "file":
			form.filename = part.FileName()
			// reject early so a large non-PDF body is never buffered
			if !app.IsPDFFilename(form.filename) {
				_ = part.Close()
				return nil, fmt.Errorf("%w: only PDF files are allowed", app.ErrValidation)
			}
			data, err := io.ReadAll(io.LimitReader(part, h.maxUploadBytes+1))
			if err != nil {
				return nil, h.bodyError(err)
			}
			if int64(len(data)) > h.maxUploadBytes {
				return nil, h.tooLarge()
			}
			form.data = data
			hasFile = true
		case "session_id":
			raw, err := io.ReadAll(io.LimitReader(part, maxSessionIDBytes+1))
			if err != nil {
				return nil, h.bodyError(err)
			}
			if len(raw) > maxSessionIDBytes {
				return nil, fmt.Errorf("%w: session_id is longer than %d bytes", app.ErrValidation, maxSessionIDBytes)
			}
			form.sessionID = strings.TrimSpace(string(raw))
		}
		_ = part.Close()
	}

	if !hasFile {
		return nil, fmt.Errorf("%w: missing file", app.ErrValidation)
	}
	return form, nil
}

func (h *RAGHandler) bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return h.tooLarge()
	}
	var netErr net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return h.readTimedOut()
	}
	return fmt.Errorf("%w: malformed upload body: %v", app.ErrValidation, err)
}

func (h *RAGHandler) readTimedOut() error {
	return fmt.Errorf("%w: reading the upload took longer than %s", app.ErrTimeout, h.readTimeout)
}

func (h *RAGHandler) tooLarge() error {
	return fmt.Errorf("%w: file too large, maximum size is %s", app.ErrResourceLimit, formatBytes(h.maxUploadBytes))
}

func formatBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}

// writeError maps an error kind from the app layer onto an HTTP status and business code.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrResourceLimit):
		response.Error(c, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge, err.Error())
	case errors.Is(err, app.ErrNotFound):
		response.Error(c, http.StatusNotFound, response.CodeSessionNotFound, err.Error())
	case errors.Is(err, app.ErrTimeout):
		response.Error(c, http.StatusRequestTimeout, response.CodeTimeout, err.Error())
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, err.Error())
	}
}
