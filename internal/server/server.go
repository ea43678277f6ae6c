// Package server exposes the registration page and its submit endpoint over
// HTTP. Each visitor session owns one submission.Form.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/counters"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
	"github.com/dharsanguruparan/ProofDrop/internal/submission"
	"github.com/dharsanguruparan/ProofDrop/internal/validation"
)

const (
	sessionCookie  = "proofdrop_session"
	maxTextField   = 4 << 10
	multipartSlack = 1 << 20
	sniffLen       = 512
)

//go:embed templates/page.html
var templates embed.FS

// Server hosts the HTTP handlers.
type Server struct {
	cfg      *config.Config
	counter  *counters.Counter
	sessions *sessionStore
	page     *template.Template
	log      *zap.Logger
}

// New creates a configured server. newForm is called once per visitor session.
func New(cfg *config.Config, newForm func() *submission.Form, counter *counters.Counter, log *zap.Logger) (*Server, error) {
	page, err := template.ParseFS(templates, "templates/page.html")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:      cfg,
		counter:  counter,
		sessions: newSessionStore(cfg.SessionTTL, newForm),
		page:     page,
		log:      log,
	}, nil
}

// Serve launches the HTTP server until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()
	s.log.Info("listening", zap.String("addr", s.cfg.Address))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler wrapped in middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/counters", s.handleCounters)
	mux.HandleFunc("/registrations", s.handleRegister)
	mux.HandleFunc("/", s.handlePage)
	return corsMiddleware(loggingMiddleware(s.log, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, s.counter.Snapshot())
}

type pageData struct {
	Variant    model.Variant
	Counters   counters.Values
	Name       string
	Expedite   bool
	HasFile    bool
	MaxFileMB  int64
	Submitting bool
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, form := s.sessions.get(sessionID(r))
	setSession(w, id)
	snap := form.Snapshot()
	data := pageData{
		Variant:    s.cfg.Page,
		Counters:   s.counter.Snapshot(),
		Name:       snap.Name,
		Expedite:   snap.Expedite,
		HasFile:    snap.File != nil,
		MaxFileMB:  s.cfg.MaxFileSize >> 20,
		Submitting: snap.Submitting,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		s.log.Error("render page", zap.Error(err))
	}
}

// submitResponse is the JSON the page reacts to after a submit.
type submitResponse struct {
	Status       string              `json:"status"`
	Reason       string              `json:"reason,omitempty"`
	Message      string              `json:"message"`
	Errors       map[string]string   `json:"errors,omitempty"`
	ShakeMs      int64               `json:"shakeMs,omitempty"`
	Redirect     string              `json:"redirect,omitempty"`
	Registration *model.Registration `json:"registration,omitempty"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, form := s.sessions.get(sessionID(r))
	setSession(w, id)
	if form.Submitting() {
		respondJSON(w, http.StatusConflict, submitResponse{Status: "failed", Message: common.ErrSubmissionInProgress.Error()})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFileSize+multipartSlack)
	mr, err := r.MultipartReader()
	if err != nil {
		http.Error(w, "expecting multipart form", http.StatusBadRequest)
		return
	}
	changes, err := s.readChanges(mr)
	if err != nil {
		var verr *common.ValidationError
		if errors.As(err, &verr) {
			respondJSON(w, http.StatusUnprocessableEntity, s.validationResponse(verr))
			return
		}
		http.Error(w, "failed to read form", http.StatusBadRequest)
		return
	}

	// Once started, a submit runs to completion even if the visitor leaves.
	out, err := form.SubmitChanges(context.WithoutCancel(r.Context()), changes)
	switch {
	case err == nil:
		respondJSON(w, http.StatusCreated, submitResponse{
			Status:       string(out.State),
			Message:      out.Message,
			Redirect:     out.RedirectURL,
			Registration: out.Registration,
		})
	case errors.Is(err, common.ErrSubmissionInProgress):
		respondJSON(w, http.StatusConflict, submitResponse{Status: "failed", Message: err.Error()})
	case out.Reason == submission.ReasonValidation:
		respondJSON(w, http.StatusUnprocessableEntity, outcomeResponse(out))
	default:
		s.log.Warn("submission failed", zap.String("reason", string(out.Reason)), zap.Error(err))
		respondJSON(w, http.StatusBadGateway, outcomeResponse(out))
	}
}

// readChanges collects the posted fields without touching the session form,
// so a request that loses the race to a running submit changes nothing.
// Absent parts stay nil, which is what lets a retry skip the file.
func (s *Server) readChanges(mr *multipart.Reader) (submission.Changes, error) {
	var ch submission.Changes
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return ch, nil
		}
		if err != nil {
			return ch, s.readError(err)
		}
		switch part.FormName() {
		case "fullName":
			v, err := readText(part)
			if err != nil {
				part.Close()
				return ch, s.readError(err)
			}
			ch.Name = &v
		case "secure24h":
			v, err := readText(part)
			if err != nil {
				part.Close()
				return ch, s.readError(err)
			}
			b := parseCheckbox(v)
			ch.Expedite = &b
		case "image":
			file, present, err := s.readFile(part)
			if err != nil {
				part.Close()
				return ch, s.readError(err)
			}
			if present {
				ch.File = &file
			}
		}
		part.Close()
	}
}

// readFile buffers at most MaxFileSize+1 bytes, enough for the validator to
// see an oversized file without holding all of it. A part with neither a
// file name nor content is a file input left empty.
func (s *Server) readFile(part *multipart.Part) (model.SelectedFile, bool, error) {
	data, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxFileSize+1))
	if err != nil {
		return model.SelectedFile{}, false, err
	}
	if part.FileName() == "" && len(data) == 0 {
		return model.SelectedFile{}, false, nil
	}
	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		sniff := data
		if len(sniff) > sniffLen {
			sniff = sniff[:sniffLen]
		}
		contentType = http.DetectContentType(sniff)
	}
	return model.SelectedFile{
		Name:        part.FileName(),
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}, true, nil
}

// readError turns a body that blew past MaxBytesReader into the same size
// message the validator gives.
func (s *Server) readError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return common.NewValidationError(common.FieldFile, validation.SizeMessage(s.cfg.MaxFileSize))
	}
	return err
}

func (s *Server) validationResponse(verr *common.ValidationError) submitResponse {
	resp := submitResponse{
		Status:  string(submission.StateFailed),
		Reason:  string(submission.ReasonValidation),
		Message: firstValue(verr.Fields),
	}
	if s.cfg.Page.FieldErrors {
		resp.Errors = verr.Fields
	}
	if s.cfg.Page.Shake {
		resp.ShakeMs = submission.ShakeDuration.Milliseconds()
	}
	return resp
}

func outcomeResponse(out submission.Outcome) submitResponse {
	return submitResponse{
		Status:  string(out.State),
		Reason:  string(out.Reason),
		Message: out.Message,
		Errors:  out.FieldErrors,
		ShakeMs: out.Shake.Milliseconds(),
	}
}

func firstValue(fields map[string]string) string {
	for _, k := range []string{common.FieldForm, common.FieldFullName, common.FieldFile} {
		if v, ok := fields[k]; ok {
			return v
		}
	}
	return validation.MsgMissingAll
}

func readText(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxTextField))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseCheckbox(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "on" || v == "yes" {
		return true
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func sessionID(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSession(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Warn("encode json failed", zap.Error(err))
	}
}
