package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/ProofDrop/internal/common"
	"github.com/dharsanguruparan/ProofDrop/internal/config"
	"github.com/dharsanguruparan/ProofDrop/internal/counters"
	"github.com/dharsanguruparan/ProofDrop/internal/kvstore"
	"github.com/dharsanguruparan/ProofDrop/internal/model"
	"github.com/dharsanguruparan/ProofDrop/internal/storage"
	"github.com/dharsanguruparan/ProofDrop/internal/submission"
)

type stubUploader struct {
	mu    sync.Mutex
	url   string
	err   error
	files []model.SelectedFile
}

func (u *stubUploader) Upload(ctx context.Context, file model.SelectedFile) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files = append(u.files, file)
	return u.url, u.err
}

func (u *stubUploader) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.files)
}

type harness struct {
	srv      *Server
	handler  http.Handler
	uploader *stubUploader
	store    *storage.MemoryStore
	cookie   *http.Cookie
}

func newHarness(t *testing.T, variant model.Variant) *harness {
	t.Helper()
	cfg := &config.Config{
		Address:     ":0",
		MaxFileSize: 5 << 20,
		SessionTTL:  time.Hour,
		Page:        variant,
	}
	up := &stubUploader{url: "https://img.host/x.jpg"}
	store := storage.NewMemoryStore()
	counter := counters.New(kvstore.NewMemory(), counters.Bounds{VisitorsStart: 202, VisitorsMax: 233, SpotsStart: 44, SpotsMin: 10},
		func() time.Duration { return time.Hour }, nil)
	newForm := func() *submission.Form {
		return submission.NewForm(variant, up, store, submission.WithMaxFileSize(cfg.MaxFileSize))
	}
	srv, err := New(cfg, newForm, counter, zap.NewNop())
	require.NoError(t, err)
	return &harness{srv: srv, handler: srv.Handler(), uploader: up, store: store}
}

type filePart struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, file *filePart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="image"; filename="`+file.name+`"`)
		if file.contentType != "" {
			h.Set("Content-Type", file.contentType)
		}
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (h *harness) post(t *testing.T, fields map[string]string, file *filePart) (*httptest.ResponseRecorder, submitResponse) {
	t.Helper()
	body, ct := multipartBody(t, fields, file)
	req := httptest.NewRequest(http.MethodPost, "/registrations", body)
	req.Header.Set("Content-Type", ct)
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookie {
			h.cookie = c
		}
	}
	var resp submitResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func jpegPart(size int) *filePart {
	data := bytes.Repeat([]byte{0xff}, size)
	return &filePart{name: "proof.jpg", contentType: "image/jpeg", data: data}
}

func TestRegister_Success(t *testing.T) {
	variant := config.DefaultVariant()
	variant.RedirectURL = "https://shop.example.com/done"
	h := newHarness(t, variant)

	rec, resp := h.post(t, map[string]string{"fullName": "Jean Dupont", "secure24h": "true"}, jpegPart(2<<20))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "succeeded", resp.Status)
	assert.Equal(t, submission.MsgSucceeded, resp.Message)
	assert.Equal(t, "https://shop.example.com/done", resp.Redirect)
	require.NotNil(t, resp.Registration)
	assert.Equal(t, "https://img.host/x.jpg", resp.Registration.Proof)
	assert.True(t, resp.Registration.Secure24h)

	regs, err := h.store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, "Jean Dupont", regs[0].FullName)
	assert.Equal(t, 1, h.uploader.calls())
	assert.Equal(t, int64(2<<20), h.uploader.files[0].Size)
}

func TestRegister_MissingNameNoNetwork(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	rec, resp := h.post(t, map[string]string{"fullName": ""}, jpegPart(100))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "validation", resp.Reason)
	assert.Equal(t, 0, h.uploader.calls())
	assert.Equal(t, 0, h.store.Len())
}

func TestRegister_OversizedFileNoNetwork(t *testing.T) {
	variant := config.DefaultVariant()
	variant.FieldErrors = true
	variant.Shake = true
	h := newHarness(t, variant)

	rec, resp := h.post(t, map[string]string{"fullName": "Jean Dupont"}, jpegPart(6<<20))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "File size should be less than 5MB", resp.Message)
	assert.Equal(t, "File size should be less than 5MB", resp.Errors[common.FieldFile])
	assert.Equal(t, int64(500), resp.ShakeMs)
	assert.Equal(t, 0, h.uploader.calls())
}

func TestRegister_NonImageRejected(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	rec, resp := h.post(t, map[string]string{"fullName": "Jean"}, &filePart{name: "a.pdf", contentType: "application/pdf", data: []byte("%PDF-1.4")})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Please upload an image file", resp.Message)
	assert.Equal(t, 0, h.uploader.calls())
}

func TestRegister_SniffsUndeclaredType(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	rec, _ := h.post(t, map[string]string{"fullName": "Jean"}, &filePart{name: "p.png", data: png})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "image/png", h.uploader.files[0].ContentType)
}

func TestRegister_UploadFailureThenRetryWithoutFile(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	h.uploader.err = &common.UploadError{Op: "post", Status: 500, Err: errors.New("Internal Server Error")}

	rec, resp := h.post(t, map[string]string{"fullName": "Jean Dupont", "secure24h": "true"}, jpegPart(1024))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, submission.MsgFailed, resp.Message)
	assert.Equal(t, "upload", resp.Reason)
	assert.Equal(t, 0, h.store.Len())

	form := h.srv.sessions.peek(h.cookie.Value)
	require.NotNil(t, form)
	snap := form.Snapshot()
	assert.False(t, snap.Submitting)
	assert.Equal(t, "Jean Dupont", snap.Name)
	assert.NotNil(t, snap.File)

	h.uploader.err = nil
	rec, _ = h.post(t, map[string]string{}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 2, h.uploader.calls())
}

func TestRegister_RejectsNonMultipart(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	req := httptest.NewRequest(http.MethodPost, "/registrations", strings.NewReader(`{"fullName":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegister_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/registrations", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPage_RendersVariantAndCounters(t *testing.T) {
	variant := config.DefaultVariant()
	variant.Pricing = model.PricingPromo
	h := newHarness(t, variant)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "MASTERCLASS SESSION 2025")
	assert.Contains(t, body, ">202<")
	assert.Contains(t, body, ">44<")
	assert.Contains(t, body, "Offre de lancement")
	assert.NotEmpty(t, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCountersEndpoint(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	_, err := h.srv.counter.Tick(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/counters", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var v counters.Values
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, counters.Values{Visitors: 203, Spots: 43}, v)
}

func TestHealth(t *testing.T) {
	h := newHarness(t, config.DefaultVariant())
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSessions_ExpireIdleForms(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newSessionStore(time.Minute, func() *submission.Form {
		return submission.NewForm(model.Variant{}, &stubUploader{}, storage.NewMemoryStore())
	})
	store.now = func() time.Time { return now }

	id, form := store.get("")
	again, same := store.get(id)
	assert.Equal(t, id, again)
	assert.Same(t, form, same)

	now = now.Add(2 * time.Minute)
	other, _ := store.get("")
	assert.NotEqual(t, id, other)
	assert.Nil(t, store.peek(id))
	assert.Equal(t, 1, store.len())
}
