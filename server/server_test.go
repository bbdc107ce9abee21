package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/imrenagi/webdropper/config"
	"github.com/imrenagi/webdropper/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, limit int64) (Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Storage.Dir = dir
	cfg.BodyLimit = limit
	cfg, err := cfg.Validate()
	require.NoError(t, err)

	store, err := storage.NewDiskStore(cfg.Storage.Dir)
	require.NoError(t, err)
	return New(cfg, store), dir
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	w, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHTTPHandler(t *testing.T) {
	s, dir := newTestServer(t, 1<<20)
	h := s.newHTTPHandler()

	t.Run("GET / serves the home page", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	})

	t.Run("GET /scripts.js serves the client script", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scripts.js", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	})

	t.Run("POST / stores the upload and renders the summary", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, uploadRequest(t, "test.txt", "hello"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "test.txt (5 bytes)")

		b, err := os.ReadFile(filepath.Join(dir, "test.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello", string(b))
	})

	t.Run("content types do not depend on upload history", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.NotContains(t, w.Body.String(), "test.txt")

		w = httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/scripts.js", nil))
		assert.Equal(t, "application/javascript", w.Header().Get("Content-Type"))
	})

	t.Run("unsupported method", func(t *testing.T) {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestHTTPHandlerBodyLimit(t *testing.T) {
	s, dir := newTestServer(t, 512)
	h := s.newHTTPHandler()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, uploadRequest(t, "big.bin", strings.Repeat("x", 2048)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInitializeLogger(t *testing.T) {
	assert.NoError(t, InitializeLogger("debug"))
	assert.Error(t, InitializeLogger("loud"))
}

func TestLogInterceptor(t *testing.T) {
	var buf bytes.Buffer
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	h := LogInterceptor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("handling")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)

	var lines []map[string]any
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	handling, finished := lines[0], lines[1]
	assert.Equal(t, "handling", handling["message"])
	assert.NotEmpty(t, handling["request_id"])
	assert.Equal(t, handling["request_id"], finished["request_id"])
	assert.Equal(t, "request finished", finished["message"])
	assert.Equal(t, float64(http.StatusTeapot), finished["status"])
	assert.Equal(t, float64(len("short and stout")), finished["response_size"])
	assert.Contains(t, finished, "latency")
}
