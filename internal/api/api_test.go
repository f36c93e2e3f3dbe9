package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/dagaz/internal/calendar"
	"github.com/starford/dagaz/internal/models"
	"github.com/starford/dagaz/internal/persistence"
	"github.com/starford/dagaz/internal/pipeline"
	"github.com/starford/dagaz/internal/storage"
	"github.com/starford/dagaz/internal/testutil"
)

// pngBytes is a minimal PNG signature, enough for content sniffing.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, []byte, string) (*models.RawExtraction, error) {
	return &models.RawExtraction{Title: "Study Group", StartDate: "3/5/25", StartTime: "2pm"}, nil
}

type stubPublisher struct{}

func (stubPublisher) CreateEvent(context.Context, *models.Credential, *models.CanonicalEvent, string) (*calendar.CreateResult, error) {
	return &calendar.CreateResult{EventID: "remote-1", Link: "https://calendar.google.com/e/1"}, nil
}

func (stubPublisher) Refresh(_ context.Context, cred *models.Credential) (*models.Credential, error) {
	return cred, nil
}

func testEnv(t *testing.T, authToken string) (http.Handler, *persistence.DB, *storage.FS) {
	t.Helper()
	db := testutil.TestDB(t)
	_, blobs := testutil.TestImageStore(t)

	runner := pipeline.NewRunner(db, blobs, stubExtractor{}, stubPublisher{}, pipeline.WithRetry(1, 0))
	h := NewHandler(runner, db, blobs)
	router := NewRouter(h, authToken != "", authToken, nil)
	return router, db, blobs
}

func seedCredential(t *testing.T, db *persistence.DB) {
	t.Helper()
	err := db.SaveCredential(context.Background(), &models.Credential{
		UserID:      "u1",
		AccessToken: "tok",
		Expiry:      time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func uploadImage(t *testing.T, router http.Handler, data []byte) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "flyer.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", w.Code, w.Body)
	}
	var resp struct {
		ImageKey string `json:"image_key"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return resp.ImageKey
}

func TestUploadImage(t *testing.T) {
	router, _, blobs := testEnv(t, "")
	key := uploadImage(t, router, pngBytes)
	if !strings.HasPrefix(key, "uploads/") || !strings.HasSuffix(key, ".png") {
		t.Errorf("key = %q", key)
	}
	if _, ct, err := blobs.Get(key); err != nil || ct != "image/png" {
		t.Errorf("stored blob: ct=%q err=%v", ct, err)
	}

	// Same bytes land on the same key.
	if again := uploadImage(t, router, pngBytes); again != key {
		t.Errorf("re-upload key = %q, want %q", again, key)
	}
}

func TestUploadRejectsNonImage(t *testing.T) {
	router, _, _ := testEnv(t, "")
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = io.WriteString(fw, "just some text")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/images", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d", w.Code)
	}
}

func TestProcessImage(t *testing.T) {
	router, db, _ := testEnv(t, "")
	seedCredential(t, db)
	key := uploadImage(t, router, pngBytes)

	body, _ := json.Marshal(map[string]string{
		"image_key": key,
		"user_id":   "u1",
		"timezone":  "America/New_York",
	})
	req := httptest.NewRequest(http.MethodPost, "/pipeline", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}

	var res pipeline.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Event.Title != "Study Group" {
		t.Errorf("result = %+v", res)
	}
	if res.CalendarLink == "" {
		t.Error("missing calendar link")
	}
}

func TestProcessImageMissingKey(t *testing.T) {
	router, db, _ := testEnv(t, "")
	seedCredential(t, db)

	body, _ := json.Marshal(map[string]string{"image_key": "uploads/ghost.png", "user_id": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/pipeline", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestProcessImageNoCredential(t *testing.T) {
	router, _, _ := testEnv(t, "")
	key := uploadImage(t, router, pngBytes)

	body, _ := json.Marshal(map[string]string{"image_key": key, "user_id": "u-nobody"})
	req := httptest.NewRequest(http.MethodPost, "/pipeline", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestEventLifecycle(t *testing.T) {
	router, db, _ := testEnv(t, "")
	seedCredential(t, db)
	key := uploadImage(t, router, pngBytes)

	body, _ := json.Marshal(map[string]string{"image_key": key, "user_id": "u1"})
	req := httptest.NewRequest(http.MethodPost, "/pipeline", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("pipeline status = %d", w.Code)
	}

	// List.
	req = httptest.NewRequest(http.MethodGet, "/events?user_id=u1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var listResp struct {
		Events []models.EventRecord `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatal(err)
	}
	if len(listResp.Events) != 1 {
		t.Fatalf("events = %+v", listResp.Events)
	}
	id := listResp.Events[0].ID

	// Get.
	req = httptest.NewRequest(http.MethodGet, "/events/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("get status = %d", w.Code)
	}

	// Delete, then get again.
	req = httptest.NewRequest(http.MethodDelete, "/events/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	req = httptest.NewRequest(http.MethodGet, "/events/"+id, nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	router, _, _ := testEnv(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/events?user_id=u1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/events?user_id=u1", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authenticated status = %d", w.Code)
	}
}
