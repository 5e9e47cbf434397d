package handlers

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/malaria-detect/internal/classifier"
	"github.com/example/malaria-detect/internal/preprocess"
	"github.com/example/malaria-detect/internal/reducer"
	"github.com/example/malaria-detect/internal/usecase"
)

func newTestRouter(t *testing.T, maxUploadSize int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mean := make([]float64, preprocess.FeatureLen)
	first := make([]float64, preprocess.FeatureLen)
	second := make([]float64, preprocess.FeatureLen)
	for i := range mean {
		mean[i] = 0.5
		first[i] = 0.01
		second[i] = 0.01 * float64(i%3-1)
	}
	pca, err := reducer.NewPCA(reducer.Artifact{Mean: mean, Components: [][]float64{first, second}})
	if err != nil {
		t.Fatalf("failed to build pca: %v", err)
	}

	models := map[string]*classifier.Adapter{}
	for key, entry := range map[string]struct {
		name string
		art  classifier.Artifact
	}{
		"svm":      {"SVM", classifier.Artifact{Kind: "svc", Kernel: "rbf", Gamma: 0.5, SupportVectors: [][]float64{{0, 0}, {1, 1}}, DualCoef: []float64{-1, 1}, Intercept: 0.05}},
		"logistic": {"Logistic Regression", classifier.Artifact{Kind: "logistic_regression", Coef: []float64{2, -1}, Intercept: 0.3}},
	} {
		model, err := classifier.BuildModel(entry.art)
		if err != nil {
			t.Fatalf("failed to build %s: %v", key, err)
		}
		adapter, err := classifier.NewAdapter(entry.name, model)
		if err != nil {
			t.Fatalf("failed to adapt %s: %v", key, err)
		}
		models[key] = adapter
	}

	uc := usecase.NewPredictionUseCase(pca, models, nil, time.Minute, zap.NewNop())
	router := gin.New()
	RegisterRoutes(router, uc, maxUploadSize)
	return router
}

func buildMultipartBody(t *testing.T, field, contentType string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="`+field+`"; filename="upload"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return body, writer.FormDataContentType()
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 96, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 96; x++ {
			img.Set(x, y, color.RGBA{R: uint8(150 + x%50), G: uint8(80 + y%40), B: 140, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func postImage(t *testing.T, router *gin.Engine, path string, payload []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := buildMultipartBody(t, FormField, "image/png", payload)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response %q: %v", resp.Body.String(), err)
	}
	return payload
}

func TestPredictReturnsLabelForBothModels(t *testing.T) {
	router := newTestRouter(t, 0)
	names := map[string]string{"/predict/svm": "SVM", "/predict/logistic": "Logistic Regression"}

	for path, name := range names {
		resp := postImage(t, router, path, testPNG(t))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected status %d, got %d: %s", path, http.StatusOK, resp.Code, resp.Body.String())
		}
		payload := decodeBody(t, resp)
		if class := payload["class"]; class != "Parasitized" && class != "Uninfected" {
			t.Fatalf("%s: unexpected class %v", path, class)
		}
		confidence, ok := payload["confidence"].(float64)
		if !ok || confidence < 0 || confidence > 1 {
			t.Fatalf("%s: unexpected confidence %v", path, payload["confidence"])
		}
		if payload["model"] != name {
			t.Fatalf("%s: expected model %q, got %v", path, name, payload["model"])
		}
	}
}

func TestPredictIsRepeatable(t *testing.T) {
	router := newTestRouter(t, 0)
	data := testPNG(t)

	first := postImage(t, router, "/predict/svm", data)
	second := postImage(t, router, "/predict/svm", data)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected two successes, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected identical responses, got %s and %s", first.Body.String(), second.Body.String())
	}
}

func TestPredictRejectsNonImage(t *testing.T) {
	router := newTestRouter(t, 0)

	for _, path := range []string{"/predict/svm", "/predict/logistic"} {
		resp := postImage(t, router, path, []byte("this is a text file"))
		if resp.Code < 500 || resp.Code > 599 {
			t.Fatalf("%s: expected a server error, got %d", path, resp.Code)
		}
		payload := decodeBody(t, resp)
		if msg, ok := payload["error"].(string); !ok || msg == "" {
			t.Fatalf("%s: expected error message, got %v", path, payload)
		}
		if _, ok := payload["class"]; ok {
			t.Fatalf("%s: unexpected class in error response", path)
		}
	}
}

func TestPredictRejectsLargeUpload(t *testing.T) {
	router := newTestRouter(t, 1024)

	resp := postImage(t, router, "/predict/svm", bytes.Repeat([]byte("a"), 2048))
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestPredictRequiresFile(t *testing.T) {
	router := newTestRouter(t, 0)

	body, contentType := buildMultipartBody(t, "image", "image/png", testPNG(t))
	req := httptest.NewRequest(http.MethodPost, "/predict/svm", body)
	req.Header.Set("Content-Type", contentType)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestPredictUnknownModel(t *testing.T) {
	router := newTestRouter(t, 0)

	resp := postImage(t, router, "/predict/forest", testPNG(t))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/predict/svm", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "https://example.org" {
		t.Fatalf("unexpected allow origin %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("unexpected allow headers %q", got)
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	router := newTestRouter(t, 0)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if got := resp.Header().Get(RequestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Header().Get(RequestIDHeader) == "" {
		t.Fatal("expected a generated request id")
	}
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
}

func TestModelsAndMetrics(t *testing.T) {
	router := newTestRouter(t, 0)
	postImage(t, router, "/predict/logistic", []byte("garbage"))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/models", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}
	models, ok := decodeBody(t, resp)["models"].([]interface{})
	if !ok || len(models) != 2 {
		t.Fatalf("expected two models, got %s", resp.Body.String())
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	summary := decodeBody(t, resp)
	if summary["failed_requests"] != float64(1) {
		t.Fatalf("expected one failed request, got %s", resp.Body.String())
	}
}
