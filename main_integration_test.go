package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/malaria-detect/internal/classifier"
	"github.com/example/malaria-detect/internal/config"
	"github.com/example/malaria-detect/internal/preprocess"
	"github.com/example/malaria-detect/internal/reducer"
)

func TestServerGracefulShutdown(t *testing.T) {
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/predict/svm", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: mux}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveUntilSignal(server, listener, signalCh, 2*time.Second, logger)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/predict/svm", "text/plain", strings.NewReader("x"))
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("request did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal %s: %v", path, err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func writeTestArtifacts(t *testing.T, features int) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.ModelsDir = t.TempDir()
	cfg.LogLevel = "error"

	mean := make([]float64, features)
	component := make([]float64, features)
	for i := range mean {
		mean[i] = 0.5
		component[i] = 1 / float64(features)
	}
	writeJSON(t, cfg.PCAPath(), reducer.Artifact{NFeatures: features, Mean: mean, Components: [][]float64{component}})

	specs := cfg.ModelSpecs()
	writeJSON(t, specs[0].Path, classifier.Artifact{Kind: "linear_svc", Coef: []float64{5}, Intercept: 0})
	writeJSON(t, specs[1].Path, classifier.Artifact{Kind: "logistic_regression", Coef: []float64{5}, Intercept: 0})
	return cfg
}

func TestLoadPipeline(t *testing.T) {
	cfg := writeTestArtifacts(t, preprocess.FeatureLen)

	pca, models, err := loadPipeline(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pca.Components() != 1 {
		t.Fatalf("expected 1 component, got %d", pca.Components())
	}
	if models["svm"].Strategy() != classifier.StrategyMargin {
		t.Fatalf("expected margin strategy for svm, got %s", models["svm"].Strategy())
	}
	if models["logistic"].Strategy() != classifier.StrategyProbability {
		t.Fatalf("expected probability strategy for logistic, got %s", models["logistic"].Strategy())
	}
}

func TestLoadPipelineRejectsMismatchedPCA(t *testing.T) {
	cfg := writeTestArtifacts(t, 16)

	if _, _, err := loadPipeline(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for a pca fitted on another feature length")
	}
}

func TestLoadPipelineRejectsMismatchedModel(t *testing.T) {
	cfg := writeTestArtifacts(t, preprocess.FeatureLen)
	writeJSON(t, cfg.ModelSpecs()[0].Path, classifier.Artifact{Kind: "linear_svc", Coef: []float64{1, 2, 3, 4, 5}})

	if _, _, err := loadPipeline(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for a model fitted on another component count")
	}
}

func TestPredictCommand(t *testing.T) {
	cfg := writeTestArtifacts(t, preprocess.FeatureLen)

	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 230, G: 230, B: 230, A: 255})
		}
	}
	imagePath := filepath.Join(t.TempDir(), "cell.png")
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	if err := os.WriteFile(imagePath, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run([]string{"malaria-detect",
		"--models-dir", cfg.ModelsDir,
		"--log-level", "error",
		"predict", "--model", "logistic", imagePath,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("failed to decode output %q: %v", out.String(), err)
	}
	// A light image projects above the mean, so the model leans Parasitized.
	if result["class"] != "Parasitized" || result["model"] != "Logistic Regression" {
		t.Fatalf("unexpected result %v", result)
	}
}
