package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"contentguard/internal/localmodel"
)

// writeTestModel stores a tiny model that scores "hate" harmful and "love" safe.
func writeTestModel(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	vocab := []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "hate", "love", "you", "i"}
	emb := make([][]float64, len(vocab))
	for i := range emb {
		emb[i] = []float64{0, 0}
	}
	emb[4] = []float64{4, 0}
	emb[5] = []float64{0, 4}
	spec := localmodel.Spec{
		MaxSeqLength: 16,
		Embeddings:   emb,
		Classifier:   localmodel.Layer{Weight: [][]float64{{0, 1}, {1, 0}}, Bias: []float64{0, 0}},
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal model: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, localmodel.VocabFile), []byte(strings.Join(vocab, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("write vocab: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, localmodel.ModelFile), data, 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return dir
}

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	for _, key := range []string{
		"REMOTE_PROVIDER", "REMOTE_MODEL", "GEMINI_API_KEY", "GEMINI_BASE_URL",
		"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "REMOTE_TIMEOUT_SECONDS", "REMOTE_MAX_RETRIES",
		"DB_PATH", "HTTP_ADDR", "SLACK_BOT_TOKEN", "SLACK_APP_TOKEN",
		"SLACK_DIGEST_CHANNEL_ID", "LOG_LEVEL", "LOG_FORMAT", "DIGEST_SCHEDULE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOCAL_MODEL_PATH", writeTestModel(t))
}

// fakeGemini answers every generateContent call with reply.
func fakeGemini(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"parts": []any{map[string]any{"text": reply}}},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunDispatch(t *testing.T) {
	if code, out, _ := run(t, "", "help"); code != 0 || !strings.Contains(out, "Commands:") {
		t.Fatalf("help = %d %q", code, out)
	}
	if code, _, errOut := run(t, "", "bogus"); code != 2 || !strings.Contains(errOut, `unknown command "bogus"`) {
		t.Fatalf("unknown command = %d %q", code, errOut)
	}
	if code, _, _ := run(t, "", "analyze", "-h"); code != 0 {
		t.Fatalf("-h exit code = %d", code)
	}
	if code, _, _ := run(t, "", "analyze", "--no-such-flag"); code != 2 {
		t.Fatalf("bad flag exit code = %d", code)
	}
}

func TestAnalyzeLocalOnly(t *testing.T) {
	isolateEnv(t)
	outPath := filepath.Join(t.TempDir(), "result.json")

	code, out, errOut := run(t, "", "--text", "I hate you", "-o", outPath)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{"Analysis Results:", "Final Verdict: Harmful Content", "Remote Decision: Not available"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(errOut, "remote classification disabled") {
		t.Fatalf("expected a warning about the missing key, got: %s", errOut)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("output file not written: %v", err)
	}
	var saved map[string]any
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatalf("output file is not JSON: %v", err)
	}
	if saved["remote"] != nil || saved["text"] != "I hate you" {
		t.Fatalf("unexpected saved analysis: %s", data)
	}
}

func TestAnalyzePromptsAndRejectsEmpty(t *testing.T) {
	isolateEnv(t)
	code, out, _ := run(t, "i love you\n", "analyze", "-v")
	if code != 0 || !strings.Contains(out, "Enter text to analyze: ") || !strings.Contains(out, "Final Verdict: Safe Content") {
		t.Fatalf("prompted analyze = %d:\n%s", code, out)
	}
	if !strings.Contains(out, "Detailed Breakdown:") || !strings.Contains(out, "Remote: Not available") {
		t.Fatalf("verbose output missing breakdown:\n%s", out)
	}

	code, _, errOut := run(t, "   \n", "analyze")
	if code != 1 || !strings.Contains(errOut, "input text is empty") {
		t.Fatalf("empty input = %d %q", code, errOut)
	}
}

func TestAnalyzeWithRemote(t *testing.T) {
	isolateEnv(t)
	srv := fakeGemini(t, "NO")
	t.Setenv("GEMINI_BASE_URL", srv.URL)

	code, out, errOut := run(t, "", "analyze", "-k", "test-key", "-v", "I hate you")
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{"Remote (gemini): SAFE (80.00%)", "Local: HARMFUL"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(errOut, "test-key") {
		t.Fatal("API key leaked into logs")
	}
}

func TestAnalyzeMissingModel(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LOCAL_MODEL_PATH", t.TempDir())
	code, _, errOut := run(t, "", "analyze", "-t", "hello")
	if code != 1 || !strings.Contains(errOut, "loading local model") {
		t.Fatalf("missing model = %d %q", code, errOut)
	}
}

func TestAnalyzeInteractive(t *testing.T) {
	isolateEnv(t)
	code, out, errOut := run(t, "I hate you\nhistory\nq\n", "analyze", "-i")
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	for _, want := range []string{"Content Analysis Interactive Mode", "RESULT:", "Final Verdict: Harmful Content", "1. I hate you", "Exiting interactive mode."} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestModerate(t *testing.T) {
	isolateEnv(t)

	if code, _, errOut := run(t, "", "moderate"); code != 2 || !strings.Contains(errOut, "exactly one of") {
		t.Fatalf("no source = %d %q", code, errOut)
	}
	if code, _, errOut := run(t, "", "moderate", "--input", "hi"); code != 1 || !strings.Contains(errOut, "no API key") {
		t.Fatalf("missing key = %d %q", code, errOut)
	}

	srv := fakeGemini(t, "This content contains harassment.")
	t.Setenv("GEMINI_BASE_URL", srv.URL)
	t.Setenv("GEMINI_API_KEY", "test-key")
	outPath := filepath.Join(t.TempDir(), "report.json")

	code, out, errOut := run(t, "", "moderate", "-i", "you people are awful", "-o", outPath)
	if code != 0 {
		t.Fatalf("exit code %d, stderr: %s", code, errOut)
	}
	if !strings.Contains(out, "MODERATION RESULT: POTENTIALLY HARMFUL CONTENT DETECTED") || !strings.Contains(out, "harassment") {
		t.Fatalf("unexpected moderation output:\n%s", out)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("report not saved: %v", err)
	}
	if !strings.Contains(string(data), `"status": "success"`) || !strings.Contains(string(data), `"is_harmful": true`) {
		t.Fatalf("unexpected saved report: %s", data)
	}
}

func TestHistoryCommand(t *testing.T) {
	isolateEnv(t)
	if code, _, errOut := run(t, "", "history"); code != 1 || !strings.Contains(errOut, "history is disabled") {
		t.Fatalf("disabled history = %d %q", code, errOut)
	}

	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "history.db"))
	for _, text := range []string{"I hate you", "i love you"} {
		if code, _, errOut := run(t, "", "analyze", "-t", text); code != 0 {
			t.Fatalf("analyze %q = %d: %s", text, code, errOut)
		}
	}

	code, out, errOut := run(t, "", "history", "-n", "10")
	if code != 0 {
		t.Fatalf("history exit %d: %s", code, errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "i love you") || !strings.Contains(lines[1], "HARMFUL") {
		t.Fatalf("unexpected history:\n%s", out)
	}

	code, out, _ = run(t, "", "history", "--json", "--limit", "1")
	var analyses []map[string]any
	if code != 0 || json.Unmarshal([]byte(out), &analyses) != nil || len(analyses) != 1 {
		t.Fatalf("json history = %d %q", code, out)
	}
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupLogger("warn", "json", &buf)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected json log output: %q", out)
	}

	buf.Reset()
	SetupLogger("debug", "text", &buf).Debug("detail")
	if !strings.Contains(buf.String(), "level=DEBUG") {
		t.Fatalf("unexpected text log output: %q", buf.String())
	}
}
