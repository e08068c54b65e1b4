package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/heroai/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "invalid log level",
			yaml: "server:\n  log_level: verbose\n",
			want: []string{"server.log_level"},
		},
		{
			name: "tls without key",
			yaml: "server:\n  tls:\n    cert_file: cert.pem\n",
			want: []string{"server.tls"},
		},
		{
			name: "assist entry without name",
			yaml: "providers:\n  assist:\n    - model: gpt-4o\n",
			want: []string{"providers.assist[0].name is required"},
		},
		{
			name: "duplicate assist entries",
			yaml: "providers:\n  assist:\n    - name: genai\n    - name: genai\n",
			want: []string{"duplicate"},
		},
		{
			name: "anyllm needs provider and model",
			yaml: "providers:\n  assist:\n    - name: anyllm\n",
			want: []string{"options.provider is required", "model is required"},
		},
		{
			name: "unknown tool",
			yaml: "providers:\n  assist:\n    - name: genai\n      tools: [chat, video]\n",
			want: []string{`tools[1] "video"`},
		},
		{
			name: "negative live tuning",
			yaml: "live:\n  block_size: -1\n  outbound_depth: -2\n",
			want: []string{"live.block_size", "live.outbound_depth"},
		},
		{
			name: "bad audio drivers",
			yaml: "audio:\n  input:\n    driver: discard\n  output:\n    driver: alsa\n    volume: 120\n",
			want: []string{"audio.input.driver", "audio.output.driver", "audio.output.volume"},
		},
		{
			name: "negative resilience",
			yaml: "resilience:\n  max_failures: -1\n  reset_timeout: -1s\n",
			want: []string{"resilience.max_failures", "resilience.reset_timeout"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := `
providers:
  live:
    name: my-fork
  assist:
    - name: my-backend
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "heroai.yaml")
	if err := os.WriteFile(path, []byte("live:\n  voice: Kore\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("API_KEY", "from-env")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Live.Voice != "Kore" {
		t.Errorf("voice = %q, want Kore", cfg.Live.Voice)
	}
	if cfg.Providers.Live.APIKey != "from-env" {
		t.Errorf("api_key = %q, want value of API_KEY", cfg.Providers.Live.APIKey)
	}
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "bad.yaml") {
		t.Errorf("err = %v, want parse error naming the file", err)
	}
}
