package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stellarlinkco/warden/internal/config"
	"github.com/stellarlinkco/warden/internal/dispatch"
	"github.com/stellarlinkco/warden/internal/lexicon"
	"github.com/stellarlinkco/warden/internal/moderation"
	"github.com/stellarlinkco/warden/internal/respond"
)

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("WARDEN_CONFIG", "")
	t.Setenv("WARDEN_TELEGRAM_TOKEN", "")
	t.Setenv("WARDEN_OWNER_ID", "")
	return home
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	want := []string{"run", "onboard", "status", "classify", "testcaps"}
	for _, name := range want {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestOnboard_CreatesConfigAndLexicon(t *testing.T) {
	home := setupHome(t)

	out, err := execute(t, "onboard")
	if err != nil {
		t.Fatalf("onboard error: %v", err)
	}

	cfgPath := filepath.Join(home, ".warden", "config.json")
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if !strings.Contains(out, "Created config") {
		t.Errorf("output = %q, want 'Created config'", out)
	}

	lexPath := filepath.Join(home, ".warden", "lexicon.yaml")
	f, err := lexicon.LoadFile(lexPath)
	if err != nil {
		t.Fatalf("lexicon not written: %v", err)
	}
	if len(f.FlaggedTerms) == 0 {
		t.Error("lexicon has no flagged terms")
	}
}

func TestOnboard_ExistingConfig(t *testing.T) {
	home := setupHome(t)
	cfgPath := filepath.Join(home, ".warden", "config.json")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte(`{"agent":{"ownerId":"42"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "onboard")
	if err != nil {
		t.Fatalf("onboard error: %v", err)
	}
	if !strings.Contains(out, "Config already exists") {
		t.Errorf("output = %q, want 'Config already exists'", out)
	}

	data, _ := os.ReadFile(cfgPath)
	if !strings.Contains(string(data), `"42"`) {
		t.Errorf("existing config was overwritten: %s", data)
	}
}

func TestStatus_MasksKeys(t *testing.T) {
	setupHome(t)
	t.Setenv("WARDEN_TELEGRAM_TOKEN", "123456:ABCDEFGHIJKL")
	t.Setenv("WARDEN_OWNER_ID", "77")
	t.Setenv("GEMINI_API_KEY", "gem-secret-key-value")

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status error: %v", err)
	}
	if strings.Contains(out, "ABCDEFGHIJKL") || strings.Contains(out, "secret") {
		t.Errorf("status leaked a key: %q", out)
	}
	for _, want := range []string{"Owner: 77", "token=1234...IJKL", "gemini: key=gem-...alue", "Lexicon: defaults"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestStatus_BadConfig(t *testing.T) {
	home := setupHome(t)
	cfgPath := filepath.Join(home, ".warden", "config.json")
	os.MkdirAll(filepath.Dir(cfgPath), 0755)
	os.WriteFile(cfgPath, []byte("{not json"), 0644)

	out, err := execute(t, "status")
	if err != nil {
		t.Fatalf("status should not fail: %v", err)
	}
	if !strings.Contains(out, "Config: error") {
		t.Errorf("output = %q, want 'Config: error'", out)
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "not set"},
		{"short", "set"},
		{"abcdefghijkl", "abcd...ijkl"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.in); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	setupHome(t)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "caps",
			args: []string{"classify", "WHY ARE YOU SCREAMING LIKE THAT"},
			want: []string{"Caps abuse: true", "Context: caps", "Strike: caps"},
		},
		{
			name: "caps disabled",
			args: []string{"classify", "--caps=false", "WHY ARE YOU SCREAMING LIKE THAT"},
			want: []string{"Caps abuse: false", "Context: none"},
		},
		{
			name: "flagged",
			args: []string{"classify", "this", "is", "shit"},
			want: []string{"Flagged term: shit", "Context: general", "Strike: badwords"},
		},
		{
			name: "owner exempt",
			args: []string{"classify", "--owner", "this is shit"},
			want: []string{"Flagged term: none", "Context: none"},
		},
		{
			name: "friendly mention",
			args: []string{"classify", "--mention", "hello there"},
			want: []string{"Sentiment: friendly", "Context: friendly"},
		},
		{
			name: "ignored",
			args: []string{"classify", "just chatting"},
			want: []string{"Context: none (no reply)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("classify error: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestClassify_RequiresText(t *testing.T) {
	setupHome(t)
	if _, err := execute(t, "classify"); err == nil {
		t.Error("expected error without text")
	}
}

func TestPrintDecision(t *testing.T) {
	var buf bytes.Buffer
	printDecision(&buf, dispatch.Decision{
		Respond:   true,
		Context:   respond.Defense,
		Sentiment: moderation.Defense,
	})
	out := buf.String()
	for _, w := range []string{"Sentiment: defense", "Context: defense", "Strike: harassment"} {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestTestCaps(t *testing.T) {
	out, err := execute(t, "testcaps")
	if err != nil {
		t.Fatalf("testcaps error: %v", err)
	}
	if !strings.Contains(out, "Caps Detection Test:") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "`this is normal text` - OK") {
		t.Errorf("normal line not reported OK:\n%s", out)
	}
}

type fakeRunner struct {
	ran bool
	err error
}

func (f *fakeRunner) Run(ctx context.Context) error {
	f.ran = true
	return f.err
}

func TestRun_NoToken(t *testing.T) {
	setupHome(t)
	_, err := execute(t, "run")
	if !errors.Is(err, errNoToken) {
		t.Errorf("err = %v, want errNoToken", err)
	}
}

func TestRun_UsesFactory(t *testing.T) {
	setupHome(t)
	t.Setenv("WARDEN_TELEGRAM_TOKEN", "123:abc")

	runner := &fakeRunner{}
	var got *config.Config
	orig := GatewayFactory
	GatewayFactory = func(cfg *config.Config) (GatewayRunner, error) {
		got = cfg
		return runner, nil
	}
	defer func() { GatewayFactory = orig }()

	if _, err := execute(t, "run"); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !runner.ran {
		t.Error("gateway was not run")
	}
	if got == nil || got.Channels.Telegram.Token != "123:abc" {
		t.Errorf("factory got config %+v", got)
	}
}

func TestRun_FactoryError(t *testing.T) {
	setupHome(t)
	t.Setenv("WARDEN_TELEGRAM_TOKEN", "123:abc")

	orig := GatewayFactory
	GatewayFactory = func(cfg *config.Config) (GatewayRunner, error) {
		return nil, errors.New("boom")
	}
	defer func() { GatewayFactory = orig }()

	if _, err := execute(t, "run"); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want boom", err)
	}
}
