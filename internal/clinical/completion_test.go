package clinical

import (
	"context"
	"errors"
	"strings"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type mockMessager struct {
	text   string
	err    error
	params anthropic.MessageNewParams
}

func (m *mockMessager) New(_ context.Context, params anthropic.MessageNewParams, _ ...option.RequestOption) (*anthropic.Message, error) {
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &anthropic.Message{Content: []anthropic.ContentBlockUnion{{Type: "text", Text: m.text}}}, nil
}

func withMockAnthropic(t *testing.T, m *mockMessager) {
	t.Helper()
	prev := newAnthropicClient
	newAnthropicClient = func(string) AnthropicMessager { return m }
	t.Cleanup(func() { newAnthropicClient = prev })
}

func TestStripCodeFences(t *testing.T) {
	for _, in := range []string{"```json\n{\"a\":1}\n```", "```\n{\"a\":1}\n```", "  {\"a\":1}  "} {
		if got := stripCodeFences(in); got != "{\"a\":1}" {
			t.Fatalf("stripCodeFences(%q) = %q", in, got)
		}
	}
}

func TestNewAnthropicCompleterRequiresKey(t *testing.T) {
	_, err := NewAnthropicCompleter(CompletionConfig{APIKey: "  "})
	if !errors.Is(err, ErrCompletionUnconfigured) {
		t.Fatalf("expected ErrCompletionUnconfigured, got %v", err)
	}
}

func TestAnthropicCompleterSendsInstructionsAndPayload(t *testing.T) {
	m := &mockMessager{text: `{"ok":true}`}
	withMockAnthropic(t, m)

	c, err := NewAnthropicCompleter(CompletionConfig{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewAnthropicCompleter: %v", err)
	}
	if c.ModelName() != DefaultCompletionModel {
		t.Fatalf("model = %q", c.ModelName())
	}
	got, err := c.Complete(context.Background(), "system text", "payload text")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("unexpected text %q", got)
	}
	if len(m.params.System) != 1 || m.params.System[0].Text != "system text" {
		t.Fatalf("system prompt not forwarded: %+v", m.params.System)
	}
	if m.params.MaxTokens != DefaultCompletionMaxTokens {
		t.Fatalf("max tokens = %d", m.params.MaxTokens)
	}
	if len(m.params.Messages) != 1 {
		t.Fatalf("expected one user message, got %d", len(m.params.Messages))
	}
}

func TestAnthropicCompleterPropagatesError(t *testing.T) {
	withMockAnthropic(t, &mockMessager{err: errors.New("overloaded")})
	c, err := NewAnthropicCompleter(CompletionConfig{APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("NewAnthropicCompleter: %v", err)
	}
	if _, err := c.Complete(context.Background(), "s", "p"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRefinerReasons(t *testing.T) {
	type out struct {
		Items []string `json:"items"`
	}
	validate := func(o *out) func() error {
		return func() error {
			if o.Items == nil {
				return errors.New("items missing")
			}
			return nil
		}
	}

	tests := []struct {
		name     string
		refiner  *Refiner
		want     DegradedReason
		wantCall bool
	}{
		{name: "disabled", refiner: disabledRefiner(), want: ReasonCompletionDisabled},
		{name: "nil refiner", refiner: nil, want: ReasonCompletionDisabled},
		{name: "transport error", refiner: testRefiner(&fakeCompleter{errs: []error{errors.New("boom")}}), want: ReasonCompletionFailed, wantCall: true},
		{name: "empty", refiner: testRefiner(&fakeCompleter{responses: []string{"   "}}), want: ReasonCompletionUnparseable, wantCall: true},
		{name: "not json", refiner: testRefiner(&fakeCompleter{responses: []string{"sorry, I cannot"}}), want: ReasonCompletionUnparseable, wantCall: true},
		{name: "missing key", refiner: testRefiner(&fakeCompleter{responses: []string{`{"other":1}`}}), want: ReasonCompletionUnparseable, wantCall: true},
		{name: "fenced ok", refiner: testRefiner(&fakeCompleter{responses: []string{"```json\n{\"items\":[\"a\"]}\n```"}}), want: ReasonNone, wantCall: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var o out
			got := tc.refiner.Refine(context.Background(), "test", "instr", map[string]string{"q": "x"}, &o, validate(&o))
			if got != tc.want {
				t.Fatalf("reason = %q, want %q", got, tc.want)
			}
			if tc.refiner != nil && tc.refiner.completer != nil {
				calls := tc.refiner.completer.(*fakeCompleter).calls
				if tc.wantCall && calls != 1 {
					t.Fatalf("expected exactly one call, got %d", calls)
				}
			}
		})
	}
}

func TestRefinerSendsIndentedPayload(t *testing.T) {
	fc := &fakeCompleter{responses: []string{`{}`}}
	var o struct{}
	testRefiner(fc).Refine(context.Background(), "s", "i", map[string]string{"query": "thirst"}, &o, nil)
	if len(fc.payloads) != 1 || !strings.Contains(fc.payloads[0], "\n  \"query\": \"thirst\"") {
		t.Fatalf("unexpected payload: %q", fc.payloads)
	}
}

func TestRefinerModelName(t *testing.T) {
	if disabledRefiner().ModelName() != "" {
		t.Fatal("disabled refiner should report no model")
	}
	if testRefiner(&fakeCompleter{}).ModelName() != "test-model" {
		t.Fatal("expected completer model name")
	}
}
