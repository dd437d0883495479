package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	answer string
	err    error
	opts   llms.CallOptions
	prompt string
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, o := range options {
		o(&f.opts)
	}
	for _, m := range messages {
		for _, part := range m.Parts {
			if text, ok := part.(llms.TextContent); ok {
				f.prompt += text.Text
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.answer}}}, nil
}

func (f *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return f.answer, f.err
}

func TestOllamaGenerator_Generate(t *testing.T) {
	model := &fakeModel{answer: "It parses config."}
	g, err := NewOllamaGenerator("http://localhost:11434", "qwen2.5-coder:7b", withModel(model))
	if err != nil {
		t.Fatal(err)
	}
	got, err := g.Generate(context.Background(), "What does load do?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "It parses config." {
		t.Errorf("answer = %q", got)
	}
	if model.prompt != "What does load do?" {
		t.Errorf("prompt = %q", model.prompt)
	}
	if model.opts.Temperature != Temperature || model.opts.TopP != TopP || model.opts.TopK != TopK {
		t.Errorf("sampling options = %+v", model.opts)
	}
}

func TestOllamaGenerator_Failure(t *testing.T) {
	g, err := NewOllamaGenerator("http://localhost:11434", "m", withModel(&fakeModel{err: errors.New("connection refused")}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Generate(context.Background(), "q"); !errors.Is(err, ErrGenerationUnavailable) {
		t.Errorf("err = %v, want ErrGenerationUnavailable", err)
	}
}

func TestNewOllamaGenerator_RequiresModel(t *testing.T) {
	if _, err := NewOllamaGenerator("http://localhost:11434", " "); err == nil {
		t.Error("expected error for blank model")
	}
}

func TestOllamaGenerator_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b"},{"name":"nomic-embed-text:latest"}]}`))
	}))
	defer srv.Close()

	g, err := NewOllamaGenerator(srv.URL+"/", "qwen2.5-coder:7b", withModel(&fakeModel{}))
	if err != nil {
		t.Fatal(err)
	}
	names, err := g.Ping(context.Background())
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if len(names) != 2 || names[0] != "qwen2.5-coder:7b" {
		t.Errorf("models = %v", names)
	}
}

func TestOllamaGenerator_PingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g, err := NewOllamaGenerator(srv.URL, "m", withModel(&fakeModel{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Ping(context.Background()); !errors.Is(err, ErrGenerationUnavailable) {
		t.Errorf("err = %v, want ErrGenerationUnavailable", err)
	}
}

func TestStaticGenerator(t *testing.T) {
	g := &StaticGenerator{Answer: "ok"}
	got, err := g.Generate(context.Background(), "p1")
	if err != nil || got != "ok" {
		t.Fatalf("Generate = %q, %v", got, err)
	}
	if len(g.Prompts) != 1 || g.Prompts[0] != "p1" {
		t.Errorf("prompts = %v", g.Prompts)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.Generate(ctx, "p2"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
