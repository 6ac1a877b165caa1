package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/arclabs-io/researchgraph/model"
	"github.com/arclabs-io/researchgraph/research"
)

func TestLLMAgent_Run(t *testing.T) {
	t.Run("renders template and parses JSON", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{
			{Text: `{"domain":"energy","complexity":4}`, TokensUsed: 42},
		}}
		a := NewContextAnalyzer(mock)

		out, err := a.Run(context.Background(), Input{Vars: map[string]any{
			"Query": "export photovoltaic modules to France",
		}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if out.TokensUsed != 42 {
			t.Errorf("tokens = %d, want 42", out.TokensUsed)
		}

		var ca research.ContextAnalysis
		if err := Decode(a.Name(), out, &ca); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if ca.Domain != "energy" || ca.Complexity != 4 {
			t.Errorf("analysis = %+v", ca)
		}

		call, _ := mock.LastCall()
		if call.Messages[0].Role != model.RoleSystem {
			t.Error("missing system prompt")
		}
		user := call.Messages[len(call.Messages)-1]
		if !strings.Contains(user.Content, "photovoltaic modules") {
			t.Errorf("query not rendered into prompt: %q", user.Content)
		}
	})

	t.Run("fenced JSON is accepted", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{
			{Text: "```json\n{\"tasks\":[{\"title\":\"t1\",\"task_type\":\"RESEARCH\"}]}\n```"},
		}}
		a := NewObjectiveDecomposer(mock)

		out, err := a.Run(context.Background(), Input{Vars: map[string]any{
			"Query": "q", "ContextAnalysis": "{}",
		}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		var dec DecompositionOutput
		if err := Decode(a.Name(), out, &dec); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if len(dec.Tasks) != 1 || dec.Tasks[0].Title != "t1" {
			t.Errorf("tasks = %+v", dec.Tasks)
		}
	})

	t.Run("almost-JSON is repaired", func(t *testing.T) {
		// trailing comma and single quotes, typical LLM damage
		mock := &model.MockChatModel{Responses: []model.ChatOut{
			{Text: `{'summary': 'found it', 'findings': ['a', 'b'],}`},
		}}
		a := NewResearcher(mock)

		out, err := a.Run(context.Background(), Input{Vars: map[string]any{
			"Query": "q", "StepTitle": "s", "StepDescription": "d", "TaskTitle": "t",
		}})
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		var res ResearchOutput
		if err := Decode(a.Name(), out, &res); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if res.Summary != "found it" || len(res.Findings) != 2 {
			t.Errorf("research output = %+v", res)
		}
	})

	t.Run("non-JSON response is an AgentError", func(t *testing.T) {
		mock := &model.MockChatModel{Responses: []model.ChatOut{{Text: "I cannot help with that."}}}
		a := NewSynthesizer(mock)

		_, err := a.Run(context.Background(), Input{Vars: map[string]any{
			"Query": "q", "TaskOutputs": "none",
		}})
		var ae *research.AgentError
		if !errors.As(err, &ae) {
			t.Fatalf("expected AgentError, got %v", err)
		}
	})

	t.Run("provider failure is an AgentError", func(t *testing.T) {
		mock := &model.MockChatModel{Err: errors.New("503 overloaded")}
		a := NewQualityEvaluator(mock)

		_, err := a.Run(context.Background(), Input{Vars: map[string]any{
			"Query": "q", "Instruction": "i", "Output": "o",
		}})
		var ae *research.AgentError
		if !errors.As(err, &ae) || ae.Agent != NameQualityEvaluator {
			t.Fatalf("expected AgentError from evaluator, got %v", err)
		}
	})
}

func TestRegistry_Middleware(t *testing.T) {
	t.Run("composition order is outermost-first", func(t *testing.T) {
		var order []string
		tag := func(label string) Middleware {
			return func(next Agent) Agent {
				return &funcAgent{name: next.Name(), run: func(ctx context.Context, in Input) (Output, error) {
					order = append(order, label)
					return next.Run(ctx, in)
				}}
			}
		}

		r := NewRegistry()
		r.Register("a", &funcAgent{name: "a", run: func(context.Context, Input) (Output, error) {
			order = append(order, "agent")
			return Output{}, nil
		}}, tag("first"), tag("second"))

		if _, err := r.Run(context.Background(), "a", Input{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		want := []string{"first", "second", "agent"}
		for i, l := range want {
			if order[i] != l {
				t.Fatalf("order = %v, want %v", order, want)
			}
		}
	})

	t.Run("unknown agent lists registered names", func(t *testing.T) {
		r := NewRegistry()
		r.Register("research", &funcAgent{name: "research", run: func(context.Context, Input) (Output, error) {
			return Output{}, nil
		}})
		_, err := r.Get("ghost")
		if err == nil || !strings.Contains(err.Error(), "research") {
			t.Fatalf("err = %v", err)
		}
	})
}

type stubPool struct {
	acquired int
	released int
	err      error
}

func (p *stubPool) Acquire(ctx context.Context, priority int, timeout time.Duration) (func(), error) {
	if p.err != nil {
		return nil, p.err
	}
	p.acquired++
	return func() { p.released++ }, nil
}

func TestWithAdmission(t *testing.T) {
	t.Run("acquires and releases around the call", func(t *testing.T) {
		pool := &stubPool{}
		inner := &funcAgent{name: "a", run: func(context.Context, Input) (Output, error) {
			return Output{Text: "ok"}, nil
		}}
		a := WithAdmission(pool, 50, time.Second)(inner)

		if _, err := a.Run(context.Background(), Input{}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if pool.acquired != 1 || pool.released != 1 {
			t.Errorf("acquired = %d released = %d", pool.acquired, pool.released)
		}
	})

	t.Run("acquisition failure skips the agent", func(t *testing.T) {
		pool := &stubPool{err: errors.New("pool exhausted")}
		called := false
		inner := &funcAgent{name: "a", run: func(context.Context, Input) (Output, error) {
			called = true
			return Output{}, nil
		}}
		a := WithAdmission(pool, 50, time.Second)(inner)

		if _, err := a.Run(context.Background(), Input{}); err == nil {
			t.Fatal("expected error")
		}
		if called {
			t.Error("agent ran despite refused admission")
		}
	})
}

func TestWithLogging(t *testing.T) {
	log := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	inner := &funcAgent{name: "a", run: func(context.Context, Input) (Output, error) {
		return Output{}, nil
	}}
	a := WithLogging(log)(inner)
	if _, err := a.Run(context.Background(), Input{}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if a.Name() != "a" {
		t.Errorf("middleware must preserve the agent name, got %q", a.Name())
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"bare object", `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":1}\n```", true},
		{"prose wrapped", `Here is the result: {"a":1} Hope this helps!`, true},
		{"array", `[1,2,3]`, true},
		{"repairable", `{"a":1,}`, true},
		{"no json", `sorry, no`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := ExtractJSON(tc.in)
			if tc.ok && (err != nil || raw == nil) {
				t.Fatalf("ExtractJSON(%q) failed: %v", tc.in, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("ExtractJSON(%q) should fail", tc.in)
			}
		})
	}
}
