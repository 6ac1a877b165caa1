package model

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMockChatModel(t *testing.T) {
	t.Run("returns responses in order then repeats last", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}

		for _, want := range []string{"one", "two", "two"} {
			out, err := mock.Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil)
			if err != nil {
				t.Fatalf("Chat failed: %v", err)
			}
			if out.Text != want {
				t.Errorf("text = %q, want %q", out.Text, want)
			}
		}
	})

	t.Run("error injection", func(t *testing.T) {
		mock := &MockChatModel{Err: errors.New("provider down")}
		_, err := mock.Chat(context.Background(), nil, nil)
		if err == nil {
			t.Fatal("expected injected error")
		}
		if mock.CallCount() != 1 {
			t.Errorf("call count = %d, want 1 (failures are recorded)", mock.CallCount())
		}
	})

	t.Run("error only after N calls", func(t *testing.T) {
		mock := &MockChatModel{
			Responses: []ChatOut{{Text: "ok"}},
			Err:       errors.New("flaky"),
			ErrAfter:  3,
		}
		for i := 0; i < 2; i++ {
			if _, err := mock.Chat(context.Background(), nil, nil); err != nil {
				t.Fatalf("call %d failed early: %v", i+1, err)
			}
		}
		if _, err := mock.Chat(context.Background(), nil, nil); err == nil {
			t.Fatal("third call should fail")
		}
	})

	t.Run("records call arguments", func(t *testing.T) {
		mock := &MockChatModel{}
		msgs := []Message{{Role: RoleSystem, Content: "ctx"}, {Role: RoleUser, Content: "q"}}
		tools := []ToolSpec{{Name: "search"}}
		if _, err := mock.Chat(context.Background(), msgs, tools); err != nil {
			t.Fatalf("Chat failed: %v", err)
		}

		call, ok := mock.LastCall()
		if !ok {
			t.Fatal("no call recorded")
		}
		if len(call.Messages) != 2 || call.Messages[1].Content != "q" {
			t.Errorf("messages = %+v", call.Messages)
		}
		if len(call.Tools) != 1 || call.Tools[0].Name != "search" {
			t.Errorf("tools = %+v", call.Tools)
		}
	})

	t.Run("cancelled context short-circuits", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := mock.Chat(ctx, nil, nil); !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
		if mock.CallCount() != 0 {
			t.Error("cancelled call should not be recorded")
		}
	})

	t.Run("reset restarts the script", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "one"}, {Text: "two"}}}
		mock.Chat(context.Background(), nil, nil)
		mock.Reset()
		out, _ := mock.Chat(context.Background(), nil, nil)
		if out.Text != "one" || mock.CallCount() != 1 {
			t.Errorf("after reset: text = %q, calls = %d", out.Text, mock.CallCount())
		}
	})

	t.Run("concurrent use is safe", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "ok"}}}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				mock.Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil)
			}()
		}
		wg.Wait()
		if mock.CallCount() != 20 {
			t.Errorf("call count = %d, want 20", mock.CallCount())
		}
	})
}
