package dispatch

import (
	"errors"
	"testing"

	"github.com/MrWong99/sofi/pkg/provider/llm"
	"github.com/MrWong99/sofi/pkg/provider/llm/mock"
)

func TestLLMSink_Send(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "Luce accesa."}}
	s := NewLLMSink(p, WithSystemPrompt("Rispondi in breve."), WithTemperature(0.3), WithMaxTokens(200))

	reply, err := s.Send(t.Context(), "accendi la luce")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Luce accesa." {
		t.Errorf("reply = %q", reply)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "Rispondi in breve." || req.Temperature != 0.3 || req.MaxTokens != 200 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "accendi la luce" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestLLMSink_SendError(t *testing.T) {
	t.Parallel()

	cause := errors.New("quota exceeded")
	s := NewLLMSink(&mock.Provider{CompleteErr: cause})
	if _, err := s.Send(t.Context(), "ciao"); !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
}

func TestLLMSink_NilResponse(t *testing.T) {
	t.Parallel()

	s := NewLLMSink(&mock.Provider{})
	reply, err := s.Send(t.Context(), "ciao")
	if err != nil || reply != "" {
		t.Errorf("Send = %q, %v", reply, err)
	}
}
