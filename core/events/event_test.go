package events

import (
	"testing"

	"pharmaclear/core/types"
)

type bareEvent string

func (b bareEvent) EventType() string { return string(b) }

func TestRecorderBuffersPayloads(t *testing.T) {
	rec := &Recorder{}
	rec.Emit(Wrap(&types.Event{Type: "claims.submitted", Attributes: map[string]string{"fingerprint": "ab"}}))
	rec.Emit(bareEvent("audit.settlement"))

	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Attributes["fingerprint"] != "ab" {
		t.Fatalf("payload not preserved: %+v", got[0])
	}
	if got[1].Type != "audit.settlement" || got[1].Attributes == nil {
		t.Fatalf("bare event not converted: %+v", got[1])
	}

	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("expected reset to clear buffer")
	}
}

func TestMultiEmitterFansOut(t *testing.T) {
	first, second := &Recorder{}, &Recorder{}
	multi := MultiEmitter{first, nil, second}
	multi.Emit(bareEvent("gov.proposal_created"))
	if len(first.Events()) != 1 || len(second.Events()) != 1 {
		t.Fatalf("expected both recorders to receive the event")
	}
}
