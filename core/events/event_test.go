package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"lotterychain/core/types"
)

type testEvent struct {
	evt *types.Event
}

func (t testEvent) EventType() string   { return t.evt.Type }
func (t testEvent) Event() *types.Event { return t.evt }

type typeOnly string

func (t typeOnly) EventType() string { return string(t) }

func TestRecorderClonesPayload(t *testing.T) {
	rec := &Recorder{}
	evt := &types.Event{Type: "lottery.donated", Attributes: map[string]string{"amount": "5"}}
	rec.Emit(testEvent{evt: evt})
	rec.Emit(typeOnly("bare"))
	evt.Attributes["amount"] = "6"

	got := rec.Events()
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Attributes["amount"] != "5" {
		t.Fatalf("recorded event aliased caller map: %v", got[0].Attributes)
	}
	if got[1].Type != "bare" || got[1].Attributes != nil {
		t.Fatalf("unexpected type-only event %+v", got[1])
	}
	rec.Reset()
	if len(rec.Events()) != 0 {
		t.Fatalf("reset did not clear events")
	}
}

func TestLogEmitterAndFanout(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	rec := &Recorder{}
	fan := Fanout{LogEmitter{Logger: logger}, nil, rec}

	fan.Emit(testEvent{evt: &types.Event{
		Type:       "lottery.launched",
		Attributes: map[string]string{"winner": "ab", "index": "1"},
	}})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if line["type"] != "lottery.launched" || line["winner"] != "ab" || line["index"] != "1" {
		t.Fatalf("unexpected log line %v", line)
	}
	if len(rec.Events()) != 1 {
		t.Fatalf("fanout skipped recorder")
	}
}
