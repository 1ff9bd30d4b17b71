package toolstream

import "testing"

func counterFrom(n int) func() int {
	return func() int {
		i := n
		n++
		return i
	}
}

func TestTracker_StartDeltaEnd(t *testing.T) {
	tr := New(counterFrom(0))

	out := tr.Handle(Event{Kind: EventInputStart, ID: "call_1", Name: "get_weather", Index: 1})
	if len(out) != 1 || out[0].Kind != OutBlockStart || out[0].Index != 1 {
		t.Fatalf("input-start: got %+v", out)
	}

	out = tr.Handle(Event{Kind: EventInputDelta, ID: "call_1", Delta: `{"city":`})
	if len(out) != 1 || out[0].Kind != OutBlockDelta || out[0].JSON != `{"city":` {
		t.Fatalf("input-delta: got %+v", out)
	}

	out = tr.Handle(Event{Kind: EventInputDelta, ID: "call_1", Delta: `"nyc"}`})
	if len(out) != 1 || out[0].Kind != OutBlockDelta {
		t.Fatalf("input-delta 2: got %+v", out)
	}

	out = tr.Handle(Event{Kind: EventInputEnd, ID: "call_1"})
	if len(out) != 1 || out[0].Kind != OutBlockStop || out[0].Index != 1 {
		t.Fatalf("input-end: got %+v", out)
	}

	if len(tr.Flush()) != 0 {
		t.Fatal("flush after clean close should be empty")
	}
}

func TestTracker_InputEndWithoutDeltaWaitsForWholeCall(t *testing.T) {
	tr := New(counterFrom(0))
	tr.Handle(Event{Kind: EventInputStart, ID: "call_1", Name: "noop", Index: 0})

	out := tr.Handle(Event{Kind: EventInputEnd, ID: "call_1"})
	if len(out) != 0 {
		t.Fatalf("input-end without any delta should stay pending, got %+v", out)
	}

	out = tr.Handle(Event{Kind: EventWholeCall, ID: "call_1", Input: []byte(`{"x":1}`)})
	if len(out) != 2 || out[0].Kind != OutBlockDelta || out[1].Kind != OutBlockStop {
		t.Fatalf("whole-call after pending start: got %+v", out)
	}
}

func TestTracker_WholeCallBeforeInputStartSynthesizesTriple(t *testing.T) {
	tr := New(counterFrom(5))

	out := tr.Handle(Event{Kind: EventWholeCall, ID: "call_9", Name: "search", Input: []byte(`{"q":"go"}`)})
	if len(out) != 3 {
		t.Fatalf("expected synthesized start/delta/stop triple, got %+v", out)
	}
	if out[0].Kind != OutBlockStart || out[0].Index != 5 || out[0].Name != "search" {
		t.Fatalf("synthesized start: got %+v", out[0])
	}
	if out[1].Kind != OutBlockDelta || out[1].JSON != `{"q":"go"}` {
		t.Fatalf("synthesized delta: got %+v", out[1])
	}
	if out[2].Kind != OutBlockStop || out[2].Index != 5 {
		t.Fatalf("synthesized stop: got %+v", out[2])
	}

	// A second whole-call for the same id is a no-op: the call already closed.
	out = tr.Handle(Event{Kind: EventWholeCall, ID: "call_9", Input: []byte(`{}`)})
	if len(out) != 0 {
		t.Fatalf("duplicate whole-call should be ignored, got %+v", out)
	}
}

func TestTracker_WholeCallWithEmptyInputDefaultsToEmptyObject(t *testing.T) {
	tr := New(counterFrom(0))
	out := tr.Handle(Event{Kind: EventWholeCall, ID: "call_1", Name: "ping"})
	if len(out) != 3 || out[1].JSON != "{}" {
		t.Fatalf("empty-input whole-call: got %+v", out)
	}
}

func TestTracker_FlushClosesDanglingEntriesInIndexOrder(t *testing.T) {
	tr := New(counterFrom(0))
	tr.Handle(Event{Kind: EventInputStart, ID: "b", Name: "second", Index: 2})
	tr.Handle(Event{Kind: EventInputStart, ID: "a", Name: "first", Index: 1})
	tr.Handle(Event{Kind: EventInputDelta, ID: "a", Delta: "{}"})

	out := tr.Flush()
	if len(out) != 2 {
		t.Fatalf("expected both dangling entries flushed, got %+v", out)
	}
	if out[0].Index != 1 || out[1].Index != 2 {
		t.Fatalf("flush should be ordered by index, got %+v", out)
	}

	if len(tr.Flush()) != 0 {
		t.Fatal("second flush should be empty")
	}
}

func TestTracker_UnknownIDEventsAreIgnored(t *testing.T) {
	tr := New(counterFrom(0))
	if out := tr.Handle(Event{Kind: EventInputDelta, ID: "ghost", Delta: "x"}); len(out) != 0 {
		t.Fatalf("delta for unknown id: got %+v", out)
	}
	if out := tr.Handle(Event{Kind: EventInputEnd, ID: "ghost"}); len(out) != 0 {
		t.Fatalf("end for unknown id: got %+v", out)
	}
}
