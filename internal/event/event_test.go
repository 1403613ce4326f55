package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEvent_ErroredWireForm(t *testing.T) {
	want := Event{
		Seq:     7,
		Time:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Payload: Errored{Message: "boom", ErrKind: "provider"},
	}

	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"payload":{"message":"boom","kind":"provider"}`) {
		t.Errorf("json = %s", data)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("json round trip (-want +got):\n%s", diff)
	}

	data, err = want.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	got = Event{}
	if err := got.UnmarshalCBOR(data); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cbor round trip (-want +got):\n%s", diff)
	}
	if got.Kind() != KindErrored {
		t.Errorf("Kind = %q", got.Kind())
	}
}
