package docstore

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValueRoundTrip(t *testing.T) {
	ref := time.Date(2026, 8, 28, 10, 30, 0, 123456789, time.UTC)
	data := []Value{
		String(""),
		String("hello"),
		Number(0),
		Number(-12.5),
		Bool(true),
		Bool(false),
		Time(ref),
		Null(),
	}
	for _, v := range data {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		var got Value
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !got.Equal(v) {
			t.Errorf("round-trip of %s changed value: kind %s vs %s", raw, got.Kind(), v.Kind())
		}
	}
}

func TestValueTimeTruncation(t *testing.T) {
	ref := time.Date(2026, 8, 28, 10, 30, 0, 123456789, time.UTC)
	v := Time(ref)
	got, ok := v.AsTime()
	if !ok {
		t.Fatal("not a timestamp")
	}
	if want := ref.Truncate(time.Millisecond); !got.Equal(want) {
		t.Fatalf("time = %v, want %v", got, want)
	}
	// Non-UTC inputs normalize.
	loc := time.FixedZone("X", 3600)
	if got, _ := Time(ref.In(loc)).AsTime(); !got.Equal(ref.Truncate(time.Millisecond)) {
		t.Fatalf("zoned time = %v", got)
	}
}

func TestValueWireFormat(t *testing.T) {
	raw, err := json.Marshal(Time(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)))
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"$timestamp":"2026-01-02T03:04:05Z"}`; string(raw) != want {
		t.Fatalf("wire = %s, want %s", raw, want)
	}
	raw, err = json.Marshal(String("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `"hi"` {
		t.Fatalf("wire = %s", raw)
	}
}

func TestValueEqualAcrossKinds(t *testing.T) {
	if String("1").Equal(Number(1)) {
		t.Fatal("string and number compared equal")
	}
	if !Null().Equal(Value{}) {
		t.Fatal("zero Value is not null")
	}
}

func TestValueUnmarshalRejectsArbitraryObjects(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`{"nested":{"deep":1}}`), &v); err == nil {
		t.Fatal("arbitrary object accepted")
	}
}

func TestFieldsClone(t *testing.T) {
	f := Fields{"word": String("hello")}
	c := f.Clone()
	c["word"] = String("bye")
	if v, _ := f["word"].AsString(); v != "hello" {
		t.Fatal("clone aliases original")
	}
	if Fields(nil).Clone() != nil {
		t.Fatal("nil clone not nil")
	}
}
