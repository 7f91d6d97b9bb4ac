package session

import (
	"testing"
)

func TestSignalSubscribe(t *testing.T) {
	s := NewSignal()

	var got []string
	unsubA := s.Subscribe(func(e Expiry) { got = append(got, "a:"+e.OperationID) })
	s.Subscribe(func(e Expiry) { got = append(got, "b:"+e.OperationID) })

	s.emit(Expiry{OperationID: "op1"})
	unsubA()
	unsubA() // idempotent
	s.emit(Expiry{OperationID: "op2"})

	want := []string{"a:op1", "b:op1", "b:op2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestSignalUnsubscribeFromCallback(t *testing.T) {
	s := NewSignal()

	calls := 0
	var unsub func()
	unsub = s.Subscribe(func(Expiry) {
		calls++
		unsub()
	})

	s.emit(Expiry{})
	s.emit(Expiry{})
	if calls != 1 {
		t.Errorf("expected one call, got %d", calls)
	}
}
