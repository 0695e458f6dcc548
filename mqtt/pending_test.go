package mqtt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/meross-go/envelope"
)

func TestPendingCompleteDeliversPayload(t *testing.T) {
	table := newPendingTable()

	done, err := table.add("m1", envelope.MethodGetAck)
	if err != nil {
		t.Fatalf("add() error = %v", err)
	}

	payload := json.RawMessage(`{"all":{}}`)
	if !table.complete("m1", envelope.MethodGetAck, payload) {
		t.Fatalf("complete() = false, want true")
	}

	res := <-done
	if res.err != nil {
		t.Fatalf("result error = %v", res.err)
	}
	if string(res.payload) != `{"all":{}}` {
		t.Errorf("payload = %s", res.payload)
	}
	if table.size() != 0 {
		t.Errorf("size() = %d after completion, want 0", table.size())
	}
}

func TestPendingCompleteIdempotent(t *testing.T) {
	table := newPendingTable()

	if _, err := table.add("m1", envelope.MethodSetAck); err != nil {
		t.Fatalf("add() error = %v", err)
	}

	if !table.complete("m1", envelope.MethodSetAck, nil) {
		t.Fatalf("first complete() = false")
	}
	if table.complete("m1", envelope.MethodSetAck, nil) {
		t.Errorf("second complete() = true, want no-op false")
	}
	if table.complete("never-added", envelope.MethodSetAck, nil) {
		t.Errorf("complete() of unknown id = true, want false")
	}
}

func TestPendingCompleteRequiresAckMethod(t *testing.T) {
	table := newPendingTable()

	if _, err := table.add("m1", envelope.MethodSetAck); err != nil {
		t.Fatalf("add() error = %v", err)
	}

	if table.complete("m1", envelope.MethodGetAck, nil) {
		t.Errorf("complete() with wrong ack method = true, want false")
	}
	if table.size() != 1 {
		t.Errorf("entry removed by mismatched ack")
	}
}

func TestPendingRemoveDropsLateAck(t *testing.T) {
	table := newPendingTable()

	done, err := table.add("m1", envelope.MethodGetAck)
	if err != nil {
		t.Fatalf("add() error = %v", err)
	}

	table.remove("m1")
	if table.complete("m1", envelope.MethodGetAck, nil) {
		t.Errorf("complete() after remove = true, want false")
	}

	select {
	case <-done:
		t.Errorf("removed entry still delivered a result")
	default:
	}
}

func TestPendingDuplicateID(t *testing.T) {
	table := newPendingTable()

	if _, err := table.add("m1", envelope.MethodGetAck); err != nil {
		t.Fatalf("add() error = %v", err)
	}
	if _, err := table.add("m1", envelope.MethodGetAck); !errors.Is(err, ErrDuplicateMessageID) {
		t.Errorf("duplicate add() error = %v, want ErrDuplicateMessageID", err)
	}
}

func TestPendingFailAll(t *testing.T) {
	table := newPendingTable()

	var chans []<-chan ackResult
	for _, id := range []string{"m1", "m2", "m3"} {
		done, err := table.add(id, envelope.MethodGetAck)
		if err != nil {
			t.Fatalf("add(%s) error = %v", id, err)
		}
		chans = append(chans, done)
	}

	table.failAll(ErrClosed)
	if table.size() != 0 {
		t.Fatalf("size() = %d after failAll, want 0", table.size())
	}
	for i, done := range chans {
		res := <-done
		if !errors.Is(res.err, ErrClosed) {
			t.Errorf("waiter %d error = %v, want ErrClosed", i, res.err)
		}
	}
}
