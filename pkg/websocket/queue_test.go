package websocket

import "testing"

func TestSendQueuePrefersControlOverData(t *testing.T) {
	q := newSendQueue()

	q.enqueueData(sendItem{op: OpcodeText, data: []byte("data")})
	q.enqueueControl(sendItem{op: opcodePing, data: []byte("ping")})

	item, ok := q.next()
	if !ok {
		t.Fatal("next() ok = false, want true")
	}
	if item.op != opcodePing {
		t.Errorf("next() op = %v, want %v (control should jump the queue)", item.op, opcodePing)
	}

	item, ok = q.next()
	if !ok {
		t.Fatal("next() ok = false, want true")
	}
	if item.op != OpcodeText {
		t.Errorf("next() op = %v, want %v", item.op, OpcodeText)
	}
}

func TestSendQueueNextBlocksThenReturnsFalseWhenClosed(t *testing.T) {
	q := newSendQueue()

	done := make(chan bool, 1)
	go func() {
		_, ok := q.next()
		done <- ok
	}()

	q.closeChannels()

	if ok := <-done; ok {
		t.Error("next() after closeChannels() = true, want false")
	}
}

func TestPrepareSendItemCopyOnEnqueue(t *testing.T) {
	c := &Conn{copyOnEnqueue: true}
	payload := []byte("hello")

	item := c.prepareSendItem(OpcodeText, payload, true)
	if item.id == "" {
		t.Error("prepareSendItem(wantID=true): id is empty")
	}

	item.data[0] = 'H'
	if payload[0] != 'h' {
		t.Error("prepareSendItem with copyOnEnqueue=true mutated the caller's slice")
	}
}

func TestPrepareSendItemNoCopy(t *testing.T) {
	c := &Conn{copyOnEnqueue: false}
	payload := []byte("hello")

	item := c.prepareSendItem(OpcodeBinary, payload, false)
	if item.id != "" {
		t.Error("prepareSendItem(wantID=false): id is non-empty")
	}

	item.data[0] = 'H'
	if payload[0] != 'H' {
		t.Error("prepareSendItem with copyOnEnqueue=false should share the caller's backing array")
	}
}
