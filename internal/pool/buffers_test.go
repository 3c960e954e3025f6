package pool

import (
	"testing"

	"github.com/dnsscience/authdnsd/internal/wire"
)

func TestGetMessageReturnsCleared(t *testing.T) {
	msg := GetMessage()
	if len(msg.Question) != 0 || len(msg.Answer) != 0 {
		t.Fatalf("fresh message not empty: %+v", msg)
	}
}

func TestPutMessageClearsFields(t *testing.T) {
	msg := GetMessage()
	msg.Header.ID = 0xBEEF
	msg.Question = append(msg.Question, wire.Question{Name: "example.com."})
	msg.Answer = append(msg.Answer, wire.ResourceRecord{Name: "example.com."})

	PutMessage(msg)

	reused := GetMessage()
	if reused.Header.ID != 0 {
		t.Errorf("Header.ID leaked across reuse: %d", reused.Header.ID)
	}
	if len(reused.Question) != 0 || len(reused.Answer) != 0 {
		t.Errorf("slices leaked across reuse: %+v", reused)
	}
}

func TestPutMessageNilIsNoop(t *testing.T) {
	PutMessage(nil) // must not panic
}

func TestGetBufferSelectsTier(t *testing.T) {
	cases := []struct {
		size int
		want int
	}{
		{100, SmallBufferSize},
		{512, SmallBufferSize},
		{1000, MediumBufferSize},
		{4096, MediumBufferSize},
		{9000, LargeBufferSize},
	}
	for _, c := range cases {
		buf := GetBuffer(c.size)
		if len(buf) != c.want {
			t.Errorf("GetBuffer(%d) len = %d, want %d", c.size, len(buf), c.want)
		}
		PutBuffer(buf)
	}
}

func TestPutBufferDropsOddSizes(t *testing.T) {
	buf := make([]byte, 37)
	PutBuffer(buf) // must not panic; silently dropped
}

func TestBufferRoundTripKeepsTierCapacity(t *testing.T) {
	buf := GetBuffer(SmallBufferSize)
	buf[0] = 0xFF
	PutBuffer(buf)

	again := GetBuffer(SmallBufferSize)
	if cap(again) < SmallBufferSize {
		t.Fatalf("reused buffer capacity too small: %d", cap(again))
	}
}
