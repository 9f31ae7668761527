package workqueue

import (
	"errors"
	"testing"
)

func TestRecordRoundtrip(t *testing.T) {
	enc, err := encodeRecord(header{ID: "abc", Attributes: map[string]string{"Priority": "1"}, SentMs: 42}, []byte("payload"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	h, body, err := decodeRecord(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.ID != "abc" || h.Attributes["Priority"] != "1" || h.SentMs != 42 || string(body) != "payload" {
		t.Fatalf("mismatch: %+v %q", h, body)
	}
}

func TestRecordCRCFail(t *testing.T) {
	enc := EncodeMessage([]byte("a"), []byte("b"))
	enc[len(enc)-1] ^= 0xFF
	if _, ok := DecodeMessage(enc); ok {
		t.Fatalf("expected crc fail")
	}
	if _, _, err := decodeRecord(enc); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("want ErrCorruptRecord, got %v", err)
	}
}

func TestRecordTruncated(t *testing.T) {
	if _, ok := DecodeMessage([]byte{0, 0, 0, 9, 1, 2, 3, 4}); ok {
		t.Fatalf("expected short record to fail")
	}
}
