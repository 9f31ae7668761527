package workqueue

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
)

// Message record: headerLen(4B BE) | header | payload | crc32c(header|payload)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorruptRecord is returned for a record whose checksum does not match.
var ErrCorruptRecord = errors.New("workqueue: corrupt record")

func EncodeMessage(header, payload []byte) []byte {
	hlen := uint32(len(header))
	out := make([]byte, 0, 4+len(header)+len(payload)+4)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], hlen)
	out = append(out, hb[:]...)
	out = append(out, header...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out
}

type Decoded struct {
	Header  []byte
	Payload []byte
}

func DecodeMessage(b []byte) (Decoded, bool) {
	if len(b) < 8 {
		return Decoded{}, false
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	if int(4+hlen+4) > len(b) {
		return Decoded{}, false
	}
	headerEnd := 4 + int(hlen)
	header := b[4:headerEnd]
	payload := b[headerEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Decoded{}, false
	}
	return Decoded{Header: append([]byte(nil), header...), Payload: append([]byte(nil), payload...)}, true
}

// header is the JSON part of a message record.
type header struct {
	ID              string            `json:"id"`
	Attributes      map[string]string `json:"attrs,omitempty"`
	GroupID         string            `json:"group,omitempty"`
	DeduplicationID string            `json:"dedup,omitempty"`
	SentMs          int64             `json:"sentMs"`
}

func encodeRecord(h header, body []byte) ([]byte, error) {
	hb, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return EncodeMessage(hb, body), nil
}

func decodeRecord(b []byte) (header, []byte, error) {
	dec, ok := DecodeMessage(b)
	if !ok {
		return header{}, nil, ErrCorruptRecord
	}
	var h header
	if err := json.Unmarshal(dec.Header, &h); err != nil {
		return header{}, nil, ErrCorruptRecord
	}
	return h, dec.Payload, nil
}
