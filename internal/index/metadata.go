package index

import (
	"encoding/json"
	"time"
)

// Metadata is the per-message record kept while a message is in flight.
// FirstReceivedAt and LastReceivedAt stay zero until the first delivery.
type Metadata struct {
	ID              string    `json:"id"`
	Priority        int       `json:"priority"`
	SentAt          time.Time `json:"sentAt"`
	FirstReceivedAt time.Time `json:"firstReceivedAt"`
	LastReceivedAt  time.Time `json:"lastReceivedAt"`
	ReceiveCount    int64     `json:"receiveCount"`
}

// Delivered reports whether the message has been handed out at least once.
func (m Metadata) Delivered() bool { return m.ReceiveCount > 0 }

func encodeMetadata(m Metadata) ([]byte, error) { return json.Marshal(m) }

func decodeMetadata(b []byte) (Metadata, error) {
	var m Metadata
	err := json.Unmarshal(b, &m)
	return m, err
}
