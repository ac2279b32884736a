package models

// RawMessage is an unparsed message as fetched from the source, addressed by
// the source-assigned UID. Consumed once by the decoder and discarded.
type RawMessage struct {
	UID uint32
	Raw []byte
}
