package federate

import (
	"bytes"
	"fmt"
)

// Delimiter separates the topic from the value in a payload.
const Delimiter = '='

// A Payload is a topic/value pair carried in a datagram as
// "<topic>=<value>".
type Payload struct {
	Topic string
	Value string
}

// Encode returns the wire form of the payload. The topic is not escaped, so
// a topic containing '=' does not survive a round trip.
func (p Payload) Encode() []byte {
	buf := make([]byte, 0, len(p.Topic)+1+len(p.Value))
	buf = append(buf, p.Topic...)
	buf = append(buf, Delimiter)
	buf = append(buf, p.Value...)

	return buf
}

func (p Payload) String() string {
	return string(p.Encode())
}

// DecodePayload splits a payload at its first '='.
func DecodePayload(b []byte) (Payload, error) {
	i := bytes.IndexByte(b, Delimiter)
	if i < 0 {
		return Payload{}, fmt.Errorf("%w: no '%c' in %q",
			ErrMalformedPayload, Delimiter, b)
	}

	return Payload{
		Topic: string(b[:i]),
		Value: string(b[i+1:]),
	}, nil
}
