package apns

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"time"
)

// Wire constants of the binary interface.
const (
	CommandNotification byte = 2
	CommandRejection    byte = 8

	itemToken      byte = 1
	itemPayload    byte = 2
	itemIdentifier byte = 3
	itemExpiration byte = 4
	itemPriority   byte = 5

	itemHeaderSize  = 3 // id u8 + length u16
	frameHeaderSize = 5 // command u8 + frame length u32

	// RejectionSize is the fixed length of a rejection frame.
	RejectionSize = 6

	// maxConventionalFrameSize is a whole frame carrying a MaxPayloadSize payload.
	maxConventionalFrameSize = frameHeaderSize + 5*itemHeaderSize + TokenSize + MaxPayloadSize + 4 + 4 + 1

	// maxFrameLength bounds DecodeFrame allocations: every item at its maximum.
	maxFrameLength = 5*itemHeaderSize + TokenSize + math.MaxUint16 + 4 + 4 + 1
)

// FrameLength returns the value of the frame-length field for n.
func FrameLength(n *Notification) int {
	return 5*itemHeaderSize + TokenSize + len(n.payload) + 4 + 4 + 1
}

// Encode serializes n into a notification frame.
func Encode(n *Notification) []byte {
	frameLen := FrameLength(n)
	buf := make([]byte, 0, frameHeaderSize+frameLen)

	buf = append(buf, CommandNotification)
	buf = binary.BigEndian.AppendUint32(buf, uint32(frameLen))

	buf = appendItemHeader(buf, itemToken, TokenSize)
	buf = append(buf, n.token[:]...)

	buf = appendItemHeader(buf, itemPayload, len(n.payload))
	buf = append(buf, n.payload...)

	buf = appendItemHeader(buf, itemIdentifier, 4)
	buf = binary.BigEndian.AppendUint32(buf, n.id)

	buf = appendItemHeader(buf, itemExpiration, 4)
	buf = binary.BigEndian.AppendUint32(buf, n.expirationSeconds())

	buf = appendItemHeader(buf, itemPriority, 1)
	buf = append(buf, n.priority)

	return buf
}

func appendItemHeader(buf []byte, id byte, length int) []byte {
	buf = append(buf, id)
	return binary.BigEndian.AppendUint16(buf, uint16(length))
}

// DecodeFrame reads one notification frame from r. Unknown item ids are
// skipped; missing token or identifier items are an error.
func DecodeFrame(r io.Reader) (*Notification, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	if header[0] != CommandNotification {
		return nil, fmt.Errorf("%w: command %d", ErrMalformedFrame, header[0])
	}
	frameLen := binary.BigEndian.Uint32(header[1:])
	if frameLen > maxFrameLength {
		return nil, fmt.Errorf("%w: frame length %d", ErrMalformedFrame, frameLen)
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated frame: %w", ErrMalformedFrame, err)
	}

	n := &Notification{priority: PriorityImmediate}
	var seenToken, seenID bool
	for len(body) > 0 {
		if len(body) < itemHeaderSize {
			return nil, fmt.Errorf("%w: truncated item header", ErrMalformedFrame)
		}
		id := body[0]
		size := int(binary.BigEndian.Uint16(body[1:3]))
		body = body[itemHeaderSize:]
		if len(body) < size {
			return nil, fmt.Errorf("%w: item %d declares %d bytes, %d left", ErrMalformedFrame, id, size, len(body))
		}
		data := body[:size]
		body = body[size:]

		switch id {
		case itemToken:
			if size != TokenSize {
				return nil, fmt.Errorf("%w: token item of %d bytes", ErrMalformedFrame, size)
			}
			copy(n.token[:], data)
			seenToken = true
		case itemPayload:
			n.payload = append([]byte(nil), data...)
		case itemIdentifier:
			if size != 4 {
				return nil, fmt.Errorf("%w: identifier item of %d bytes", ErrMalformedFrame, size)
			}
			n.id = binary.BigEndian.Uint32(data)
			seenID = true
		case itemExpiration:
			if size != 4 {
				return nil, fmt.Errorf("%w: expiration item of %d bytes", ErrMalformedFrame, size)
			}
			if sec := binary.BigEndian.Uint32(data); sec != 0 {
				n.expiration = time.Unix(int64(sec), 0)
			}
		case itemPriority:
			if size != 1 {
				return nil, fmt.Errorf("%w: priority item of %d bytes", ErrMalformedFrame, size)
			}
			n.priority = data[0]
		}
	}

	if !seenToken || !seenID {
		return nil, fmt.Errorf("%w: missing token or identifier", ErrMalformedFrame)
	}
	return n, nil
}

// Rejection is the gateway's error response for one notification.
type Rejection struct {
	Command byte
	Status  Status
	ID      uint32
}

// EncodeRejection serializes a rejection frame.
func EncodeRejection(status Status, id uint32) []byte {
	buf := make([]byte, 0, RejectionSize)
	buf = append(buf, CommandRejection, byte(status))
	return binary.BigEndian.AppendUint32(buf, id)
}

// FeedbackTuple is one expired-token record from the feedback service.
type FeedbackTuple struct {
	Timestamp time.Time
	Token     []byte
}

// TokenHex returns the token in lowercase hexadecimal.
func (f FeedbackTuple) TokenHex() string {
	return hex.EncodeToString(f.Token)
}

// EncodeFeedbackTuple serializes a feedback tuple.
func EncodeFeedbackTuple(ts time.Time, token []byte) []byte {
	buf := make([]byte, 0, 6+len(token))
	buf = binary.BigEndian.AppendUint32(buf, uint32(ts.Unix()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(token)))
	return append(buf, token...)
}
