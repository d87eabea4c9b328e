package apns

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/liuyaodong/APNPush/internal/logger"
)

const (
	rejectionBufferSize = RejectionSize * 64
	// A whole token of the largest declarable length must fit in the staging buffer.
	feedbackBufferSize = math.MaxUint16 + 1024
)

// stage is a resumable read: bytes are staged in a ring buffer until the
// current stage's length is available, then consumed in one read.
type stage struct {
	buf *ringbuffer.RingBuffer
}

func newStage(capacity int) stage {
	return stage{buf: ringbuffer.New(capacity)}
}

// feed stages as much of chunk as fits and returns the remainder.
func (s stage) feed(chunk []byte) []byte {
	n := min(s.buf.Free(), len(chunk))
	if n == 0 {
		return chunk
	}
	written, _ := s.buf.Write(chunk[:n])
	return chunk[written:]
}

// take fills dst when enough bytes are staged.
func (s stage) take(dst []byte) bool {
	if s.buf.Length() < len(dst) {
		return false
	}
	if len(dst) == 0 {
		return true
	}
	n, err := s.buf.Read(dst)
	return err == nil && n == len(dst)
}

func (s stage) reset() { s.buf.Reset() }

// RejectionDecoder turns a byte stream from the gateway into rejections.
// Partial frames are kept until the remaining bytes arrive.
type RejectionDecoder struct {
	in      stage
	scratch [RejectionSize]byte
	log     logger.Logger
}

// NewRejectionDecoder creates a decoder; log may be nil.
func NewRejectionDecoder(log logger.Logger) *RejectionDecoder {
	if log == nil {
		log = GetLogger()
	}
	return &RejectionDecoder{in: newStage(rejectionBufferSize), log: log}
}

// Feed consumes chunk and returns every rejection it completes.
func (d *RejectionDecoder) Feed(chunk []byte) []Rejection {
	var out []Rejection
	for {
		chunk = d.in.feed(chunk)
		for d.in.take(d.scratch[:]) {
			out = append(out, d.decode())
		}
		if len(chunk) == 0 {
			return out
		}
	}
}

// Buffered returns how many bytes of an incomplete frame are held.
func (d *RejectionDecoder) Buffered() int {
	return d.in.buf.Length()
}

// Reset discards any partial frame.
func (d *RejectionDecoder) Reset() { d.in.reset() }

func (d *RejectionDecoder) decode() Rejection {
	r := Rejection{
		Command: d.scratch[0],
		Status:  ParseStatus(d.scratch[1]),
		ID:      binary.BigEndian.Uint32(d.scratch[2:]),
	}
	if r.Command != CommandRejection {
		d.log.Error("unexpected command in rejection frame",
			logger.Int("command", int(r.Command)),
			logger.Uint32("notification_id", r.ID))
	}
	return r
}

type feedbackStage int

const (
	stageTimestamp feedbackStage = iota
	stageLength
	stageToken
)

// FeedbackDecoder turns the feedback stream into tuples. It resumes at any
// chunk boundary: timestamp, then token length, then token bytes.
type FeedbackDecoder struct {
	in        stage
	stage     feedbackStage
	timestamp uint32
	tokenLen  int
	scratch   [4]byte
}

// NewFeedbackDecoder creates an empty decoder.
func NewFeedbackDecoder() *FeedbackDecoder {
	return &FeedbackDecoder{in: newStage(feedbackBufferSize)}
}

// Feed consumes chunk and returns every tuple it completes.
func (d *FeedbackDecoder) Feed(chunk []byte) []FeedbackTuple {
	var out []FeedbackTuple
	for {
		chunk = d.in.feed(chunk)
		out = d.drain(out)
		if len(chunk) == 0 {
			return out
		}
	}
}

func (d *FeedbackDecoder) drain(out []FeedbackTuple) []FeedbackTuple {
	for {
		switch d.stage {
		case stageTimestamp:
			if !d.in.take(d.scratch[:4]) {
				return out
			}
			d.timestamp = binary.BigEndian.Uint32(d.scratch[:4])
			d.stage = stageLength
		case stageLength:
			if !d.in.take(d.scratch[:2]) {
				return out
			}
			d.tokenLen = int(binary.BigEndian.Uint16(d.scratch[:2]))
			d.stage = stageToken
		case stageToken:
			if d.in.buf.Length() < d.tokenLen {
				return out
			}
			token := make([]byte, d.tokenLen)
			d.in.take(token)
			out = append(out, FeedbackTuple{
				Timestamp: time.Unix(int64(d.timestamp), 0),
				Token:     token,
			})
			d.stage = stageTimestamp
		}
	}
}

// Pending reports whether a tuple is partially decoded.
func (d *FeedbackDecoder) Pending() bool {
	return d.stage != stageTimestamp || d.in.buf.Length() > 0
}
