package apns

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testToken(t *testing.T, b byte) Token {
	t.Helper()
	tok, err := ParseToken(strings.Repeat(string("0123456789abcdef"[b%16])+"f", 32))
	require.NoError(t, err)
	return tok
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	expiry := time.Unix(1_900_000_000, 0)
	tests := []struct {
		name    string
		payload []byte
		opts    []NotificationOption
		wantExp time.Time
		wantPri uint8
	}{
		{"defaults", []byte(`{"aps":{"alert":"hi"}}`), nil, time.Time{}, PriorityImmediate},
		{"expiration and priority", []byte(`{"aps":{"badge":3}}`), []NotificationOption{WithExpiration(expiry), WithPriority(PriorityPowerSaving)}, expiry, PriorityPowerSaving},
		{"empty payload", nil, nil, time.Time{}, PriorityImmediate},
		{"max conventional payload", bytes.Repeat([]byte("x"), MaxPayloadSize), nil, time.Time{}, PriorityImmediate},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			n, err := NewNotification(uint32(1000+i), testToken(t, byte(i)), tt.payload, tt.opts...)
			require.NoError(t, err)

			frame := Encode(n)
			got, err := DecodeFrame(bytes.NewReader(frame))
			require.NoError(t, err)

			assert.Equal(t, n.ID(), got.ID())
			assert.Equal(t, n.Token(), got.Token())
			assert.Equal(t, len(tt.payload), len(got.Payload()))
			assert.True(t, bytes.Equal(tt.payload, got.Payload()))
			assert.True(t, tt.wantExp.Equal(got.Expiration()))
			assert.Equal(t, tt.wantPri, got.Priority())
		})
	}
}

func TestFrameLengthMatchesItems(t *testing.T) {
	t.Parallel()

	for _, size := range []int{0, 1, 31, 200, 256, 2048} {
		n, err := NewNotification(7, Token{}, bytes.Repeat([]byte("a"), size))
		require.NoError(t, err)

		frame := Encode(n)
		require.Equal(t, CommandNotification, frame[0])
		declared := binary.BigEndian.Uint32(frame[1:5])

		// walk the items and add up their sizes
		var sum uint32
		var ids []byte
		for rest := frame[frameHeaderSize:]; len(rest) > 0; {
			itemLen := uint32(binary.BigEndian.Uint16(rest[1:3]))
			ids = append(ids, rest[0])
			sum += itemHeaderSize + itemLen
			rest = rest[itemHeaderSize+itemLen:]
		}

		assert.Equal(t, sum, declared, "payload size %d", size)
		assert.Equal(t, len(frame)-frameHeaderSize, int(declared))
		assert.Equal(t, []byte{itemToken, itemPayload, itemIdentifier, itemExpiration, itemPriority}, ids)
	}
}

func TestDecodeFrameRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	n, err := NewNotification(1, Token{}, []byte("{}"))
	require.NoError(t, err)
	frame := Encode(n)

	badCommand := append([]byte(nil), frame...)
	badCommand[0] = 9
	_, err = DecodeFrame(bytes.NewReader(badCommand))
	require.ErrorIs(t, err, ErrMalformedFrame)

	_, err = DecodeFrame(bytes.NewReader(frame[:len(frame)-3]))
	require.ErrorIs(t, err, ErrMalformedFrame)

	badToken := append([]byte(nil), frame...)
	binary.BigEndian.PutUint16(badToken[frameHeaderSize+1:], 31)
	_, err = DecodeFrame(bytes.NewReader(badToken))
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestNewNotificationRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	_, err := NewNotification(1, Token{}, make([]byte, 1<<16))
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestParseToken(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("aB", 32)
	tok, err := ParseToken(valid)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(valid), tok.String())

	for _, bad := range []string{"", "abc", strings.Repeat("g", 64), strings.Repeat("a", 63), strings.Repeat("a", 65)} {
		_, err := ParseToken(bad)
		require.ErrorIs(t, err, ErrInvalidToken, "token %q", bad)
		assert.False(t, IsValidTokenString(bad))
	}
	assert.True(t, IsValidTokenString(valid))
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusInvalidToken, ParseStatus(8))
	assert.Equal(t, StatusShutdown, ParseStatus(10))
	assert.Equal(t, StatusUnknown, ParseStatus(9))
	assert.Equal(t, StatusUnknown, ParseStatus(200))
	assert.Equal(t, "UNKNOWN", ParseStatus(42).String())
	assert.True(t, StatusInvalidTokenSize.IsTokenRelated())
	assert.False(t, StatusInvalidPayloadSize.IsTokenRelated())
}

func TestRejectionDecoderBuffersPartialFrames(t *testing.T) {
	t.Parallel()

	d := NewRejectionDecoder(nil)
	stream := append(EncodeRejection(StatusInvalidToken, 50), EncodeRejection(Status(77), 51)...)

	assert.Empty(t, d.Feed(stream[:4]))
	assert.Equal(t, 4, d.Buffered())

	got := d.Feed(stream[4:9])
	require.Len(t, got, 1)
	assert.Equal(t, Rejection{Command: CommandRejection, Status: StatusInvalidToken, ID: 50}, got[0])

	got = d.Feed(stream[9:])
	require.Len(t, got, 1)
	assert.Equal(t, StatusUnknown, got[0].Status)
	assert.Equal(t, uint32(51), got[0].ID)
	assert.Zero(t, d.Buffered())
}

func TestRejectionDecoderLargeChunk(t *testing.T) {
	t.Parallel()

	var stream []byte
	for i := range 500 {
		stream = append(stream, EncodeRejection(StatusShutdown, uint32(i))...)
	}

	got := NewRejectionDecoder(nil).Feed(stream)
	require.Len(t, got, 500)
	assert.Equal(t, uint32(499), got[499].ID)
}

func feedbackStream(t *testing.T) ([]byte, []FeedbackTuple) {
	t.Helper()

	var stream []byte
	var want []FeedbackTuple
	for i := range 20 {
		tok := testToken(t, byte(i))
		ts := time.Unix(int64(1_700_000_000+i), 0)
		stream = append(stream, EncodeFeedbackTuple(ts, tok[:])...)
		want = append(want, FeedbackTuple{Timestamp: ts, Token: append([]byte(nil), tok[:]...)})
	}
	// a short, non-standard token length must still decode
	stream = append(stream, EncodeFeedbackTuple(time.Unix(5, 0), []byte{1, 2, 3})...)
	want = append(want, FeedbackTuple{Timestamp: time.Unix(5, 0), Token: []byte{1, 2, 3}})
	return stream, want
}

func TestFeedbackDecoderChunkBoundaries(t *testing.T) {
	t.Parallel()

	stream, want := feedbackStream(t)

	whole := NewFeedbackDecoder().Feed(stream)
	assert.Equal(t, want, whole)

	for _, chunk := range []int{1, 2, 5, 7, 38, 1000} {
		d := NewFeedbackDecoder()
		var got []FeedbackTuple
		for i := 0; i < len(stream); i += chunk {
			got = append(got, d.Feed(stream[i:min(i+chunk, len(stream))])...)
		}
		assert.Equal(t, want, got, "chunk size %d", chunk)
		assert.False(t, d.Pending())
	}
}

func TestFeedbackDecoderLongToken(t *testing.T) {
	t.Parallel()

	token := bytes.Repeat([]byte{0xab}, 0xffff)
	stream := EncodeFeedbackTuple(time.Unix(10, 0), token)

	d := NewFeedbackDecoder()
	var got []FeedbackTuple
	for i := 0; i < len(stream); i += 4096 {
		got = append(got, d.Feed(stream[i:min(i+4096, len(stream))])...)
	}
	require.Len(t, got, 1)
	assert.Len(t, got[0].Token, 0xffff)
}

func TestFeedbackDecoderPendingOnTruncation(t *testing.T) {
	t.Parallel()

	stream, _ := feedbackStream(t)
	d := NewFeedbackDecoder()
	got := d.Feed(stream[:len(stream)-1])
	assert.Len(t, got, 20)
	assert.True(t, d.Pending())
}
