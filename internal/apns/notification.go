package apns

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// TokenSize is the binary length of a device token.
	TokenSize = 32
	// TokenHexLength is the length of a device token in hexadecimal form.
	TokenHexLength = TokenSize * 2
	// MaxPayloadSize is the conventional payload ceiling enforced by the gateway.
	MaxPayloadSize = 256

	// PriorityImmediate sends the notification immediately.
	PriorityImmediate uint8 = 10
	// PriorityPowerSaving lets the device batch the notification.
	PriorityPowerSaving uint8 = 5
)

// Token is a binary device token.
type Token [TokenSize]byte

// ParseToken decodes a 64 character hexadecimal device token.
func ParseToken(s string) (Token, error) {
	var t Token
	if len(s) != TokenHexLength {
		return t, fmt.Errorf("%w: got %d characters", ErrInvalidToken, len(s))
	}
	if _, err := hex.Decode(t[:], []byte(s)); err != nil {
		return t, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return t, nil
}

// String returns the lowercase hexadecimal form.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// IsValidTokenString reports whether s is a well-formed hexadecimal token.
func IsValidTokenString(s string) bool {
	if len(s) != TokenHexLength {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F')
	}) < 0
}

// Notification is one push addressed to one device. It is immutable once built.
type Notification struct {
	id         uint32
	token      Token
	payload    []byte
	expiration time.Time
	priority   uint8
}

// NotificationOption customises a Notification at construction.
type NotificationOption func(*Notification)

// WithExpiration sets the time after which the gateway may discard the notification.
func WithExpiration(t time.Time) NotificationOption {
	return func(n *Notification) { n.expiration = t }
}

// WithPriority overrides the default immediate priority.
func WithPriority(p uint8) NotificationOption {
	return func(n *Notification) { n.priority = p }
}

// NewNotification builds a notification. The payload is copied.
func NewNotification(id uint32, token Token, payload []byte, opts ...NotificationOption) (*Notification, error) {
	if len(payload) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	n := &Notification{
		id:       id,
		token:    token,
		payload:  append([]byte(nil), payload...),
		priority: PriorityImmediate,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// ID returns the notification identifier.
func (n *Notification) ID() uint32 { return n.id }

// Token returns the device token.
func (n *Notification) Token() Token { return n.token }

// Payload returns the payload bytes. Callers must not modify them.
func (n *Notification) Payload() []byte { return n.payload }

// Expiration returns the expiry time; the zero time means none.
func (n *Notification) Expiration() time.Time { return n.expiration }

// Priority returns the delivery priority.
func (n *Notification) Priority() uint8 { return n.priority }

func (n *Notification) expirationSeconds() uint32 {
	if n.expiration.IsZero() {
		return 0
	}
	sec := n.expiration.Unix()
	if sec <= 0 {
		return 0
	}
	if sec > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(sec)
}
