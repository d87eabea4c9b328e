// Package payload builds the JSON payload shared by every notification of a
// push run.
package payload

import (
	"bytes"
	"encoding/json"
	"maps"
	"unicode/utf8"

	"github.com/k3a/html2text"
	"golang.org/x/text/unicode/norm"

	"github.com/liuyaodong/APNPush/internal/errors"
)

// MaxLength is the largest payload the legacy gateway accepts.
const MaxLength = 256

// ErrTooLong is returned when a payload cannot be shrunk below MaxLength.
var ErrTooLong = errors.NewStd("payload exceeds the gateway size limit")

const (
	keyAPS              = "aps"
	keyAlert            = "alert"
	keyBody             = "body"
	keyBadge            = "badge"
	keySound            = "sound"
	keyContentAvailable = "content-available"
	keyActionLocKey     = "action-loc-key"
	keyLocKey           = "loc-key"
	keyLocArgs          = "loc-args"
	keyLaunchImage      = "launch-image"
	keyMDM              = "mdm"
)

// Builder assembles an aps payload. Methods return the builder so calls can
// be chained. A Builder is not safe for concurrent use.
type Builder struct {
	root  map[string]any
	aps   map[string]any
	alert map[string]any
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{
		root:  make(map[string]any),
		aps:   make(map[string]any),
		alert: make(map[string]any),
	}
}

// AlertBody sets the alert text. The text is NFC normalized so that
// truncation never splits a base character from its combining marks.
func (b *Builder) AlertBody(body string) *Builder {
	b.alert[keyBody] = norm.NFC.String(body)
	return b
}

// AlertHTML sets the alert text from an HTML fragment, keeping only the text.
func (b *Builder) AlertHTML(html string) *Builder {
	return b.AlertBody(html2text.HTML2Text(html))
}

// Sound sets the sound file; an empty name removes it.
func (b *Builder) Sound(sound string) *Builder {
	if sound == "" {
		delete(b.aps, keySound)
		return b
	}
	b.aps[keySound] = sound
	return b
}

// Badge sets the application badge.
func (b *Builder) Badge(badge int) *Builder {
	b.aps[keyBadge] = badge
	return b
}

// ClearBadge sets the badge to zero, which removes it on the device.
func (b *Builder) ClearBadge() *Builder {
	return b.Badge(0)
}

// ActionKey sets the localization key of the action button.
func (b *Builder) ActionKey(key string) *Builder {
	b.alert[keyActionLocKey] = key
	return b
}

// NoActionButton shows the alert without an action button.
func (b *Builder) NoActionButton() *Builder {
	b.alert[keyActionLocKey] = nil
	return b
}

// ContentAvailable marks the notification for background fetch.
func (b *Builder) ContentAvailable() *Builder {
	b.aps[keyContentAvailable] = 1
	return b
}

// LocalizedKey sets the alert loc-key.
func (b *Builder) LocalizedKey(key string) *Builder {
	b.alert[keyLocKey] = key
	return b
}

// LocalizedArguments sets the alert loc-args.
func (b *Builder) LocalizedArguments(args ...string) *Builder {
	b.alert[keyLocArgs] = append([]string(nil), args...)
	return b
}

// LaunchImage sets the launch image file name.
func (b *Builder) LaunchImage(image string) *Builder {
	b.alert[keyLaunchImage] = image
	return b
}

// CustomField sets an application field next to aps.
func (b *Builder) CustomField(key string, value any) *Builder {
	b.root[key] = value
	return b
}

// CustomFields adds every entry of fields; earlier custom fields are kept.
func (b *Builder) CustomFields(fields map[string]any) *Builder {
	maps.Copy(b.root, fields)
	return b
}

// MDM turns the payload into an MDM wake-up carrying the push magic. An MDM
// payload has no aps dictionary.
func (b *Builder) MDM(pushMagic string) *Builder {
	return b.CustomField(keyMDM, pushMagic)
}

// Copy returns an independent builder with the same content.
func (b *Builder) Copy() *Builder {
	return &Builder{
		root:  maps.Clone(b.root),
		aps:   maps.Clone(b.aps),
		alert: maps.Clone(b.alert),
	}
}

// Build returns the JSON payload. Keys are emitted in sorted order and HTML
// characters are not escaped.
func (b *Builder) Build() ([]byte, error) {
	root := maps.Clone(b.root)
	if _, isMDM := root[keyMDM]; !isMDM {
		aps := maps.Clone(b.aps)
		switch body, hasBody := b.alert[keyBody]; {
		case len(b.alert) == 0:
			delete(aps, keyAlert)
		case len(b.alert) == 1 && hasBody:
			aps[keyAlert] = body
		default:
			aps[keyAlert] = maps.Clone(b.alert)
		}
		root[keyAPS] = aps
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(root); err != nil {
		return nil, errors.New(err).
			Component("payload").
			Category(errors.CategoryPayload).
			Context("operation", "encode_payload").
			Build()
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Length returns the size of the built payload in bytes, or -1 if it cannot
// be encoded.
func (b *Builder) Length() int {
	data, err := b.Build()
	if err != nil {
		return -1
	}
	return len(data)
}

// IsTooLong reports whether the payload exceeds MaxLength.
func (b *Builder) IsTooLong() bool {
	return b.Length() > MaxLength
}

// ResizeAlertBody truncates the alert body, appending postfix, so that the
// payload fits in maxLength bytes. Truncation happens on a character
// boundary. When the payload still does not fit the body is removed.
func (b *Builder) ResizeAlertBody(maxLength int, postfix string) *Builder {
	current := b.Length()
	if current <= maxLength {
		return b
	}

	body, ok := b.alert[keyBody].(string)
	if !ok {
		return b
	}

	acceptable := len(body) - (current - maxLength + len(postfix))
	b.alert[keyBody] = truncateUTF8(body, acceptable) + postfix

	if b.Length() > maxLength {
		delete(b.alert, keyBody)
	}
	return b
}

// ShrinkBody is ResizeAlertBody with MaxLength.
func (b *Builder) ShrinkBody(postfix string) *Builder {
	return b.ResizeAlertBody(MaxLength, postfix)
}

// String returns the payload JSON, or an empty string on error.
func (b *Builder) String() string {
	data, err := b.Build()
	if err != nil {
		return ""
	}
	return string(data)
}

// truncateUTF8 returns the longest prefix of s that is at most maxBytes long
// and ends on a rune boundary.
func truncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	n := 0
	for n < len(s) {
		_, size := utf8.DecodeRuneInString(s[n:])
		if n+size > maxBytes {
			break
		}
		n += size
	}
	return s[:n]
}
