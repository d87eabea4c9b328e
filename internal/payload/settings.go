package payload

import (
	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
	"github.com/liuyaodong/APNPush/internal/logger"
)

// FromSettings returns a builder populated from the payload configuration.
func FromSettings(s conf.PayloadSettings) *Builder {
	b := New()
	if s.MDM != "" {
		return b.MDM(s.MDM).CustomFields(s.Custom)
	}

	switch {
	case s.Alert == "":
	case s.AlertHTML:
		b.AlertHTML(s.Alert)
	default:
		b.AlertBody(s.Alert)
	}
	if s.ActionKey != "" {
		b.ActionKey(s.ActionKey)
	}
	if s.LocKey != "" {
		b.LocalizedKey(s.LocKey)
	}
	if len(s.LocArgs) > 0 {
		b.LocalizedArguments(s.LocArgs...)
	}
	if s.LaunchImage != "" {
		b.LaunchImage(s.LaunchImage)
	}
	if s.Badge >= 0 {
		b.Badge(s.Badge)
	}
	b.Sound(s.Sound)
	if s.ContentAvailable {
		b.ContentAvailable()
	}
	return b.CustomFields(s.Custom)
}

// Encode builds the payload described by s, shrinking the alert body when
// needed. It fails with ErrTooLong when the payload cannot be made to fit.
func Encode(s conf.PayloadSettings) ([]byte, error) {
	b := FromSettings(s)
	if b.IsTooLong() {
		before := b.Length()
		b.ShrinkBody(s.ShrinkPostfix)
		GetLogger().Warn("alert body shortened to fit payload limit",
			logger.Int("original_length", before),
			logger.Int("length", b.Length()))
	}

	data, err := b.Build()
	if err != nil {
		return nil, err
	}
	if len(data) > MaxLength {
		return nil, errors.New(ErrTooLong).
			Component("payload").
			Category(errors.CategoryPayload).
			Context("length", len(data)).
			Context("limit", MaxLength).
			Build()
	}
	return data, nil
}
