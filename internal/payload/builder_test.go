package payload

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/antonholmquist/jason"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuyaodong/APNPush/internal/conf"
	"github.com/liuyaodong/APNPush/internal/errors"
)

func parse(t *testing.T, b *Builder) *jason.Object {
	t.Helper()
	data, err := b.Build()
	require.NoError(t, err)
	obj, err := jason.NewObjectFromBytes(data)
	require.NoError(t, err)
	return obj
}

func TestBuildSimpleAlert(t *testing.T) {
	t.Parallel()

	b := New().AlertBody("Hello").Badge(3).Sound("default")
	data, err := b.Build()
	require.NoError(t, err)
	assert.JSONEq(t, `{"aps":{"alert":"Hello","badge":3,"sound":"default"}}`, string(data))
	assert.Equal(t, len(data), b.Length())
	assert.False(t, b.IsTooLong())
}

func TestBuildAlertDictionary(t *testing.T) {
	t.Parallel()

	obj := parse(t, New().
		AlertBody("Game request").
		ActionKey("PLAY").
		LocalizedKey("GAME_PLAY_REQUEST_FORMAT").
		LocalizedArguments("Jenna", "Frank").
		LaunchImage("launch.png"))

	alert, err := obj.GetObject("aps", "alert")
	require.NoError(t, err)

	body, _ := alert.GetString("body")
	action, _ := alert.GetString("action-loc-key")
	locKey, _ := alert.GetString("loc-key")
	args, _ := alert.GetStringArray("loc-args")
	image, _ := alert.GetString("launch-image")
	assert.Equal(t, "Game request", body)
	assert.Equal(t, "PLAY", action)
	assert.Equal(t, "GAME_PLAY_REQUEST_FORMAT", locKey)
	assert.Equal(t, []string{"Jenna", "Frank"}, args)
	assert.Equal(t, "launch.png", image)
}

func TestBuildNoActionButton(t *testing.T) {
	t.Parallel()

	obj := parse(t, New().AlertBody("hi").NoActionButton())
	assert.NoError(t, obj.GetNull("aps", "alert", "action-loc-key"))
}

func TestBuildWithoutAlert(t *testing.T) {
	t.Parallel()

	b := New().ContentAvailable().CustomField("acme", "x")
	data, err := b.Build()
	require.NoError(t, err)
	assert.JSONEq(t, `{"aps":{"content-available":1},"acme":"x"}`, string(data))
}

func TestBuildMDM(t *testing.T) {
	t.Parallel()

	data, err := New().AlertBody("ignored").MDM("magic-value").Build()
	require.NoError(t, err)
	assert.JSONEq(t, `{"mdm":"magic-value"}`, string(data))
}

func TestBuildDoesNotEscapeHTML(t *testing.T) {
	t.Parallel()

	data, err := New().AlertBody("a < b & c").Build()
	require.NoError(t, err)
	assert.Contains(t, string(data), "a < b & c")
}

func TestAlertHTML(t *testing.T) {
	t.Parallel()

	obj := parse(t, New().AlertHTML("<p>Sale <b>today</b></p>"))
	alert, err := obj.GetString("aps", "alert")
	require.NoError(t, err)
	assert.Equal(t, "Sale today", strings.TrimSpace(alert))
}

func TestCopyIsIndependent(t *testing.T) {
	t.Parallel()

	a := New().AlertBody("one")
	b := a.Copy().AlertBody("two").Badge(1)

	assert.JSONEq(t, `{"aps":{"alert":"one"}}`, a.String())
	assert.JSONEq(t, `{"aps":{"alert":"two","badge":1}}`, b.String())
}

func TestShrinkBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"ascii", strings.Repeat("a", 400)},
		{"two byte runes", strings.Repeat("é", 300)},
		{"three byte runes", strings.Repeat("推送", 150)},
		{"four byte runes", strings.Repeat("😀", 120)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			b := New().AlertBody(tt.body).Badge(1).ShrinkBody("...")
			require.LessOrEqual(t, b.Length(), MaxLength)

			body, err := parse(t, b).GetString("aps", "alert")
			require.NoError(t, err)
			assert.True(t, utf8.ValidString(body))
			assert.True(t, strings.HasSuffix(body, "..."))
			assert.Greater(t, len(body), MaxLength/2, "truncation should keep most of the room")
		})
	}
}

func TestResizeAlertBodyNoop(t *testing.T) {
	t.Parallel()

	b := New().AlertBody("short").ResizeAlertBody(100, "...")
	assert.JSONEq(t, `{"aps":{"alert":"short"}}`, b.String())
}

func TestResizeAlertBodyDropsBodyWhenHopeless(t *testing.T) {
	t.Parallel()

	b := New().
		AlertBody("body").
		CustomField("blob", strings.Repeat("x", 300)).
		ResizeAlertBody(MaxLength, "...")

	_, err := parse(t, b).GetValue("aps", "alert")
	assert.Error(t, err, "body should have been removed")
}

func TestTruncateUTF8(t *testing.T) {
	t.Parallel()

	assert.Empty(t, truncateUTF8("abc", 0))
	assert.Empty(t, truncateUTF8("abc", -5))
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "ab", truncateUTF8("abc", 2))
	assert.Equal(t, "é", truncateUTF8("éé", 3))
	assert.Empty(t, truncateUTF8("😀", 3))
}

func TestEncodeFromSettings(t *testing.T) {
	t.Parallel()

	data, err := Encode(conf.PayloadSettings{
		Alert:  "New message",
		Badge:  -1,
		Sound:  "default",
		Custom: map[string]any{"url": "https://example.com/m/1"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"aps":{"alert":"New message","sound":"default"},"url":"https://example.com/m/1"}`, string(data))
}

func TestEncodeHTMLAlert(t *testing.T) {
	t.Parallel()

	data, err := Encode(conf.PayloadSettings{
		Alert:     "<p>Flash <b>sale</b></p>",
		AlertHTML: true,
		Badge:     -1,
	})
	require.NoError(t, err)

	obj, err := jason.NewObjectFromBytes(data)
	require.NoError(t, err)
	alert, err := obj.GetString("aps", "alert")
	require.NoError(t, err)
	assert.Equal(t, "Flash sale", strings.TrimSpace(alert))
}

func TestEncodeShrinksLongAlert(t *testing.T) {
	t.Parallel()

	data, err := Encode(conf.PayloadSettings{
		Alert:         strings.Repeat("long ", 100),
		Badge:         2,
		ShrinkPostfix: "…",
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), MaxLength)
	assert.Contains(t, string(data), "…")
}

func TestEncodeTooLong(t *testing.T) {
	t.Parallel()

	_, err := Encode(conf.PayloadSettings{
		Badge:  -1,
		Custom: map[string]any{"blob": strings.Repeat("x", 300)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooLong)
	assert.True(t, errors.IsCategory(err, errors.CategoryPayload))
}
