package telegram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"nudgebot/internal/delivery"
	logx "nudgebot/pkg/logx"
)

func TestRenderText(t *testing.T) {
	cases := []struct {
		name string
		msg  delivery.Message
		want string
	}{
		{"normal", delivery.Message{Title: "Hi", Body: "there", Priority: "NORMAL"}, "<b>Hi</b>\nthere"},
		{"high", delivery.Message{Title: "Achievement Unlocked: 7 days", Priority: "HIGH"}, "❗ <b>Achievement Unlocked: 7 days</b>"},
		{"escaped", delivery.Message{Title: "a<b", Body: "x & y"}, "<b>a&lt;b</b>\nx &amp; y"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderText(tc.msg); got != tc.want {
				t.Fatalf("renderText() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestBuildMarkupDefaultsAndLimits(t *testing.T) {
	m := buildMarkup(delivery.Message{ID: "0b6a9c1e-6f0e-4a43-9a6f-0b1b2a3c4d5e"}, logx.Nop())
	require.NotNil(t, m)
	require.Len(t, m.InlineKeyboard, 1)
	row := m.InlineKeyboard[0]
	require.Len(t, row, 2)
	require.Equal(t, "Open", row[0].Text)
	require.Equal(t, "Dismiss", row[1].Text)

	long := delivery.Message{
		ID:      "0b6a9c1e-6f0e-4a43-9a6f-0b1b2a3c4d5e",
		Actions: []delivery.Action{{ID: strings.Repeat("x", 40), Title: "Too long"}},
	}
	require.Nil(t, buildMarkup(long, logx.Nop()))
}

func TestParseCallback(t *testing.T) {
	id, action, ok := parseCallback("abc|dismiss")
	require.True(t, ok)
	require.Equal(t, "abc", id)
	require.Equal(t, "dismiss", action)

	for _, bad := range []string{"", "abc", "|open", "abc|"} {
		_, _, ok := parseCallback(bad)
		require.False(t, ok, bad)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{}, nil, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{Token: "t"}, nil, logx.Nop())
	require.Error(t, err)
}
