package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	telebot "gopkg.in/telebot.v3"
)

type fakeContext struct {
	telebot.Context
	text     string
	callback *telebot.Callback
}

func (f *fakeContext) Text() string                { return f.text }
func (f *fakeContext) Callback() *telebot.Callback { return f.callback }

func TestNew_LogsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	handler := New(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	require.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), `"path":"/healthz"`)
}

func TestExtractCommandName(t *testing.T) {
	testCases := []struct {
		name     string
		ctx      telebot.Context
		expected string
	}{
		{name: "nil", ctx: nil, expected: "unknown"},
		{name: "command", ctx: &fakeContext{text: "/start"}, expected: "/start"},
		{name: "command with args", ctx: &fakeContext{text: "/start@fsm_bot ref"}, expected: "/start"},
		{name: "free text", ctx: &fakeContext{text: "Ann"}, expected: "message"},
		{name: "callback", ctx: &fakeContext{callback: &telebot.Callback{Data: "form_confirm:1"}}, expected: "form_confirm"},
		{name: "empty", ctx: &fakeContext{}, expected: "unknown"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, extractCommandName(tc.ctx))
		})
	}
}

func TestMetrics_PassesThroughError(t *testing.T) {
	wantErr := assert.AnError
	wrapped := Metrics(func(telebot.Context) error { return wantErr })

	assert.ErrorIs(t, wrapped(&fakeContext{text: "/help"}), wantErr)
	assert.Nil(t, Metrics(nil))
}
