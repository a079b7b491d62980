package telegram

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/scenario"
)

func TestBuildMarkup(t *testing.T) {
	markup := buildMarkup([][]scenario.Button{
		{
			{Text: "Yes", CallbackData: "yes"},
			{Text: "No", CallbackData: "no"},
		},
		{
			{Text: "Docs", URL: "https://example.com"},
		},
	})

	assert.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "Yes", markup.InlineKeyboard[0][0].Text)
	assert.Equal(t, "yes", markup.InlineKeyboard[0][0].Data)
	assert.Equal(t, "https://example.com", markup.InlineKeyboard[1][0].URL)
}

func TestCallbackPayloadStripsMarker(t *testing.T) {
	assert.Equal(t, "yes", callbackPayload(&tele.Callback{Data: "\fyes"}))
	assert.Equal(t, "yes", callbackPayload(&tele.Callback{Data: "yes"}))
}

func TestSanitizeErrorMessageRedactsToken(t *testing.T) {
	err := errors.New("Post https://api.telegram.org/bot12345:AAH-secret_token/sendMessage: timeout")
	msg := sanitizeErrorMessage(err)
	assert.NotContains(t, msg, "AAH-secret_token")
	assert.Contains(t, msg, "bot<redacted>")
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "http_4xx", classifyError(&tele.Error{Code: 403}))
	assert.Equal(t, "http_5xx", classifyError(&tele.Error{Code: 502}))
	assert.Equal(t, "unknown", classifyError(errors.New("boom")))
	assert.Equal(t, "", classifyError(nil))
}
