package telegram

import (
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/flowbot/core/engine"
	"github.com/m3rciful/flowbot/core/logger"
)

// Route binds a handler to a Telebot endpoint.
type Route struct {
	Endpoint any
	Handler  tele.HandlerFunc
}

// BuildRoutes wires inbound updates into the engine. Every command in
// commands gets its own route starting the mapped scenario; remaining text
// and all callbacks feed the running session.
func BuildRoutes(eng *engine.Engine, commands map[string]string) []Route {
	routes := make([]Route, 0, len(commands)+2)

	for cmd, scenarioID := range commands {
		target := scenarioID
		routes = append(routes, Route{
			Endpoint: cmd,
			Handler: func(c tele.Context) error {
				ctx := updateContext(c)
				logger.Info(ctx, "tg", "command",
					slog.String("scenario_id", target))
				return eng.StartScenario(ctx, c.Chat().ID, c.Sender().ID, target, nil)
			},
		})
	}

	routes = append(routes, Route{
		Endpoint: tele.OnText,
		Handler: func(c tele.Context) error {
			return eng.HandleEvent(updateContext(c), engine.Event{
				ChatID:  c.Chat().ID,
				UserID:  c.Sender().ID,
				Kind:    engine.KindText,
				Payload: c.Text(),
			})
		},
	})

	routes = append(routes, Route{
		Endpoint: tele.OnCallback,
		Handler: func(c tele.Context) error {
			cb := c.Callback()
			if cb == nil {
				return nil
			}
			err := eng.HandleEvent(updateContext(c), engine.Event{
				ChatID:  c.Chat().ID,
				UserID:  c.Sender().ID,
				Kind:    engine.KindCallback,
				Payload: callbackPayload(cb),
			})
			// Always clear the client-side spinner, even when the event was
			// rejected by the wait spec.
			if respondErr := c.Respond(&tele.CallbackResponse{}); respondErr != nil {
				logger.Debug(updateContext(c), "tg", "callback_respond_failed",
					slog.String("err", sanitizeErrorMessage(respondErr)))
			}
			return err
		},
	})

	return routes
}

// callbackPayload normalizes raw callback data. Telebot splits typed-button
// data of the form "\f<unique>|<data>" before handlers run; raw buttons keep
// their data as-is, modulo the "\f" marker.
func callbackPayload(cb *tele.Callback) string {
	return strings.TrimPrefix(cb.Data, "\f")
}
