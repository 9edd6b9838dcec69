package bot

import (
	"context"
	"fmt"
	"io"

	"github.com/acaisupper/acaibot/order"

	tele "gopkg.in/telebot.v4"
)

// fsm adapts the flow engine to the message router's FSM interface. Photos
// carry a lazy fetcher so bytes download only when the payment stage asks.
type fsm struct {
	svc *Service
}

func (f fsm) InProgress(userID int64) bool {
	return f.svc.engine.InProgress(userID)
}

func (f fsm) ManagerHandler(c tele.Context) error {
	msg := c.Message()
	if msg != nil && msg.Photo != nil {
		return f.svc.dispatch(c, order.PhotoInput(photoFetcher(c, msg.Photo)))
	}
	return f.svc.dispatch(c, order.TextInput(c.Text()))
}

func photoFetcher(c tele.Context, photo *tele.Photo) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		rc, err := c.Bot().File(&photo.File)
		if err != nil {
			return nil, fmt.Errorf("download photo: %w", err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read photo: %w", err)
		}
		return data, nil
	}
}
