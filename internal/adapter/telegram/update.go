package telegram

import (
	"github.com/go-telegram/bot/models"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

// toEvent maps a channel post or chat message to a domain event. Updates
// from chats outside allowed are rejected unless allowed is empty.
func toEvent(update *models.Update, allowed map[int64]struct{}) (domain.Event, bool) {
	if update == nil {
		return domain.Event{}, false
	}
	msg := update.ChannelPost
	if msg == nil {
		msg = update.Message
	}
	if msg == nil {
		return domain.Event{}, false
	}
	if len(allowed) > 0 {
		if _, ok := allowed[msg.Chat.ID]; !ok {
			return domain.Event{}, false
		}
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	media := mediaRef(msg)
	if text == "" && media == nil {
		return domain.Event{}, false
	}

	return domain.Event{
		ChannelID: msg.Chat.ID,
		MessageID: int64(msg.ID),
		Text:      text,
		Media:     media,
	}, true
}

// mediaRef picks the single attachment to store. FilePath is only a name
// hint used for the extension; the real path comes from getFile.
func mediaRef(msg *models.Message) *domain.MediaRef {
	switch {
	case len(msg.Photo) > 0:
		best := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		return &domain.MediaRef{FileID: best.FileID, FilePath: "photo.jpg"}
	case msg.Video != nil:
		name := msg.Video.FileName
		if name == "" {
			name = "video.mp4"
		}
		return &domain.MediaRef{FileID: msg.Video.FileID, FilePath: name}
	case msg.Document != nil:
		return &domain.MediaRef{FileID: msg.Document.FileID, FilePath: msg.Document.FileName}
	}
	return nil
}
