package telegram

import (
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

func TestToEvent(t *testing.T) {
	allowed := map[int64]struct{}{-100123: {}}

	tests := []struct {
		name    string
		update  *models.Update
		allowed map[int64]struct{}
		want    domain.Event
		ok      bool
	}{
		{
			name:   "channel post text",
			update: &models.Update{ChannelPost: &models.Message{ID: 5, Chat: models.Chat{ID: -100123}, Text: "Flood in 🇫🇷 Paris"}},
			want:   domain.Event{ChannelID: -100123, MessageID: 5, Text: "Flood in 🇫🇷 Paris"},
			ok:     true,
		},
		{
			name:   "group message caption",
			update: &models.Update{Message: &models.Message{ID: 6, Chat: models.Chat{ID: -100123}, Caption: "caption"}},
			want:   domain.Event{ChannelID: -100123, MessageID: 6, Text: "caption"},
			ok:     true,
		},
		{
			name:    "allowed channel",
			update:  &models.Update{ChannelPost: &models.Message{ID: 7, Chat: models.Chat{ID: -100123}, Text: "x"}},
			allowed: allowed,
			want:    domain.Event{ChannelID: -100123, MessageID: 7, Text: "x"},
			ok:      true,
		},
		{
			name:    "foreign channel",
			update:  &models.Update{ChannelPost: &models.Message{ID: 8, Chat: models.Chat{ID: -100999}, Text: "x"}},
			allowed: allowed,
		},
		{
			name:   "no content",
			update: &models.Update{ChannelPost: &models.Message{ID: 9, Chat: models.Chat{ID: -100123}}},
		},
		{
			name:   "non-message update",
			update: &models.Update{},
		},
		{
			name: "nil update",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toEvent(tt.update, tt.allowed)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMediaRef(t *testing.T) {
	photo := &models.Message{Photo: []models.PhotoSize{
		{FileID: "small", Width: 90, Height: 90},
		{FileID: "large", Width: 1280, Height: 960},
		{FileID: "medium", Width: 320, Height: 240},
	}}
	assert.Equal(t, &domain.MediaRef{FileID: "large", FilePath: "photo.jpg"}, mediaRef(photo))

	video := &models.Message{Video: &models.Video{FileID: "v"}}
	assert.Equal(t, &domain.MediaRef{FileID: "v", FilePath: "video.mp4"}, mediaRef(video))

	doc := &models.Message{Document: &models.Document{FileID: "d", FileName: "report.pdf"}}
	assert.Equal(t, &domain.MediaRef{FileID: "d", FilePath: "report.pdf"}, mediaRef(doc))

	assert.Nil(t, mediaRef(&models.Message{Text: "plain"}))
}

func TestToEvent_MediaOnly(t *testing.T) {
	ev, ok := toEvent(&models.Update{ChannelPost: &models.Message{
		ID: 10, Chat: models.Chat{ID: -1},
		Document: &models.Document{FileID: "d", FileName: "map.png"},
	}}, nil)

	assert.True(t, ok)
	assert.Empty(t, ev.Text)
	assert.Equal(t, "d", ev.Media.FileID)
}
