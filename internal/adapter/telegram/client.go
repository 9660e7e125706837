// Package telegram connects the pipeline to Telegram channels through the
// Bot API: updates become domain events, and media download and forwarding
// are exposed to the pipeline.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

const (
	defaultServerURL = "https://api.telegram.org"
	maxMediaBytes    = 50 << 20
	eventBuffer      = 64
)

// ErrMediaTooLarge is returned when an attachment exceeds the download limit.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// Config selects which chats are ingested and where they are forwarded.
type Config struct {
	Token string
	// Channels limits intake to these chat ids. Empty accepts every chat.
	Channels []int64
	// MonitorChatID receives forwarded copies. Zero disables forwarding.
	MonitorChatID int64
	// ServerURL overrides the Bot API endpoint.
	ServerURL string
}

// Client is both the pipeline's event source and its chat platform.
type Client struct {
	bot        *bot.Bot
	token      string
	serverURL  string
	httpClient *http.Client
	maxMedia   int64
	channels   map[int64]struct{}
	monitor    int64
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	events chan domain.Event
}

// NewClient creates a Bot API client. It verifies the token with getMe.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram bot token cannot be empty")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = defaultServerURL
	}

	c := &Client{
		token:      cfg.Token,
		serverURL:  cfg.ServerURL,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		maxMedia:   maxMediaBytes,
		channels:   make(map[int64]struct{}, len(cfg.Channels)),
		monitor:    cfg.MonitorChatID,
		logger:     logger.With("component", "telegram"),
		events:     make(chan domain.Event, eventBuffer),
	}
	for _, id := range cfg.Channels {
		c.channels[id] = struct{}{}
	}

	b, err := bot.New(cfg.Token,
		bot.WithServerURL(cfg.ServerURL),
		bot.WithDefaultHandler(c.handleUpdate),
	)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	c.bot = b

	c.logger.Info("telegram client created", "channels", len(cfg.Channels), "forwarding", cfg.MonitorChatID != 0)
	return c, nil
}

// Events implements pipeline.EventSource.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// Run polls for updates until ctx is cancelled, then closes the event channel.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("telegram polling started")
	c.bot.Start(ctx)

	c.mu.Lock()
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.logger.Info("telegram polling stopped")
	return nil
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	ev, ok := toEvent(update, c.channels)
	if !ok {
		return
	}
	ev.TraceID = uuid.NewString()
	ev.ReceivedAt = time.Now().UTC()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-ctx.Done():
		c.logger.Warn("update dropped during shutdown", "channel_id", ev.ChannelID, "message_id", ev.MessageID)
	}
}

// DownloadMedia implements pipeline.ChatPlatform. dest may lack an
// extension, in which case the platform file's extension is appended.
func (c *Client) DownloadMedia(ctx context.Context, ref domain.MediaRef, dest string) (string, error) {
	file, err := c.bot.GetFile(ctx, &bot.GetFileParams{FileID: ref.FileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", rateLimited(err))
	}
	if file.FilePath == "" {
		return "", errors.New("empty file path returned from Telegram")
	}
	if filepath.Ext(dest) == "" {
		dest += path.Ext(file.FilePath)
	}

	if err := c.fetch(ctx, c.fileURL(file.FilePath), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (c *Client) fileURL(filePath string) string {
	return fmt.Sprintf("%s/file/bot%s/%s", c.serverURL, c.token, filePath)
}

func (c *Client) fetch(ctx context.Context, url, dest string) (err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download file: unexpected status code %d", resp.StatusCode)
	}
	return writeFile(dest, resp.Body, c.maxMedia)
}

// Forward implements pipeline.ChatPlatform.
func (c *Client) Forward(ctx context.Context, ev domain.Event) error {
	if c.monitor == 0 {
		return nil
	}
	_, err := c.bot.ForwardMessage(ctx, &bot.ForwardMessageParams{
		ChatID:     c.monitor,
		FromChatID: ev.ChannelID,
		MessageID:  int(ev.MessageID),
	})
	if err != nil {
		return fmt.Errorf("forward message: %w", rateLimited(err))
	}
	return nil
}

// rateLimited converts the Bot API's flood-wait error into the domain's
// RateLimitError and leaves other errors untouched.
func rateLimited(err error) error {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return &domain.RateLimitError{RetryAfter: time.Duration(tooMany.RetryAfter) * time.Second}
	}
	return err
}

// writeFile streams at most limit bytes of r into dest through a temporary
// file so a failed or oversized download never leaves a partial file under
// the final name.
func writeFile(dest string, r io.Reader, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after rename

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if err != nil {
		tmp.Close()
		return fmt.Errorf("write media: %w", err)
	}
	if n > limit {
		tmp.Close()
		return fmt.Errorf("write media: %w (limit %d bytes)", ErrMediaTooLarge, limit)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close media: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("rename media: %w", err)
	}
	return nil
}
