package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/intelmap-ingest/internal/domain"
)

const (
	defaultRecentLimit = 500
	maxRecentLimit     = 5000
	mediaPathSeparator = ","
)

// Store implements message and location persistence on top of sqlx.
// Each write method runs in its own transaction.
type Store struct {
	db     *sqlx.DB
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewStore creates a Store over an open database. A nil clock uses real time.
func NewStore(db *sqlx.DB, clock clockwork.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		db:     db,
		clock:  clock,
		logger: logger.With("component", "store"),
	}
}

type messageRow struct {
	ID            int64     `db:"id"`
	Text          string    `db:"text"`
	MediaPaths    string    `db:"media_paths"`
	Timestamp     time.Time `db:"timestamp"`
	SourceChannel string    `db:"source_channel"`
	TelegramMsgID int64     `db:"telegram_msg_id"`
}

type locationRow struct {
	ID           int64   `db:"id"`
	MessageID    int64   `db:"message_id"`
	Lat          float64 `db:"lat"`
	Lon          float64 `db:"lon"`
	LocationName string  `db:"location_name"`
	Confidence   float64 `db:"confidence"`
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CheckReadiness reports whether the database is reachable.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// InsertMessage stores msg and returns its generated id. On success msg.ID and
// msg.Timestamp are set. Inserting the same content twice yields two rows.
func (s *Store) InsertMessage(ctx context.Context, msg *domain.Message) (int64, error) {
	if msg == nil {
		return 0, errors.New("cannot insert nil message")
	}

	row := messageRow{
		Text:          msg.Text,
		MediaPaths:    strings.Join(msg.MediaPaths, mediaPathSeparator),
		Timestamp:     s.clock.Now().UTC(),
		SourceChannel: msg.SourceChannel,
		TelegramMsgID: msg.ExternalMessageID,
	}

	var id int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, `
			INSERT INTO messages (text, media_paths, timestamp, source_channel, telegram_msg_id)
			VALUES (:text, :media_paths, :timestamp, :source_channel, :telegram_msg_id)`, row)
		if err != nil {
			return err
		}
		id, err = result.LastInsertId()
		return err
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "insert message failed",
			"source_channel", msg.SourceChannel, "telegram_msg_id", msg.ExternalMessageID, "error", err)
		return 0, fmt.Errorf("insert message (channel %s, msg %d): %w", msg.SourceChannel, msg.ExternalMessageID, err)
	}

	msg.ID = id
	msg.Timestamp = row.Timestamp
	s.logger.DebugContext(ctx, "message stored", "message_id", id)
	return id, nil
}

// InsertLocations stores all locations for messageID in one transaction.
// Every location is validated first; if any row is invalid or the insert
// fails, nothing is written. The message row is never modified.
func (s *Store) InsertLocations(ctx context.Context, messageID int64, locations []domain.ResolvedLocation) error {
	if len(locations) == 0 {
		return nil
	}
	if messageID <= 0 {
		return fmt.Errorf("invalid message id %d", messageID)
	}

	rows := make([]locationRow, len(locations))
	for i, l := range locations {
		if !l.Valid() {
			return fmt.Errorf("location %q has invalid coordinate (%f, %f) or confidence %f",
				l.Name, l.Lat(), l.Lon(), l.Confidence)
		}
		rows[i] = locationRow{
			MessageID:    messageID,
			Lat:          l.Lat(),
			Lon:          l.Lon(),
			LocationName: l.Name,
			Confidence:   l.Confidence,
		}
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.NamedExecContext(ctx, `
			INSERT INTO locations (message_id, lat, lon, location_name, confidence)
			VALUES (:message_id, :lat, :lon, :location_name, :confidence)`, rows)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected != int64(len(rows)) {
			return fmt.Errorf("inserted %d of %d locations", affected, len(rows))
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "insert locations failed",
			"message_id", messageID, "count", len(rows), "error", err)
		return fmt.Errorf("insert locations for message %d: %w", messageID, err)
	}

	s.logger.DebugContext(ctx, "locations stored", "message_id", messageID, "count", len(rows))
	return nil
}

// RecentMessages returns messages stored at or after since, newest first, each
// with its resolved locations. A non-positive limit uses the default.
func (s *Store) RecentMessages(ctx context.Context, since time.Time, limit int) ([]domain.MessageRecord, error) {
	switch {
	case limit <= 0:
		limit = defaultRecentLimit
	case limit > maxRecentLimit:
		limit = maxRecentLimit
	}

	var msgs []messageRow
	err := s.db.SelectContext(ctx, &msgs, `
		SELECT id, text, media_paths, timestamp, source_channel, telegram_msg_id
		FROM messages
		WHERE timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("select recent messages: %w", err)
	}
	if len(msgs) == 0 {
		return []domain.MessageRecord{}, nil
	}

	ids := make([]int64, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	query, args, err := sqlx.In(`
		SELECT id, message_id, lat, lon, location_name, confidence
		FROM locations
		WHERE message_id IN (?)
		ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build locations query: %w", err)
	}
	var locs []locationRow
	if err := s.db.SelectContext(ctx, &locs, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select locations: %w", err)
	}

	byMessage := make(map[int64][]domain.LocationRecord, len(msgs))
	for _, l := range locs {
		byMessage[l.MessageID] = append(byMessage[l.MessageID], domain.LocationRecord{
			Name:       l.LocationName,
			Lat:        l.Lat,
			Lon:        l.Lon,
			Confidence: l.Confidence,
		})
	}

	records := make([]domain.MessageRecord, len(msgs))
	for i, m := range msgs {
		locations := byMessage[m.ID]
		if locations == nil {
			locations = []domain.LocationRecord{}
		}
		records[i] = domain.MessageRecord{Message: m.toDomain(), Locations: locations}
	}
	return records, nil
}

// CountLocations returns the number of location rows stored for messageID.
func (s *Store) CountLocations(ctx context.Context, messageID int64) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM locations WHERE message_id = ?`, messageID); err != nil {
		return 0, fmt.Errorf("count locations: %w", err)
	}
	return n, nil
}

// Maintain refreshes query planner statistics and compacts the database file.
func (s *Store) Maintain(ctx context.Context) error {
	start := time.Now()
	if _, err := s.db.ExecContext(ctx, `PRAGMA optimize;`); err != nil {
		return fmt.Errorf("optimize: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `VACUUM;`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	s.logger.InfoContext(ctx, "database maintenance complete", "duration", time.Since(start))
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "rollback failed", "error", rbErr)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r messageRow) toDomain() domain.Message {
	var media []string
	if r.MediaPaths != "" {
		media = strings.Split(r.MediaPaths, mediaPathSeparator)
	}
	return domain.Message{
		ID:                r.ID,
		Text:              r.Text,
		MediaPaths:        media,
		SourceChannel:     r.SourceChannel,
		ExternalMessageID: r.TelegramMsgID,
		Timestamp:         r.Timestamp,
	}
}
