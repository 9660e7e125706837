//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/couchcryptid/intelmap-ingest/internal/adapter/kafka"
	"github.com/couchcryptid/intelmap-ingest/internal/adapter/sqlite"
	"github.com/couchcryptid/intelmap-ingest/internal/config"
	"github.com/couchcryptid/intelmap-ingest/internal/domain"
	"github.com/couchcryptid/intelmap-ingest/internal/observability"
	"github.com/couchcryptid/intelmap-ingest/internal/pipeline"
)

const testSinkTopic = "test-intel-messages"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("intelmap-test"))
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

type oneEventSource struct {
	ch chan domain.Event
}

func (s oneEventSource) Events() <-chan domain.Event { return s.ch }

type noopChat struct{}

func (noopChat) DownloadMedia(context.Context, domain.MediaRef, string) (string, error) {
	return "", nil
}

func (noopChat) Forward(context.Context, domain.Event) error { return nil }

type fixedResolver []domain.ResolvedLocation

func (r fixedResolver) ResolveAll(context.Context, string) []domain.ResolvedLocation {
	return append([]domain.ResolvedLocation(nil), r...)
}

// TestPipelineCommitPublishes runs one event through the pipeline with a real
// SQLite store and verifies the committed record reaches Kafka.
func TestPipelineCommitPublishes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSinkTopic)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "intel.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	store := sqlite.NewStore(db, nil, discardLogger())

	cfg := &config.Config{KafkaBrokers: []string{broker}, KafkaSinkTopic: testSinkTopic}
	publisher := kafka.NewPublisher(cfg, discardLogger())
	t.Cleanup(func() { _ = publisher.Close() })

	kharkiv := domain.ResolvedLocation{Name: "Kharkiv", Point: orb.Point{36.2304, 49.9935}, Confidence: 0.9}

	source := oneEventSource{ch: make(chan domain.Event, 1)}
	p := pipeline.New(source, noopChat{}, store, fixedResolver{kharkiv}, discardLogger(),
		observability.NewMetricsForTesting(), pipeline.Config{MediaDir: t.TempDir(), MaxConcurrentEvents: 1})
	p.SetNotifier(publisher)

	source.ch <- domain.Event{TraceID: "it-1", ChannelID: -1001, MessageID: 55, Text: "Explosions in Kharkiv"}
	close(source.ch)
	require.NoError(t, p.Run(ctx))

	consumer := kafkago.NewReader(kafkago.ReaderConfig{Brokers: []string{broker}, Topic: testSinkTopic, MinBytes: 1, MaxBytes: 1 << 20})
	defer consumer.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 30*time.Second)
	defer readCancel()
	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sink topic")

	var record domain.MessageRecord
	require.NoError(t, json.Unmarshal(msg.Value, &record))
	assert.Equal(t, int64(55), record.Message.ExternalMessageID)
	assert.Equal(t, "-1001", record.Message.SourceChannel)
	assert.Equal(t, []byte("1"), msg.Key)
	require.Len(t, record.Locations, 1)
	assert.Equal(t, "Kharkiv", record.Locations[0].Name)
	assert.InDelta(t, 0.9, record.Locations[0].Confidence, 1e-9)

	n, err := store.CountLocations(ctx, record.Message.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
