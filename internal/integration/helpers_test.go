//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/glenfinch/river-snap-service/internal/adapter/memgrid"
	"github.com/glenfinch/river-snap-service/internal/domain"
	"github.com/glenfinch/river-snap-service/internal/snap"
)

// startKafka launches a single-node Kafka container and returns its broker
// address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "start kafka container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic via the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	require.NoError(t, controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// startPostgres launches a PostgreSQL container and returns a connected
// pool.
func startPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("grid"),
		tcpostgres.WithUsername("grid"),
		tcpostgres.WithPassword("grid"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// The in-memory raster used by the pipeline tests holds one channel column
// with flow growing downstream, so every qualifying search has a single
// unambiguous winner.
const (
	channelEasting     = 400000.0
	channelMinNorthing = 199000.0
	channelMaxNorthing = 201000.0
)

func channelFlowAt(northing float64) float64 {
	return 250 + (northing-channelMinNorthing)/50
}

func channelGrid(t *testing.T) *snap.Grid {
	t.Helper()

	mem := memgrid.New(380000, 190000, 410000, 210000)
	for n := channelMinNorthing; n <= channelMaxNorthing; n += 50 {
		mem.Set(channelEasting, n, channelFlowAt(n))
	}

	grid, err := snap.New(mem.Source())
	require.NoError(t, err)
	return grid
}

func rawSitePayload(t *testing.T, id, name, network string, easting, northing float64) []byte {
	t.Helper()

	payload, err := json.Marshal(domain.RawSiteRecord{
		ID:       id,
		Name:     name,
		Network:  network,
		Easting:  &easting,
		Northing: &northing,
	})
	require.NoError(t, err)
	return payload
}
