package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/narrativescanner/scanner/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *RedisStore {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, fmt.Sprintf("redis://%s:%s/0", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, 3, time.Hour)
}

func TestRedisStore_Integration(t *testing.T) {
	store := startRedis(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		source := models.SourceReddit
		if i == 4 {
			source = models.SourceHackerNews
		}
		require.NoError(t, store.Create(ctx, newJob(fmt.Sprintf("job-%d", i), source)))
	}

	job, err := store.Get(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// the global index is capped at three, newest kept, listed oldest first
	all, err := store.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "job-3", all[0].ID)
	assert.Equal(t, "job-5", all[2].ID)

	none, err := store.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	reddit, err := store.List(ctx, models.SourceReddit, 2)
	require.NoError(t, err)
	require.Len(t, reddit, 2)
	assert.Equal(t, "job-3", reddit[0].ID)
	assert.Equal(t, "job-5", reddit[1].ID)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, "job-5", func(job *models.IngestionJob) error {
				job.MentionsCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	updated, err := store.Get(ctx, "job-5")
	require.NoError(t, err)
	assert.Equal(t, 10, updated.MentionsCount)

	_, err = store.Update(ctx, "missing", func(*models.IngestionJob) error { return nil })
	assert.ErrorIs(t, err, ErrJobNotFound)
}
