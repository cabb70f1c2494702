package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// redisClient запускает Redis в контейнере. Тест пропускается без TEST_INTEGRATION.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "Не удалось запустить Redis контейнер")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewRedisClient(endpoint, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewRedisClient_EmptyAddr(t *testing.T) {
	_, err := NewRedisClient("", "", 0)
	assert.Error(t, err)
}

func TestRedisReadiness_Unavailable(t *testing.T) {
	client, err := NewRedisClient("127.0.0.1:1", "", 0)
	require.NoError(t, err)
	defer client.Close()

	status, msg := NewRedisReadiness(client).CheckReady()
	assert.Equal(t, "degraded", status)
	assert.Contains(t, msg, "Redis недоступен")
}

func TestRedisPollLock_Integration(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	first := NewRedisPollLock(client, PollLockKey, 5*time.Second, testLogger())
	second := NewRedisPollLock(client, PollLockKey, 5*time.Second, testLogger())

	release, ok, err := first.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "блокировку держит первый экземпляр")

	release()

	release2, ok, err := second.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// Чужой release не снимает блокировку
	release()
	exists, err := client.Exists(ctx, PollLockKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)

	release2()
	exists, err = client.Exists(ctx, PollLockKey).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 0, exists)

	status, _ := NewRedisReadiness(client).CheckReady()
	assert.Equal(t, "ok", status)
}

func TestRedisPollLock_Expires(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()

	lock := NewRedisPollLock(client, "pharmatrace:test:expire", 200*time.Millisecond, testLogger())
	_, ok, err := lock.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := lock.TryAcquire(ctx)
		return err == nil && ok
	}, 3*time.Second, 50*time.Millisecond)
}
