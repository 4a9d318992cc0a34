//go:build integration

package phoneindex_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/suite"

	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/phone"
	"rolodex/internal/contacts/store/phoneindex"
	"rolodex/pkg/testutil/containers"
)

type RedisIndexIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	index *phoneindex.Redis
}

func TestRedisIndexIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisIndexIntegrationSuite))
}

func (s *RedisIndexIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.index = phoneindex.NewRedis(s.redis.Client)
}

func (s *RedisIndexIntegrationSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// Many instances reserving the same key through one Redis: exactly one owner.
func (s *RedisIndexIntegrationSuite) TestConcurrentReserveSingleWinner() {
	ctx := context.Background()
	const writers = 20

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.index.Reserve(ctx, models.NewContactID(), []phone.Key{"5551234567"})
			if err == nil {
				wins.Add(1)
				return
			}
			var conflict *models.ConflictError
			if s.ErrorAs(err, &conflict) {
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}
