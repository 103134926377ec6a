/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/communitytrust/verification/internal/errors"
)

// redisKeyPrefix namespaces recheck-gate keys within the shared redis
// instance.
const redisKeyPrefix = "verification:authz:recheck:"

// RedisRecheckGate is a RecheckGate backed by a redis SET NX lock: the
// first caller across all orchestrator instances to request a recheck
// within ttl wins, matching the cache-stampede-prevention shape the
// context service uses for its own redis-backed query cache.
type RedisRecheckGate struct {
	client *redis.Client
}

// NewRedisRecheckGate wraps an already-connected redis client.
func NewRedisRecheckGate(client *redis.Client) *RedisRecheckGate {
	return &RedisRecheckGate{client: client}
}

// Acquire returns true if the caller should perform the recheck now.
func (g *RedisRecheckGate) Acquire(ctx context.Context, principalID string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, key(principalID), "1", ttl).Result()
	if err != nil {
		return false, apperrors.Wrapf(err, apperrors.ErrorTypeTransientStorage, "credential recheck gate for %s", principalID)
	}
	return ok, nil
}

var _ RecheckGate = (*RedisRecheckGate)(nil)

// alwaysAcquireGate is a RecheckGate that never deduplicates, useful for
// single-instance deployments or tests where a redis dependency is
// undesirable.
type alwaysAcquireGate struct{}

// NewAlwaysAcquireGate returns a RecheckGate that always grants the
// recheck to the caller.
func NewAlwaysAcquireGate() RecheckGate { return alwaysAcquireGate{} }

func (alwaysAcquireGate) Acquire(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

// key renders the redis key for a principal under redisKeyPrefix.
func key(principalID string) string {
	return fmt.Sprintf("%s%s", redisKeyPrefix, principalID)
}
