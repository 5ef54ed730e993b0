package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultMembershipPrefix namespaces the membership sets in redis.
const DefaultMembershipPrefix = "boardstream"

// RedisAuthorizer answers membership checks from redis sets maintained
// by the system of record:
//
//	<prefix>:project:<id>:members  — user ids with project access
//	<prefix>:task:<id>:members     — user ids with task access
//
// Every subscribe hits redis; revoked access takes effect on the next
// subscribe attempt without any cache invalidation protocol.
type RedisAuthorizer struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisAuthorizer creates a RedisAuthorizer. An empty prefix uses
// DefaultMembershipPrefix.
func NewRedisAuthorizer(client *redis.Client, prefix string, logger *slog.Logger) *RedisAuthorizer {
	if prefix == "" {
		prefix = DefaultMembershipPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisAuthorizer{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_authorizer"),
	}
}

// IsProjectMember implements Authorizer.
func (a *RedisAuthorizer) IsProjectMember(ctx context.Context, userID, projectID string) (bool, error) {
	return a.isMember(ctx, fmt.Sprintf("%s:project:%s:members", a.prefix, projectID), userID)
}

// IsTaskMember implements Authorizer.
func (a *RedisAuthorizer) IsTaskMember(ctx context.Context, userID, taskID string) (bool, error) {
	return a.isMember(ctx, fmt.Sprintf("%s:task:%s:members", a.prefix, taskID), userID)
}

func (a *RedisAuthorizer) isMember(ctx context.Context, key, userID string) (bool, error) {
	ok, err := a.client.SIsMember(ctx, key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("realtime: membership lookup %s: %w", key, err)
	}
	return ok, nil
}
