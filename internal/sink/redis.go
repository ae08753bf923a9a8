package sink

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/gridscout/platform/internal/errors"
	"github.com/gridscout/platform/internal/orchestrator/report"
)

// publisher is the subset of *redis.Client the sink needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes payloads as JSON on a channel.
type Redis struct {
	pub     publisher
	client  *redis.Client
	channel string
}

// NewRedis connects to url and verifies the connection.
func NewRedis(ctx context.Context, url, channel string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ConfigInvalid, "parse redis url")
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, apperrors.Wrap(err, apperrors.Unavailable, "connect to redis")
	}
	return &Redis{pub: client, client: client, channel: channel}, nil
}

// Send implements report.Sender.
func (r *Redis) Send(ctx context.Context, p report.Payload) error {
	msg, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(err, apperrors.Internal, "encode report")
	}
	if err := r.pub.Publish(ctx, r.channel, msg).Err(); err != nil {
		return apperrors.Wrapf(err, apperrors.ReportSend, "publish to %s", r.channel)
	}
	return nil
}

// Close closes the connection.
func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
