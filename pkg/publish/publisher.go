// Package publish notifies downstream consumers about newly stored articles.
package publish

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"site-ingest/pkg/config"
)

// EventArticleStored is emitted once per article whose content record was created
const EventArticleStored = "article.stored"

// Event describes one stored article
type Event struct {
	Type  string
	Site  string
	URL   string
	Title string
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// RedisStreamPublisher appends events to the Redis stream <prefix>:articles
type RedisStreamPublisher struct {
	client *redis.Client
	stream string
	log    *logrus.Entry
}

// NewRedisStreamPublisher wraps an existing client
func NewRedisStreamPublisher(client *redis.Client, prefix string, log *logrus.Entry) *RedisStreamPublisher {
	return &RedisStreamPublisher{client: client, stream: prefix + ":articles", log: log}
}

// Stream returns the stream key events are added to
func (p *RedisStreamPublisher) Stream() string { return p.stream }

// Publish XADDs ev with fields site, url, title and type
func (p *RedisStreamPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		ev.Type = EventArticleStored
	}
	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"site":  ev.Site,
			"url":   ev.URL,
			"title": ev.Title,
			"type":  ev.Type,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to stream %s: %w", p.stream, err)
	}
	p.log.WithFields(logrus.Fields{"stream_id": id, "url": ev.URL}).Debug("Published article event")
	return nil
}

// Close closes the underlying client
func (p *RedisStreamPublisher) Close() error { return p.client.Close() }

// New returns a Redis publisher when cfg.Addr is set, otherwise a NopPublisher.
// The connection is checked with PING.
func New(ctx context.Context, cfg config.RedisConfig, log *logrus.Entry) (Publisher, error) {
	if cfg.Addr == "" {
		return NopPublisher{}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Addr, err)
	}
	log.WithField("addr", cfg.Addr).Info("Publishing article events to Redis")
	return NewRedisStreamPublisher(client, cfg.StreamPrefix, log), nil
}
