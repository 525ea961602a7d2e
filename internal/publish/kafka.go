// Package publish forwards stored news articles to a Kafka topic.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"marketrefresh/internal/clock"
	"marketrefresh/internal/models"
)

// DefaultNewsTopic is the topic articles are published to
const DefaultNewsTopic = "marketrefresh.news"

// Config configures the Kafka writer
type Config struct {
	Brokers   []string `mapstructure:"brokers"`
	NewsTopic string   `mapstructure:"news_topic"`
}

// MessageWriter is the part of kafka.Writer the publisher uses
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka implements refresh.NewsPublisher.
// Messages are keyed by the article's natural key so a compacted topic
// keeps the latest version of each article.
type Kafka struct {
	writer MessageWriter
	topic  string
	clock  clock.Clock
	log    zerolog.Logger
}

// Option customizes a Kafka publisher
type Option func(*Kafka)

// WithWriter replaces the Kafka writer
func WithWriter(w MessageWriter) Option {
	return func(k *Kafka) { k.writer = w }
}

// WithClock sets the message timestamp source
func WithClock(c clock.Clock) Option {
	return func(k *Kafka) { k.clock = c }
}

// WithLogger sets the publisher's logger
func WithLogger(l zerolog.Logger) Option {
	return func(k *Kafka) { k.log = l }
}

// NewKafka creates a publisher writing to cfg.NewsTopic
func NewKafka(cfg Config, opts ...Option) (*Kafka, error) {
	topic := cfg.NewsTopic
	if topic == "" {
		topic = DefaultNewsTopic
	}

	k := &Kafka{topic: topic, clock: clock.System{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(k)
	}

	if k.writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		k.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Gzip,
			MaxAttempts:  3,
			BatchTimeout: 100 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
		}
	}
	k.log = k.log.With().Str("component", "publish").Str("topic", topic).Logger()
	return k, nil
}

// PublishNews writes one message per article
func (k *Kafka) PublishNews(ctx context.Context, articles []models.NewsArticle) error {
	if len(articles) == 0 {
		return nil
	}

	now := k.clock.Now()
	msgs := make([]kafka.Message, 0, len(articles))
	for _, a := range articles {
		value, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal article %s: %w", a.URL, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strings.Join(a.NaturalKey(), "|")),
			Value: value,
			Time:  now,
			Headers: []kafka.Header{
				{Key: "symbol", Value: []byte(a.Symbol)},
			},
		})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d articles: %w", len(msgs), err)
	}
	k.log.Debug().Int("articles", len(msgs)).Msg("published news")
	return nil
}

// Close flushes and closes the writer
func (k *Kafka) Close() error {
	return k.writer.Close()
}
