package kafka

import (
	"context"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	MessageWriter interface {
		WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
		Close() error
	}
	Metrics interface {
		Observe(eventType string, err error, started time.Time)
	}
)
