package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"bdpower/internal/dataset"
)

const kafkaBatchSize = 500

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Kafka publishes one JSON message per observation row.
type Kafka struct {
	writer messageWriter
}

// NewKafka creates a producer for topic on brokers.
func NewKafka(brokers []string, topic string, timeout time.Duration) *Kafka {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: timeout,
	}
	return &Kafka{writer: w}
}

func (k *Kafka) Name() string { return "kafka" }

// observationMessage is the JSON value of a published row.
type observationMessage struct {
	RunID     string             `json:"run_id"`
	Date      string             `json:"date"`
	District  string             `json:"district"`
	Division  string             `json:"division"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Values    map[string]float64 `json:"values"`
}

// Write publishes t in batches.
func (k *Kafka) Write(ctx context.Context, runID string, t *dataset.Table) error {
	batch := make([]kafkago.Message, 0, kafkaBatchSize)
	for _, r := range t.Rows {
		msg, err := serializeRow(runID, t, r)
		if err != nil {
			return err
		}
		batch = append(batch, msg)
		if len(batch) == kafkaBatchSize {
			if err := k.writer.WriteMessages(ctx, batch...); err != nil {
				return fmt.Errorf("publish observations: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := k.writer.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("publish observations: %w", err)
		}
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// serializeRow marshals a row into a message keyed by district and date.
// Missing values are left out of the payload.
func serializeRow(runID string, t *dataset.Table, r dataset.Row) (kafkago.Message, error) {
	date := formatDate(t, r)
	values := make(map[string]float64, len(r.Values))
	for k, v := range r.Values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			values[k] = v
		}
	}

	data, err := json.Marshal(observationMessage{
		RunID:     runID,
		Date:      date,
		District:  r.Location,
		Division:  r.Division,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Values:    values,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize observation: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(r.Location + "|" + date),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "run_id", Value: []byte(runID)},
			{Key: "division", Value: []byte(r.Division)},
		},
	}, nil
}
