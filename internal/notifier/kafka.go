package notifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"

	"github.com/baebong3/fruitbasket-legal/internal/model"
)

// Event types published to Kafka.
const (
	EventRunFinished = "run_finished"
	EventAnomaly     = "anomaly"
)

// Event is the JSON value of every published message.
type Event struct {
	Type      string             `json:"type"`
	RunID     string             `json:"run_id"`
	Interval  string             `json:"interval"`
	Outcome   string             `json:"outcome,omitempty"`
	Report    *model.RunReport   `json:"report,omitempty"`
	Trend     *model.TrendResult `json:"trend,omitempty"`
	Published time.Time          `json:"published_at"`
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher emits run and anomaly events. Run events are keyed by
// interval, anomaly events by item and market so a partition sees one series.
type KafkaPublisher struct {
	writer kafkaMessageWriter
	now    func() time.Time
}

// NewKafkaPublisher creates a publisher. brokers may be comma-separated.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	var addrs []string
	for _, a := range strings.Split(brokers, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return newKafkaPublisherWith(&kafka.Writer{
		Addr:         kafka.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	})
}

func newKafkaPublisherWith(w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w, now: time.Now}
}

func (k *KafkaPublisher) RunFinished(ctx context.Context, rep *model.RunReport, _ []model.Aggregate) error {
	if !Announce(rep) {
		return nil
	}
	now := k.now().UTC()
	msgs := make([]kafka.Message, 0, 1+len(rep.Anomalies))

	val, err := json.Marshal(Event{
		Type: EventRunFinished, RunID: rep.RunID, Interval: rep.Interval,
		Outcome: rep.Outcome(), Report: rep, Published: now,
	})
	if err != nil {
		return eris.Wrap(err, "kafka: marshal run event")
	}
	msgs = append(msgs, kafka.Message{Key: []byte(rep.Interval), Value: val})

	for i := range rep.Anomalies {
		t := rep.Anomalies[i]
		val, err := json.Marshal(Event{
			Type: EventAnomaly, RunID: rep.RunID, Interval: rep.Interval, Trend: &t, Published: now,
		})
		if err != nil {
			return eris.Wrap(err, "kafka: marshal anomaly event")
		}
		msgs = append(msgs, kafka.Message{Key: []byte(t.ItemCode + "/" + t.MarketCode), Value: val})
	}

	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return eris.Wrapf(err, "kafka: publish %d events", len(msgs))
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return eris.Wrap(k.writer.Close(), "kafka: close writer")
}
