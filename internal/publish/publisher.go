// Package publish streams attributed hours to Kafka, one JSON message per
// farm-hour keyed by farm ID.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"windperf/internal/attribution"
)

const (
	DefaultTopic = "wind.attributed_hours"
	batchSize    = 500
)

// ErrNoBrokers means publishing is not configured.
var ErrNoBrokers = errors.New("no kafka brokers configured")

type Config struct {
	Brokers []string
	Topic   string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	topic  string
	writer messageWriter
}

// New returns ErrNoBrokers when cfg has no brokers; callers treat that as
// publishing disabled.
func New(cfg Config) (*Publisher, error) {
	var brokers []string
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newWithWriter(topic, w), nil
}

func newWithWriter(topic string, w messageWriter) *Publisher {
	return &Publisher{topic: topic, writer: w}
}

func (p *Publisher) Topic() string {
	return p.topic
}

// Message is the wire form of an attributed hour.
type Message struct {
	RunID              string    `json:"run_id"`
	FarmID             string    `json:"farm_id"`
	Hour               time.Time `json:"hour"`
	ActualMW           float64   `json:"actual_mw"`
	ExpectedMW         float64   `json:"expected_mw"`
	CapacityMW         float64   `json:"capacity_mw"`
	CapacityFactorPct  float64   `json:"capacity_factor_pct"`
	ExpectedCFPct      float64   `json:"expected_cf_pct"`
	CFDeviationPct     float64   `json:"cf_deviation_pct"`
	LostGenerationMW   float64   `json:"lost_generation_mw"`
	RevenueLossGBP     float64   `json:"revenue_loss_gbp"`
	PriceGBPPerMWh     float64   `json:"price_gbp_per_mwh"`
	WindSpeed100m      float64   `json:"wind_speed_100m"`
	Temperature2m      float64   `json:"temperature_2m"`
	GustFactor         *float64  `json:"gust_factor"`
	IcingRiskLevel     string    `json:"icing_risk_level"`
	IsCurtailed        bool      `json:"is_curtailed"`
	CurtailmentPrice   *float64  `json:"curtailment_price"`
	CurtailmentVolume  *float64  `json:"curtailment_volume"`
	CurtailmentEvents  int       `json:"curtailment_events"`
	ConstraintSeverity string    `json:"constraint_severity,omitempty"`
	ImpactCategory     string    `json:"impact_category"`
}

func NewMessage(runID uuid.UUID, h attribution.AttributedHour) Message {
	return Message{
		RunID:              runID.String(),
		FarmID:             h.FarmID,
		Hour:               h.Hour.UTC(),
		ActualMW:           h.ActualMW,
		ExpectedMW:         h.ExpectedMW,
		CapacityMW:         h.CapacityMW,
		CapacityFactorPct:  h.CapacityFactorPct,
		ExpectedCFPct:      h.ExpectedCFPct,
		CFDeviationPct:     h.CFDeviationPct,
		LostGenerationMW:   h.LostGenerationMW,
		RevenueLossGBP:     h.RevenueLossGBP,
		PriceGBPPerMWh:     h.PriceGBPPerMWh,
		WindSpeed100m:      h.WindSpeed100m,
		Temperature2m:      h.Temperature2m,
		GustFactor:         h.GustFactor,
		IcingRiskLevel:     string(h.IcingRiskLevel),
		IsCurtailed:        h.IsCurtailed,
		CurtailmentPrice:   h.CurtailmentPrice,
		CurtailmentVolume:  h.CurtailmentVolume,
		CurtailmentEvents:  h.CurtailmentEvents,
		ConstraintSeverity: h.ConstraintSeverity,
		ImpactCategory:     string(h.ImpactCategory),
	}
}

// PublishHours writes hours in batches. Messages for one farm share a key
// and so land on one partition in hour order.
func (p *Publisher) PublishHours(ctx context.Context, runID uuid.UUID, hours []attribution.AttributedHour) error {
	msgs := make([]kafka.Message, 0, min(len(hours), batchSize))
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return fmt.Errorf("publish attributed hours: %w", err)
		}
		msgs = msgs[:0]
		return nil
	}

	for _, h := range hours {
		value, err := json.Marshal(NewMessage(runID, h))
		if err != nil {
			return fmt.Errorf("encode attributed hour: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(h.FarmID),
			Value: value,
			Time:  h.Hour,
			Headers: []kafka.Header{
				{Key: "run_id", Value: []byte(runID.String())},
			},
		})
		if len(msgs) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
