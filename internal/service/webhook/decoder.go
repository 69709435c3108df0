package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Decoder превращает тело вебхука в событие шлюза.
type Decoder interface {
	DecodeEvent(payload []byte) (domain.GatewayEvent, error)
}

// DecoderFunc позволяет использовать функцию как Decoder.
type DecoderFunc func(payload []byte) (domain.GatewayEvent, error)

// DecodeEvent вызывает f.
func (f DecoderFunc) DecodeEvent(payload []byte) (domain.GatewayEvent, error) {
	return f(payload)
}

type wireEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Handle  string `json:"handle"`
}

// JSONDecoder разбирает нейтральный формат {event_id, type, handle}.
// Лишние поля игнорируются.
type JSONDecoder struct{}

// DecodeEvent реализует Decoder.
func (JSONDecoder) DecodeEvent(payload []byte) (domain.GatewayEvent, error) {
	var wire wireEvent
	if err := json.Unmarshal(payload, &wire); err != nil {
		return domain.GatewayEvent{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}

	event := domain.GatewayEvent{
		EventID: strings.TrimSpace(wire.EventID),
		Type:    domain.GatewayEventType(strings.TrimSpace(wire.Type)),
		Handle:  strings.TrimSpace(wire.Handle),
		Raw:     payload,
	}
	if event.EventID == "" {
		return domain.GatewayEvent{}, domain.ErrEventIDRequired
	}
	if _, known := event.Type.Outcome(); known && event.Handle == "" {
		return domain.GatewayEvent{}, fmt.Errorf("%w: event %s has no handle", domain.ErrMalformedEvent, event.EventID)
	}
	return event, nil
}
