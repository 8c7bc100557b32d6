package entitlement

import (
	"strings"

	"github.com/alem-hub/edu-progress/internal/domain/shared"
)

// ChargeKind - тип действия, за которое списываются токены.
type ChargeKind string

const (
	// ChargeChatMessage - сообщение в чате; учитывается в пожизненном лимите гостя.
	ChargeChatMessage ChargeKind = "chat_message"
	// ChargeVoiceSynthesis - озвучивание ответа.
	ChargeVoiceSynthesis ChargeKind = "voice_synthesis"
	// ChargeActivity - завершённая мини-игра.
	ChargeActivity ChargeKind = "activity"
)

var costs = map[ChargeKind]int{
	ChargeChatMessage:    1,
	ChargeVoiceSynthesis: 2,
	ChargeActivity:       1,
}

// ParseChargeKind разбирает строку в ChargeKind.
func ParseChargeKind(s string) (ChargeKind, error) {
	k := ChargeKind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := costs[k]; !ok {
		return "", shared.ErrUnknownChargeKind
	}
	return k, nil
}

// CostOf возвращает стоимость действия в токенах.
func CostOf(k ChargeKind) (int, error) {
	c, ok := costs[k]
	if !ok {
		return 0, shared.ErrUnknownChargeKind
	}
	return c, nil
}

// IsChargeableMessage - увеличивает ли действие счётчик сообщений.
func (k ChargeKind) IsChargeableMessage() bool {
	return k == ChargeChatMessage
}

// RequiresVoice - требует ли действие голосового синтеза.
func (k ChargeKind) RequiresVoice() bool {
	return k == ChargeVoiceSynthesis
}
