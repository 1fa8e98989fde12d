package models

import "time"

type MessageDirection string // Направление письма

const (
	InboundMessage  MessageDirection = "inbound"  // Ответ поставщика
	OutboundMessage MessageDirection = "outbound" // Письмо, отправленное системой
)

// Message представляет сохраненное письмо. Входящие письма неизменяемы.
type Message struct {
	ID                string           `json:"id" db:"id"`
	RequestID         string           `json:"requestId" db:"request_id"`
	ParticipantID     string           `json:"participantId" db:"participant_id"`
	Direction         MessageDirection `json:"direction" db:"direction"`
	ProviderMessageID string           `json:"providerMessageId" db:"provider_message_id"`
	Subject           string           `json:"subject" db:"subject"`
	FromAddress       string           `json:"fromAddress" db:"from_address"`
	ToAddresses       []string         `json:"toAddresses" db:"to_addresses"`
	Body              string           `json:"body" db:"body"`
	OccurredAt        time.Time        `json:"occurredAt" db:"occurred_at"`
	CreatedAt         time.Time        `json:"createdAt" db:"created_at"`
}
