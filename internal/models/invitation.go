package models

import "time"

type InviteStatus string // Статус доставки приглашения

const (
	PendingInvite InviteStatus = "pending" // Приглашение еще не доставлено
	SentInvite    InviteStatus = "sent"    // Приглашение доставлено
	FailedInvite  InviteStatus = "failed"  // Попытки доставки исчерпаны
)

// InvitationMapping связывает запрос и поставщика и хранит токен корреляции ответов.
type InvitationMapping struct {
	ID            string       `json:"id" db:"id"`
	RequestID     string       `json:"requestId" db:"request_id"`
	ParticipantID string       `json:"participantId" db:"participant_id"`
	InviteStatus  InviteStatus `json:"inviteStatus" db:"invite_status"`
	ReplyToken    *string      `json:"-" db:"reply_token"`
	LastMessageID *string      `json:"lastMessageId,omitempty" db:"last_message_id"`
	SentAt        *time.Time   `json:"sentAt,omitempty" db:"sent_at"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}

// Token возвращает токен корреляции или пустую строку, если он еще не создан.
func (m InvitationMapping) Token() string {
	if m.ReplyToken == nil {
		return ""
	}
	return *m.ReplyToken
}
