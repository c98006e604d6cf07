package domain

import "time"

// ChannelEmail is the only reset-code delivery channel.
const ChannelEmail = "email"

// ResetDelivery is the obligation produced by a successful forgot-password
// request: Code must reach the owner of Email out of band and must never be
// echoed back to the requester.
type ResetDelivery struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	Channel   string    `json:"channel"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
}
