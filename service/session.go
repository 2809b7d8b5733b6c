package service

import (
	"time"

	"healthrecords/models"
)

// Session is the signed-in account of this agent. There is at most one, the
// way a browser tab holds at most one signed-in user.
type Session struct {
	Identity  *models.Identity
	Token     string
	ExpiresAt time.Time
}

func (s *Session) IsActive(now time.Time) bool {
	return s != nil && s.Identity != nil && now.Before(s.ExpiresAt)
}

// RegistrationFault records a registration whose identity was created but
// whose ledger registration failed. It is cleared by a successful retry.
type RegistrationFault struct {
	AccountID string      `json:"account_id"`
	Role      models.Role `json:"role"`
	Wallet    string      `json:"wallet"`
	Reason    string      `json:"reason"`
	At        time.Time   `json:"at"`
}
