package domain

import "time"

// CardToken — данные карты, сохранённые в vault под токеном. Полный номер не хранится.
type CardToken struct {
	Token       string    `json:"token"`
	Last4       string    `json:"last4"`
	Masked      string    `json:"masked"`
	Brand       string    `json:"brand"`
	HolderName  string    `json:"holder_name"`
	ExpiryMonth int       `json:"expiry_month"`
	ExpiryYear  int       `json:"expiry_year"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired сообщает, что срок жизни токена истёк к моменту now.
func (c CardToken) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}
