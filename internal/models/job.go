package models

// Job asks the dispatcher to run Amount fetch rounds for a user
type Job struct {
	UserID string `json:"userId"`
	Amount int    `json:"amount"`

	// ReceiptHandle is set by the queue on delivery and is never serialized
	ReceiptHandle string `json:"-"`
}
