package models

import (
	"github.com/mmdatafocus/contracts_backend/config"
)

// MigrateTable creates or alters every table the contract service owns.
func MigrateTable() error {
	db := config.GetDB()

	return db.AutoMigrate(
		&User{}, &BalanceTransaction{}, &Referral{},
		&Job{}, &Proposal{},
		&Contract{}, &Payment{}, &Dispute{},
		&OutboxMessage{},
		&IdempotencyKey{},
	)
}
