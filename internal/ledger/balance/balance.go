// Package balance derives participant balances from ledger data.
package balance

import (
	"github.com/shopspring/decimal"

	"github.com/goodnatureofminers/powledger/internal/ledger/model"
)

// Of folds the confirmed chain and the outgoing pending transactions of
// participant. Unknown participants have a zero balance.
func Of(participant string, chain []model.Block, pending []model.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, block := range chain {
		for _, tx := range block.Transactions {
			total = apply(total, participant, tx)
		}
	}
	for _, tx := range pending {
		if !tx.IsReward() && tx.Sender == participant {
			total = total.Sub(tx.Amount)
		}
	}
	return total
}

func apply(total decimal.Decimal, participant string, tx model.Transaction) decimal.Decimal {
	if tx.Recipient == participant {
		total = total.Add(tx.Amount)
	}
	if !tx.IsReward() && tx.Sender == participant {
		total = total.Sub(tx.Amount)
	}
	return total
}
