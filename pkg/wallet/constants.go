package wallet

const (
	operationEnsureWallet = "ensure_wallet"
	operationCredit       = "credit"
	operationDebit        = "debit"
	operationReserve      = "reserve"
	operationComplete     = "complete"
	operationRefund       = "refund"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	idempotencyKeyDelimiter = ":"
	idempotencySuffixRefund = "refund"
)
