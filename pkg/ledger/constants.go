package ledger

const (
	operationWalletFund           = "wallet.fund"
	operationPaymentMethodAdd     = "payment_method.add"
	operationPaymentMethodUpdate  = "payment_method.update"
	operationPaymentMethodDelete  = "payment_method.delete"
	operationPayoutAccountAdd     = "payout_account.add"
	operationPayoutAccountUpdate  = "payout_account.update"
	operationPayoutAccountDelete  = "payout_account.delete"
	operationEscrowCreate         = "escrow.create"
	operationEscrowCapture        = "escrow.capture"
	operationEscrowCancel         = "escrow.cancel"
	operationEscrowHold           = "escrow.hold"
	operationEscrowRelease        = "escrow.release"
	operationPayoutCreate         = "payout.create"
	operationPayoutFinalize       = "payout.finalize"
	operationPayoutUpdate         = "payout.update"
	operationPayoutDelete         = "payout.delete"
	operationRefundCreate         = "refund.create"
	operationRefundUpdate         = "refund.update"
	operationRefundDelete         = "refund.delete"
	operationReconciliationHandle = "reconciliation.handle"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	idempotencyScopeDelimiter   = ":"
	idempotencyScopeEvents      = "reconciliation"
	idempotencyFingerprintDelim = "|"

	defaultListLimit = 50
	maxListLimit     = 200

	defaultFeeRate = "0.05"

	invoiceStatusPaid = "paid"
)
