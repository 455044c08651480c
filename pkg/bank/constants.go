package bank

const (
	// EligibleDistanceMiles is the minimum ride distance that counts
	// toward the next mint. Compared with >=.
	EligibleDistanceMiles = 5.0

	// MintCadence mints a voucher on every Nth eligible ride.
	MintCadence = 10

	// VoucherMaxMiles is the fixed coverage of a minted voucher.
	VoucherMaxMiles = 15

	operationAccrual    = "accrual"
	operationMint       = "mint"
	operationReserve    = "reserve"
	operationRelease    = "release"
	operationConsume    = "consume"
	operationTransfer   = "transfer"
	operationPreview    = "preview_external"
	operationRedeem     = "consume_external"
	operationGetVoucher = "get_voucher"

	operationStatusOK      = "ok"
	operationStatusError   = "error"
	operationStatusSkipped = "skipped"

	subjectSummary = "summary"
	subjectVoucher = "voucher"
	subjectIndex   = "index"
	subjectConfig  = "config"

	codeNotFound        = "not_found"
	codeNotOwner        = "not_owner"
	codeNotActive       = "not_active"
	codeBadStatus       = "bad_status"
	codeNotTransferable = "not_transferable"
	codeInconsistent    = "inconsistent"
	codeProbeExhausted  = "probe_exhausted"

	externalOwnerPrefix          = "external:"
	reservationPlaceholderPrefix = "pending:"

	auditActionTransfer        = "transfer"
	auditActionConsumeExternal = "consume_external"

	valueProbeAttempts = 20
)
