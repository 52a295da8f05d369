package models

// Bazon sale document statuses as exposed by the external API.
const (
	BazonStatusNew            = "NEW"
	BazonStatusWork           = "WORK"
	BazonStatusIssued         = "ISSUED"
	BazonStatusNotImplemented = "NOT_IMPLEMENTED"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// Document move targets accepted by the tenant API.
const (
	SaleMoveReserve  = "reserve"
	SaleMoveCancel   = "cancel"
	SaleMoveRecreate = "recreate"
	SaleMoveIssue    = "issue"
)

func IsValidSaleMove(state string) bool {
	switch state {
	case SaleMoveReserve, SaleMoveCancel, SaleMoveRecreate, SaleMoveIssue:
		return true
	default:
		return false
	}
}
