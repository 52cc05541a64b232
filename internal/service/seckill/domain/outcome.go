package domain

import (
	"errors"
)

var (
	ErrBadToken     = errors.New("seckill path token is missing, expired or already used")
	ErrRateLimited  = errors.New("too many requests, please slow down")
	ErrSoldOut      = errors.New("goods is sold out")
	ErrNotEligible  = errors.New("goods is not part of the current sale")
	ErrSystemBusy   = errors.New("system busy, please retry")
	ErrUnauthorized = errors.New("user is not logged in")

	ErrUnknownSku    = errors.New("sku was never seeded into the ledger")
	ErrOrderNotFound = errors.New("no seckill order for user")
	ErrWindowSelling = errors.New("sale window is already selling, refusing to reseed stock")
)

// ReserveResult 是 Ledger 原子扣减的结果。
type ReserveResult int

const (
	ReserveReserved ReserveResult = iota + 1
	ReserveExhausted
	ReserveUnknown // sku 未被 seed，不能当作库存事件处理
)

func (r ReserveResult) String() string {
	switch r {
	case ReserveReserved:
		return "reserved"
	case ReserveExhausted:
		return "exhausted"
	case ReserveUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// TokenStatus 是令牌校验的结果。
type TokenStatus int

const (
	TokenValid TokenStatus = iota + 1
	TokenInvalid
	TokenExpired
)

func (s TokenStatus) String() string {
	switch s {
	case TokenValid:
		return "valid"
	case TokenInvalid:
		return "invalid"
	case TokenExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// RejectReason 是准入被拒绝的原因，会原样返回给调用方。
type RejectReason string

const (
	ReasonBadToken    RejectReason = "bad_token"
	ReasonSoldOut     RejectReason = "sold_out"
	ReasonNotEligible RejectReason = "not_eligible"
	ReasonSystemBusy  RejectReason = "system_busy"
)

// AdmissionState 是单个请求在准入状态机中的位置。
type AdmissionState string

const (
	StateValidatingToken AdmissionState = "validating_token"
	StateCheckingGate    AdmissionState = "checking_gate"
	StateReserving       AdmissionState = "reserving"
	StatePublishing      AdmissionState = "publishing"
	StateAdmitted        AdmissionState = "admitted"
	StateRejected        AdmissionState = "rejected"
)

// Decision 是一次准入尝试的最终结果。
// SoldOut 是正常业务结果而不是错误，调用方通过 Reason 区分 sold_out 和 system_busy。
type Decision struct {
	State  AdmissionState
	Reason RejectReason
	Intent *PurchaseIntent
}

func Admitted(intent *PurchaseIntent) Decision {
	return Decision{State: StateAdmitted, Intent: intent}
}

func Rejected(reason RejectReason) Decision {
	return Decision{State: StateRejected, Reason: reason}
}

func (d Decision) IsAdmitted() bool {
	return d.State == StateAdmitted
}

// Err 把拒绝原因翻译成对应的哨兵错误，准入成功时返回 nil。
func (d Decision) Err() error {
	if d.IsAdmitted() {
		return nil
	}
	switch d.Reason {
	case ReasonBadToken:
		return ErrBadToken
	case ReasonSoldOut:
		return ErrSoldOut
	case ReasonNotEligible:
		return ErrNotEligible
	default:
		return ErrSystemBusy
	}
}

// Outcome 返回用于日志和指标的结果标签。
func (d Decision) Outcome() string {
	if d.IsAdmitted() {
		return string(StateAdmitted)
	}
	return string(d.Reason)
}
