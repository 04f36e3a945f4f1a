package core

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Column names of the summary and detail ledgers. The creation time and
// post-transaction balance columns only exist in the detail ledger.
const (
	FieldObjectID    = "对象编号"
	FieldType        = "交易类型"
	FieldAmount      = "金额（元）"
	FieldPaymentDate = "缴费日期"
	FieldCreatedAt   = "创建时间"
	FieldPostBalance = "交易后金额（元）"
)

// Transaction type values.
const (
	TypeConsumption      = "消费"
	TypeDeposit          = "预存"
	TypeBalanceRollup    = "余额汇总"
	TypePeriodSettlement = "本期结余"
)

const (
	SummaryLedger LedgerKind = "summary"
	DetailLedger  LedgerKind = "detail"
)

type (
	LedgerKind string

	// Ledger is a decoded upload kept for a session.
	Ledger struct {
		Kind     LedgerKind
		Filename string
		Rows     []Record
		LoadedAt time.Time
	}

	// LedgerSet holds whatever a session has loaded so far.
	LedgerSet struct {
		Summary *Ledger
		Detail  *Ledger
	}

	// Totals are the three figures shown for a loaded summary and for a run.
	Totals struct {
		Consumption decimal.Decimal `json:"consumption"`
		Deposit     decimal.Decimal `json:"deposit"`
		Settlement  decimal.Decimal `json:"settlement"`
	}

	// ObjectSummary is the per-object outcome of a run. Balance is nil when
	// no detail ledger was supplied.
	ObjectSummary struct {
		ObjectID    string           `json:"object_id"`
		Rows        int              `json:"rows"`
		Consumption decimal.Decimal  `json:"consumption"`
		Deposit     decimal.Decimal  `json:"deposit"`
		Settlement  decimal.Decimal  `json:"settlement"`
		Balance     *decimal.Decimal `json:"balance,omitempty"`
	}

	// Run is a stored aggregation result.
	Run struct {
		ID         string          `json:"id"`
		SessionID  string          `json:"session_id"`
		Rows       []Record        `json:"rows"`
		Totals     Totals          `json:"totals"`
		Objects    []ObjectSummary `json:"objects"`
		HasDetail  bool            `json:"has_detail"`
		CreatedAt  time.Time       `json:"created_at"`
		ExportedAt *time.Time      `json:"exported_at,omitempty"`
	}
)

var (
	ErrInvalidLedgerKind = errors.New("invalid ledger kind")
	ErrNotFound          = errors.New("not found")
)

// ParseLedgerKind validates a kind coming from a URL or form value.
func ParseLedgerKind(s string) (LedgerKind, error) {
	switch k := LedgerKind(s); k {
	case SummaryLedger, DetailLedger:
		return k, nil
	default:
		return "", ErrInvalidLedgerKind
	}
}

func (k LedgerKind) String() string {
	return string(k)
}

// Label is the user-facing name of the ledger kind.
func (k LedgerKind) Label() string {
	switch k {
	case SummaryLedger:
		return "汇总表"
	case DetailLedger:
		return "明细表"
	default:
		return string(k)
	}
}
