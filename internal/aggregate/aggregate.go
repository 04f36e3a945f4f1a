// Package aggregate inserts per-object rollup rows into a summary ledger.
//
// For every object id the summary rows are copied through in their original
// order and followed by a balance rollup row (only when a detail ledger was
// supplied) and a period settlement row. Objects are emitted in the order
// their id first appears. The computation is pure: inputs are never modified.
package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rollup/internal/core"
)

// Stage identifies a checkpoint reported to a progress callback.
type Stage int

const (
	StageNormalized Stage = iota + 1
	StageBalancesResolved
	StageGrouped
	StageEmitted
)

func (s Stage) String() string {
	switch s {
	case StageNormalized:
		return "normalized"
	case StageBalancesResolved:
		return "balances_resolved"
	case StageGrouped:
		return "grouped"
	case StageEmitted:
		return "emitted"
	default:
		return "unknown"
	}
}

// Percent is a rough completion figure for progress bars.
func (s Stage) Percent() int {
	return int(s) * 25
}

// Result is the augmented table plus the figures derived from it.
type Result struct {
	Rows      []core.Record
	Totals    core.Totals
	Objects   []core.ObjectSummary
	HasDetail bool
}

// Option configures a single Aggregate call.
type Option func(*options)

type options struct {
	progress func(Stage)
}

// WithProgress registers a callback invoked synchronously at each Stage.
func WithProgress(fn func(Stage)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// group is one object's rows in input order.
type group struct {
	objectID string
	rows     []core.Record
}

// Aggregate builds the augmented summary table.
//
// An empty detail slice means no detail ledger was supplied: no balance
// rollup rows are produced at all. With a detail ledger, objects that have no
// detail rows still get a rollup row with a zero balance.
//
// Rows without an object id are dropped from the output and from every
// total.
func Aggregate(summary, detail []core.Record, opts ...Option) Result {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	report := func(s Stage) {
		if o.progress != nil {
			o.progress(s)
		}
	}

	summary = normalize(summary)
	detail = normalize(detail)
	report(StageNormalized)

	hasDetail := len(detail) > 0
	var balances map[string]decimal.Decimal
	if hasDetail {
		balances = latestBalances(detail)
	}
	report(StageBalancesResolved)

	groups := groupByObject(summary)
	report(StageGrouped)

	res := Result{
		Rows:      make([]core.Record, 0, len(summary)+2*len(groups)),
		Objects:   make([]core.ObjectSummary, 0, len(groups)),
		HasDetail: hasDetail,
		Totals: core.Totals{
			Consumption: decimal.Zero,
			Deposit:     decimal.Zero,
			Settlement:  decimal.Zero,
		},
	}
	for _, g := range groups {
		consumption, deposit := decimal.Zero, decimal.Zero
		for _, r := range g.rows {
			switch r.Text(core.FieldType) {
			case core.TypeConsumption:
				consumption = consumption.Add(amountOf(r))
			case core.TypeDeposit:
				deposit = deposit.Add(amountOf(r))
			}
		}
		// Consumption is stored negative, so this is a net figure.
		settlement := deposit.Add(consumption)

		res.Rows = append(res.Rows, g.rows...)
		summaryRow := core.ObjectSummary{
			ObjectID:    g.objectID,
			Rows:        len(g.rows),
			Consumption: consumption,
			Deposit:     deposit,
			Settlement:  settlement,
		}
		template := g.rows[0]
		if hasDetail {
			balance, ok := balances[g.objectID]
			if !ok {
				balance = decimal.Zero
			}
			res.Rows = append(res.Rows, syntheticRow(template, core.TypeBalanceRollup, balance))
			summaryRow.Balance = &balance
		}
		res.Rows = append(res.Rows, syntheticRow(template, core.TypePeriodSettlement, settlement))
		res.Objects = append(res.Objects, summaryRow)

		res.Totals.Consumption = res.Totals.Consumption.Add(consumption)
		res.Totals.Deposit = res.Totals.Deposit.Add(deposit)
		res.Totals.Settlement = res.Totals.Settlement.Add(settlement)
	}
	report(StageEmitted)

	return res
}

// normalize returns copies of rows whose amount field is a decimal. Missing
// or unreadable amounts become zero.
func normalize(rows []core.Record) []core.Record {
	if len(rows) == 0 {
		return nil
	}
	out := make([]core.Record, len(rows))
	for i, r := range rows {
		v, _ := r.Get(core.FieldAmount)
		if _, ok := v.(decimal.Decimal); ok {
			out[i] = r
			continue
		}
		out[i] = r.With(core.FieldAmount, core.ParseAmount(v))
	}
	return out
}

func amountOf(r core.Record) decimal.Decimal {
	v, _ := r.Get(core.FieldAmount)
	return core.ParseAmount(v)
}

// latestBalances maps each object id in the detail ledger to the post
// transaction balance of its most recent row. Equal creation times keep
// input order, so the earlier row wins.
func latestBalances(detail []core.Record) map[string]decimal.Decimal {
	balances := make(map[string]decimal.Decimal)
	for _, g := range groupByObject(detail) {
		type stamped struct {
			at  time.Time
			row core.Record
		}
		rows := make([]stamped, len(g.rows))
		for i, r := range g.rows {
			v, _ := r.Get(core.FieldCreatedAt)
			rows[i] = stamped{at: core.ParseTimestamp(v), row: r}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].at.After(rows[j].at)
		})
		v, _ := rows[0].row.Get(core.FieldPostBalance)
		balances[g.objectID] = core.ParseAmount(v)
	}
	return balances
}

// groupByObject splits rows by object id, keeping first-appearance order of
// ids and input order within each group. Rows without an id are skipped.
func groupByObject(rows []core.Record) []*group {
	var groups []*group
	index := make(map[string]*group)
	for _, r := range rows {
		id := r.Text(core.FieldObjectID)
		if id == "" {
			continue
		}
		g, ok := index[id]
		if !ok {
			g = &group{objectID: id}
			index[id] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, r)
	}
	return groups
}

// syntheticRow copies the group's first row and overwrites the type, amount
// and payment date cells.
func syntheticRow(template core.Record, kind string, amount decimal.Decimal) core.Record {
	return template.
		With(core.FieldType, kind).
		With(core.FieldAmount, amount).
		With(core.FieldPaymentDate, "")
}
