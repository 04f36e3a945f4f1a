package aggregate

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollup/internal/core"
)

func summaryRow(id, kind string, amount any) core.Record {
	return core.NewRecord(
		core.F(core.FieldObjectID, id),
		core.F("户名", "name-"+id),
		core.F(core.FieldType, kind),
		core.F(core.FieldAmount, amount),
		core.F(core.FieldPaymentDate, "2024-03-01"),
	)
}

func detailRow(id, createdAt string, balance any) core.Record {
	return core.NewRecord(
		core.F(core.FieldObjectID, id),
		core.F(core.FieldCreatedAt, createdAt),
		core.F(core.FieldPostBalance, balance),
	)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func amount(t *testing.T, r core.Record) decimal.Decimal {
	t.Helper()
	v, ok := r.Get(core.FieldAmount)
	require.True(t, ok, "row has no amount")
	d, ok := v.(decimal.Decimal)
	require.True(t, ok, "amount is %T", v)
	return d
}

func TestAggregate_SummaryOnly(t *testing.T) {
	summary := []core.Record{
		summaryRow("A001", core.TypeConsumption, -50.0),
		summaryRow("A001", core.TypeDeposit, 200.0),
	}

	res := Aggregate(summary, nil)

	require.Len(t, res.Rows, 3)
	assert.False(t, res.HasDetail)
	last := res.Rows[2]
	assert.Equal(t, core.TypePeriodSettlement, last.Text(core.FieldType))
	assert.True(t, amount(t, last).Equal(dec("150")))
	assert.Equal(t, "", last.Text(core.FieldPaymentDate))
	assert.Equal(t, "name-A001", last.Text("户名"))
	for _, r := range res.Rows {
		assert.NotEqual(t, core.TypeBalanceRollup, r.Text(core.FieldType))
	}
	assert.Nil(t, res.Objects[0].Balance)
}

func TestAggregate_WithDetailUsesLatestBalance(t *testing.T) {
	summary := []core.Record{
		summaryRow("A001", core.TypeConsumption, -50.0),
		summaryRow("A001", core.TypeDeposit, 200.0),
	}
	detail := []core.Record{
		detailRow("A001", "2024-01-01", 500.0),
		detailRow("A001", "2024-02-01", 300.0),
	}

	res := Aggregate(summary, detail)

	require.Len(t, res.Rows, 4)
	rollup := res.Rows[2]
	assert.Equal(t, core.TypeBalanceRollup, rollup.Text(core.FieldType))
	assert.True(t, amount(t, rollup).Equal(dec("300")))
	assert.Equal(t, "", rollup.Text(core.FieldPaymentDate))

	settlement := res.Rows[3]
	assert.Equal(t, core.TypePeriodSettlement, settlement.Text(core.FieldType))
	assert.True(t, amount(t, settlement).Equal(dec("150")))

	require.NotNil(t, res.Objects[0].Balance)
	assert.True(t, res.Objects[0].Balance.Equal(dec("300")))
}

func TestAggregate_EqualTimestampsKeepFirstInInputOrder(t *testing.T) {
	summary := []core.Record{summaryRow("A001", core.TypeDeposit, "10")}
	detail := []core.Record{
		detailRow("A001", "2024-01-01", "111"),
		detailRow("A001", "2024-02-01", "222"),
		detailRow("A001", "2024-02-01", "333"),
	}

	res := Aggregate(summary, detail)

	assert.True(t, amount(t, res.Rows[1]).Equal(dec("222")))
}

func TestAggregate_UnparseableTimestampsSortOldest(t *testing.T) {
	summary := []core.Record{summaryRow("A001", core.TypeDeposit, "10")}
	detail := []core.Record{
		detailRow("A001", "not a date", "999"),
		detailRow("A001", "", "998"),
		detailRow("A001", "2023-12-31", "42"),
	}

	res := Aggregate(summary, detail)

	assert.True(t, amount(t, res.Rows[1]).Equal(dec("42")))
}

func TestAggregate_PartialDetailGivesZeroBalance(t *testing.T) {
	summary := []core.Record{
		summaryRow("A001", core.TypeDeposit, "10"),
		summaryRow("B002", core.TypeDeposit, "20"),
	}
	detail := []core.Record{detailRow("A001", "2024-01-01", "7")}

	res := Aggregate(summary, detail)

	require.Len(t, res.Rows, 6)
	assert.Equal(t, "B002", res.Rows[4].Text(core.FieldObjectID))
	assert.Equal(t, core.TypeBalanceRollup, res.Rows[4].Text(core.FieldType))
	assert.True(t, amount(t, res.Rows[4]).IsZero())
}

func TestAggregate_GroupsInFirstAppearanceOrder(t *testing.T) {
	summary := []core.Record{
		summaryRow("B", core.TypeDeposit, "1"),
		summaryRow("A", core.TypeDeposit, "2"),
		summaryRow("B", core.TypeConsumption, "-3"),
		summaryRow("C", "退费", "4"),
	}

	res := Aggregate(summary, nil)

	var got []string
	for _, r := range res.Rows {
		got = append(got, r.Text(core.FieldObjectID)+"/"+r.Text(core.FieldType))
	}
	assert.Equal(t, []string{
		"B/" + core.TypeDeposit,
		"B/" + core.TypeConsumption,
		"B/" + core.TypePeriodSettlement,
		"A/" + core.TypeDeposit,
		"A/" + core.TypePeriodSettlement,
		"C/退费",
		"C/" + core.TypePeriodSettlement,
	}, got)

	// Uncategorized types pass through but count towards nothing.
	assert.True(t, amount(t, res.Rows[6]).IsZero())
}

func TestAggregate_RowCountsPerGroup(t *testing.T) {
	summary := []core.Record{
		summaryRow("A", core.TypeDeposit, "1"),
		summaryRow("A", core.TypeDeposit, "1"),
		summaryRow("A", core.TypeConsumption, "-1"),
		summaryRow("B", core.TypeDeposit, "1"),
	}
	detail := []core.Record{detailRow("Z", "2024-01-01", "1")}

	counts := func(rows []core.Record) map[string]int {
		m := map[string]int{}
		for _, r := range rows {
			m[r.Text(core.FieldObjectID)]++
		}
		return m
	}

	assert.Equal(t, map[string]int{"A": 4, "B": 2}, counts(Aggregate(summary, nil).Rows))
	assert.Equal(t, map[string]int{"A": 5, "B": 3}, counts(Aggregate(summary, detail).Rows))
}

func TestAggregate_MissingObjectIDDropped(t *testing.T) {
	summary := []core.Record{
		summaryRow("", core.TypeDeposit, "1000"),
		summaryRow("A", core.TypeDeposit, "5"),
		core.NewRecord(core.F(core.FieldType, core.TypeConsumption), core.F(core.FieldAmount, "-7")),
	}
	detail := []core.Record{
		detailRow("", "2030-01-01", "1"),
		detailRow("A", "2024-01-01", "8"),
	}

	res := Aggregate(summary, detail)

	require.Len(t, res.Rows, 3)
	for _, r := range res.Rows {
		assert.Equal(t, "A", r.Text(core.FieldObjectID))
	}
	assert.True(t, res.Totals.Deposit.Equal(dec("5")))
	assert.True(t, res.Totals.Consumption.IsZero())
	assert.True(t, res.Totals.Settlement.Equal(dec("5")))
	assert.True(t, amount(t, res.Rows[1]).Equal(dec("8")))
}

func TestAggregate_AmountsAreNormalized(t *testing.T) {
	summary := []core.Record{
		summaryRow("A", core.TypeDeposit, "abc"),
		summaryRow("A", core.TypeDeposit, " 12.5 "),
		core.NewRecord(core.F(core.FieldObjectID, "A"), core.F(core.FieldType, core.TypeConsumption)),
	}

	res := Aggregate(summary, nil)

	require.Len(t, res.Rows, 4)
	assert.True(t, amount(t, res.Rows[0]).IsZero())
	assert.True(t, amount(t, res.Rows[1]).Equal(dec("12.5")))
	assert.True(t, amount(t, res.Rows[2]).IsZero(), "missing amount becomes zero")
	assert.True(t, amount(t, res.Rows[3]).Equal(dec("12.5")))
}

func TestAggregate_TotalsAreSumsOfGroups(t *testing.T) {
	summary := []core.Record{
		summaryRow("A", core.TypeConsumption, "-10.10"),
		summaryRow("B", core.TypeDeposit, "300"),
		summaryRow("A", core.TypeDeposit, "20.20"),
		summaryRow("B", core.TypeConsumption, "-0.30"),
		summaryRow("C", core.TypeConsumption, "-5"),
	}

	res := Aggregate(summary, nil)

	assert.True(t, res.Totals.Consumption.Equal(dec("-15.40")))
	assert.True(t, res.Totals.Deposit.Equal(dec("320.20")))
	assert.True(t, res.Totals.Settlement.Equal(res.Totals.Deposit.Add(res.Totals.Consumption)))

	sum := decimal.Zero
	for _, o := range res.Objects {
		sum = sum.Add(o.Settlement)
	}
	assert.True(t, sum.Equal(res.Totals.Settlement))
	assert.Equal(t, []string{"A", "B", "C"}, []string{res.Objects[0].ObjectID, res.Objects[1].ObjectID, res.Objects[2].ObjectID})
}

func TestAggregate_InputsAreNotModified(t *testing.T) {
	summary := []core.Record{summaryRow("A", core.TypeDeposit, "5")}

	_ = Aggregate(summary, nil)

	v, _ := summary[0].Get(core.FieldAmount)
	assert.Equal(t, "5", v)
}

func TestAggregate_EmptyInput(t *testing.T) {
	res := Aggregate(nil, nil)

	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Objects)
	assert.True(t, res.Totals.Settlement.IsZero())
}

func TestAggregate_ReportsProgressInOrder(t *testing.T) {
	var stages []Stage
	Aggregate([]core.Record{summaryRow("A", core.TypeDeposit, "1")}, nil, WithProgress(func(s Stage) {
		stages = append(stages, s)
	}))

	assert.Equal(t, []Stage{StageNormalized, StageBalancesResolved, StageGrouped, StageEmitted}, stages)
	assert.Equal(t, 100, StageEmitted.Percent())
	assert.Equal(t, "grouped", StageGrouped.String())
}
