package statement

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	ledgerdomain "github.com/smallbiznis/referralledger/internal/ledger/domain"
)

const ContentType = "application/pdf"

var ErrEmptyStatement = errors.New("empty_statement")

// Render lays out a broker statement as a PDF document.
func Render(stmt *ledgerdomain.Statement) ([]byte, error) {
	if stmt == nil {
		return nil, ErrEmptyStatement
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Commission statement", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "As of "+stmt.Summary.AsOf.UTC().Format(time.DateOnly), props.Text{
			Size:  9,
			Align: align.Right,
			Top:   4,
		}),
	)

	m.AddRow(22,
		col.New(6).Add(
			text.New(stmt.BrokerName, props.Text{Style: fontstyle.Bold}),
			text.New("Referral code: "+stmt.ReferralCode, props.Text{Top: 5, Size: 9}),
			text.New("Commission model: "+stmt.Summary.CommissionModel, props.Text{Top: 9, Size: 9}),
			text.New("Status: "+stmt.Summary.BrokerStatus, props.Text{Top: 13, Size: 9}),
		),
		col.New(6).Add(
			text.New("Payable balance: "+formatAmount(stmt.Summary.PayableBalance, stmt.Currency), props.Text{Align: align.Right, Style: fontstyle.Bold}),
			text.New("Paid to date: "+formatAmount(stmt.Summary.PaidTotal, stmt.Currency), props.Text{Top: 5, Size: 9, Align: align.Right}),
			text.New("Payment readiness: "+readinessLabel(stmt.Summary.Readiness), props.Text{Top: 9, Size: 9, Align: align.Right}),
		),
	)

	if len(stmt.Summary.ByStatus) > 0 {
		m.AddRow(8, text.NewCol(12, "Totals by status", props.Text{Style: fontstyle.Bold, Size: 10, Top: 2}))
		for _, total := range stmt.Summary.ByStatus {
			m.AddRow(6,
				text.NewCol(6, total.Status, props.Text{Size: 9}),
				text.NewCol(2, fmt.Sprintf("%d", total.Count), props.Text{Size: 9, Align: align.Right}),
				text.NewCol(4, formatAmount(total.Amount, stmt.Currency), props.Text{Size: 9, Align: align.Right}),
			)
		}
	}

	m.AddRow(12,
		text.NewCol(2, "Referral", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4}),
		text.NewCol(2, "Created", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4}),
		text.NewCol(2, "Type", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4}),
		text.NewCol(2, "Period", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4}),
		text.NewCol(2, "Status", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Top: 4, Align: align.Right}),
	)
	for _, line := range stmt.Lines {
		m.AddRow(6,
			text.NewCol(2, line.ReferralID.String(), props.Text{Size: 8}),
			text.NewCol(2, line.CreatedAt.UTC().Format(time.DateOnly), props.Text{Size: 8}),
			text.NewCol(2, line.PayoutType, props.Text{Size: 8}),
			text.NewCol(2, line.BillingPeriod, props.Text{Size: 8}),
			text.NewCol(2, line.Status, props.Text{Size: 8}),
			text.NewCol(2, formatAmount(line.Amount, line.Currency), props.Text{Size: 8, Align: align.Right}),
		)
	}
	if stmt.Truncated {
		m.AddRow(8, text.NewCol(12, "Older referrals omitted.", props.Text{Size: 8, Style: fontstyle.Italic, Top: 2}))
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// formatAmount prints minor units with two decimals, e.g. 25000 usd -> "USD 250.00".
func formatAmount(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	value := fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return value
	}
	return currency + " " + value
}

func readinessLabel(r ledgerdomain.PaymentReadiness) string {
	if r.Readiness == ledgerdomain.ReadinessReady {
		return string(r.Readiness)
	}
	if len(r.Reasons) == 0 {
		return string(r.Readiness)
	}
	return string(r.Readiness) + " (" + strings.Join(r.Reasons, ", ") + ")"
}
