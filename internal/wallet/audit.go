package wallet

import (
	"context"
	"fmt"

	"github.com/tidemark/aftersale/internal/money"
)

// AuditReport is the result of replaying a user's balance chain.
type AuditReport struct {
	UserID     int64  `json:"userId"`
	Entries    int    `json:"entries"`
	Consistent bool   `json:"consistent"`
	Balance    string `json:"balance"`
	// FirstBadSeq is the seq of the first entry whose recorded balance
	// diverges from the replayed sum (0 when consistent).
	FirstBadSeq int64  `json:"firstBadSeq,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Audit replays all of a user's entries in insertion order and checks
// that the running sum of signed amounts reproduces every recorded
// balance. The chain invariant holds for any committed state because
// appends happen only under the newest-entry lock.
func (l *Ledger) Audit(ctx context.Context, userID int64) (*AuditReport, error) {
	entries, err := l.store.ListAsc(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{UserID: userID, Entries: len(entries), Consistent: true, Balance: "0.00"}

	var running int64
	for _, e := range entries {
		amount, err := money.ParseSignedCents(e.Amount)
		if err != nil {
			report.Consistent = false
			report.FirstBadSeq = e.Seq
			report.Detail = fmt.Sprintf("entry %s: unparseable amount %q", e.ID, e.Amount)
			return report, nil
		}
		recorded, err := money.ParseCents(e.Balance)
		if err != nil {
			report.Consistent = false
			report.FirstBadSeq = e.Seq
			report.Detail = fmt.Sprintf("entry %s: unparseable balance %q", e.ID, e.Balance)
			return report, nil
		}

		running += amount
		if running != recorded {
			report.Consistent = false
			report.FirstBadSeq = e.Seq
			report.Detail = fmt.Sprintf("entry %s: replayed %s, recorded %s",
				e.ID, money.FormatCents(running), money.FormatCents(recorded))
			return report, nil
		}
	}

	report.Balance = money.FormatCents(running)
	return report, nil
}
