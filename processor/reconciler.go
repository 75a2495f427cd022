package processor

import (
	"github.com/shopspring/decimal"

	"candleflow/logger"
	"candleflow/models"
)

// defaultThresholdPct flags divergence above five percent.
var defaultThresholdPct = decimal.NewFromFloat(5.0)

// Reconciler compares two series fetched independently for the same symbol
// and timeframe. Advisory only: the report and a warning log are the whole
// output, the data itself is never altered.
type Reconciler struct {
	threshold decimal.Decimal
	log       *logger.Log
}

// NewReconciler creates a reconciler flagging divergence above thresholdPct
// percent. A non-positive threshold falls back to the default.
func NewReconciler(thresholdPct decimal.Decimal) *Reconciler {
	if thresholdPct.LessThanOrEqual(decimal.Zero) {
		thresholdPct = defaultThresholdPct
	}
	return &Reconciler{
		threshold: thresholdPct,
		log:       logger.GetLogger(),
	}
}

// Reconcile aligns both series by exact timestamp and measures close-price
// divergence as abs((primary-secondary)/primary)*100 per shared candle. A
// zero primary close cannot anchor a relative diff; it counts toward Overlap
// and ZeroCloseSkipped but not toward the mean or max.
func (r *Reconciler) Reconcile(primary, secondary models.Series) models.ReconciliationReport {
	report := models.ReconciliationReport{}

	index := make(map[int64]decimal.Decimal, secondary.Len())
	for _, c := range secondary.Candles {
		index[c.Timestamp.UnixMilli()] = c.Close
	}

	hundred := decimal.NewFromInt(100)
	var sum decimal.Decimal
	measured := 0
	for _, c := range primary.Candles {
		secondaryClose, shared := index[c.Timestamp.UnixMilli()]
		if !shared {
			continue
		}
		report.Overlap++

		if c.Close.IsZero() {
			report.ZeroCloseSkipped++
			continue
		}

		diff := c.Close.Sub(secondaryClose).Div(c.Close).Abs().Mul(hundred)
		sum = sum.Add(diff)
		measured++
		if diff.GreaterThan(report.MaxDiffPct) {
			report.MaxDiffPct = diff
		}
	}

	if measured > 0 {
		report.MeanDiffPct = sum.Div(decimal.NewFromInt(int64(measured)))
	}
	report.Exceeded = report.MaxDiffPct.GreaterThan(r.threshold)

	log := r.log.WithComponent("reconciler").WithFields(logger.Fields{
		"symbol":             primary.Symbol,
		"timeframe":          primary.Timeframe,
		"overlap":            report.Overlap,
		"mean_diff_pct":      report.MeanDiffPct.String(),
		"max_diff_pct":       report.MaxDiffPct.String(),
		"zero_close_skipped": report.ZeroCloseSkipped,
	})
	switch {
	case report.Overlap == 0:
		log.Warn("no overlapping timestamps between sources")
	case report.Exceeded:
		log.Warn("cross-source divergence above threshold")
	default:
		log.Debug("cross-source divergence within threshold")
	}

	return report
}
