package attribution

import (
	"math"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// CategorySummary aggregates underperforming hours for one impact category.
type CategorySummary struct {
	Category         Category
	Hours            int
	MeanCFPct        float64
	MeanDeviationPct float64
	LostMW           float64
	RevenueLossGBP   decimal.Decimal
	ShareOfLossPct   float64
	Farms            int
}

// FarmSummary aggregates underperforming hours for one farm.
type FarmSummary struct {
	FarmID            string
	Hours             int
	MeanCFPct         float64
	MeanExpectedCFPct float64
	MeanDeviationPct  float64
	LostMW            float64
	RevenueLossGBP    decimal.Decimal
	CurtailedHours    int
}

// WindBinSummary aggregates all hours whose wind speed falls in one bin.
type WindBinSummary struct {
	Label            string
	Hours            int
	MeanWindSpeed    float64
	MeanCFPct        float64
	MeanExpectedCF   float64
	MeanDeviationPct float64
	LostMW           float64
	RevenueLossGBP   decimal.Decimal
}

type windBin struct {
	label string
	upper float64 // exclusive
}

var windBins = []windBin{
	{"< 3 m/s (below cut-in)", 3},
	{"3-6 m/s (low wind)", 6},
	{"6-9 m/s (partial load)", 9},
	{"9-12 m/s (near rated)", 12},
	{"12-15 m/s (rated)", 15},
	{"15-20 m/s (high wind)", 20},
	{"> 20 m/s (near cut-out)", 0},
}

func binIndex(ws float64) int {
	for i, b := range windBins[:len(windBins)-1] {
		if ws < b.upper {
			return i
		}
	}
	return len(windBins) - 1
}

// gbp converts a float loss to decimal; non-finite values count as zero.
func gbp(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func roundGBP(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// SummarizeByCategory aggregates underperforming hours per category, most
// costly first.
func SummarizeByCategory(hours []AttributedHour) []CategorySummary {
	type acc struct {
		CategorySummary
		cf, dev float64
		farms   map[string]struct{}
	}
	accs := make(map[Category]*acc)
	total := decimal.Zero
	for _, h := range hours {
		if !h.Underperforming() {
			continue
		}
		a, ok := accs[h.ImpactCategory]
		if !ok {
			a = &acc{farms: make(map[string]struct{})}
			a.Category = h.ImpactCategory
			accs[h.ImpactCategory] = a
		}
		a.Hours++
		a.cf += h.CapacityFactorPct
		a.dev += h.CFDeviationPct
		a.LostMW += h.LostGenerationMW
		loss := gbp(h.RevenueLossGBP)
		a.RevenueLossGBP = a.RevenueLossGBP.Add(loss)
		total = total.Add(loss)
		a.farms[h.FarmID] = struct{}{}
	}

	var out []CategorySummary
	for _, c := range Categories {
		a, ok := accs[c]
		if !ok {
			continue
		}
		s := a.CategorySummary
		n := float64(s.Hours)
		s.MeanCFPct = a.cf / n
		s.MeanDeviationPct = a.dev / n
		s.Farms = len(a.farms)
		if total.IsPositive() {
			s.ShareOfLossPct = s.RevenueLossGBP.Div(total).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		s.RevenueLossGBP = roundGBP(s.RevenueLossGBP)
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b CategorySummary) int {
		return b.RevenueLossGBP.Cmp(a.RevenueLossGBP)
	})
	return out
}

// SummarizeByFarm aggregates underperforming hours per farm, most costly
// first.
func SummarizeByFarm(hours []AttributedHour) []FarmSummary {
	type acc struct {
		FarmSummary
		cf, exp, dev float64
	}
	accs := make(map[string]*acc)
	for _, h := range hours {
		if !h.Underperforming() {
			continue
		}
		a, ok := accs[h.FarmID]
		if !ok {
			a = &acc{}
			a.FarmID = h.FarmID
			accs[h.FarmID] = a
		}
		a.Hours++
		a.cf += h.CapacityFactorPct
		a.exp += h.ExpectedCFPct
		a.dev += h.CFDeviationPct
		a.LostMW += h.LostGenerationMW
		a.RevenueLossGBP = a.RevenueLossGBP.Add(gbp(h.RevenueLossGBP))
		if h.IsCurtailed {
			a.CurtailedHours++
		}
	}

	out := make([]FarmSummary, 0, len(accs))
	for _, a := range accs {
		s := a.FarmSummary
		n := float64(s.Hours)
		s.MeanCFPct = a.cf / n
		s.MeanExpectedCFPct = a.exp / n
		s.MeanDeviationPct = a.dev / n
		s.RevenueLossGBP = roundGBP(s.RevenueLossGBP)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b FarmSummary) int {
		if c := b.RevenueLossGBP.Cmp(a.RevenueLossGBP); c != 0 {
			return c
		}
		return strings.Compare(a.FarmID, b.FarmID)
	})
	return out
}

// SummarizeByWindBin aggregates every hour, over- and underperforming,
// into fixed wind speed bins ordered from calm to storm. Empty bins are
// omitted.
func SummarizeByWindBin(hours []AttributedHour) []WindBinSummary {
	type acc struct {
		n                    int
		ws, cf, exp, dev, mw float64
		loss                 decimal.Decimal
	}
	accs := make([]acc, len(windBins))
	for _, h := range hours {
		a := &accs[binIndex(h.WindSpeed100m)]
		a.n++
		a.ws += h.WindSpeed100m
		a.cf += h.CapacityFactorPct
		a.exp += h.ExpectedCFPct
		a.dev += h.CFDeviationPct
		a.mw += h.LostGenerationMW
		a.loss = a.loss.Add(gbp(h.RevenueLossGBP))
	}

	var out []WindBinSummary
	for i, a := range accs {
		if a.n == 0 {
			continue
		}
		n := float64(a.n)
		out = append(out, WindBinSummary{
			Label:            windBins[i].label,
			Hours:            a.n,
			MeanWindSpeed:    a.ws / n,
			MeanCFPct:        a.cf / n,
			MeanExpectedCF:   a.exp / n,
			MeanDeviationPct: a.dev / n,
			LostMW:           a.mw,
			RevenueLossGBP:   roundGBP(a.loss),
		})
	}
	return out
}

// TotalRevenueLoss sums revenue loss over underperforming hours.
func TotalRevenueLoss(hours []AttributedHour) decimal.Decimal {
	total := decimal.Zero
	for _, h := range hours {
		if h.Underperforming() {
			total = total.Add(gbp(h.RevenueLossGBP))
		}
	}
	return roundGBP(total)
}
