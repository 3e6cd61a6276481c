package recurring

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-banksync/core"
)

type Cadence string

const (
	CadenceWeekly  Cadence = "weekly"
	CadenceMonthly Cadence = "monthly"
	CadenceAnnual  Cadence = "annual"
)

// Cadence targets and tolerances, in days. A payee whose median gap
// falls outside every window is not recurring.
const (
	weeklyIntervalDays  = 7
	weeklyToleranceDays = 2

	monthlyIntervalDays  = 30
	monthlyToleranceDays = 5

	annualIntervalDays  = 365
	annualToleranceDays = 15
)

// Confidence weights. They sum to 1.0 so the score stays in [0, 1]
// before clamping.
const (
	weightIntervalConsistency = 0.4
	weightAmountConsistency   = 0.2
	weightOccurrences         = 0.2
	weightCatalogMatch        = 0.2

	// occurrenceSaturation is the charge count at which the occurrence
	// term maxes out; a year of monthly charges scores full marks.
	occurrenceSaturation = 12

	minOccurrences = 2
)

// Subscription is a charge the user already tracks. Candidates that
// collide with one, by normalized payee or catalog id, are suppressed.
type Subscription struct {
	Payee     string
	CatalogID string
}

// Candidate is one detected recurring charge, strongest first.
type Candidate struct {
	Payee           string
	NormalizedPayee string
	CatalogID       string
	CatalogName     string
	Cadence         Cadence
	Confidence      float64
	AverageAmount   float64
	Occurrences     int
	FirstSeen       time.Time
	LastSeen        time.Time
}

type Input struct {
	Transactions    []core.Transaction
	Existing        []Subscription
	DismissedPayees []string
	// Catalog overrides the built-in service catalog; leave nil for
	// the default.
	Catalog []CatalogEntry
}

// Detect finds likely recurring charges in a transaction history. It
// is a pure function of its input: no clocks, no stores, no provider
// calls, so the same history always yields the same candidates.
func Detect(in Input) []Candidate {
	catalog := in.Catalog
	if catalog == nil {
		catalog = defaultCatalog
	}

	groups := groupByPayee(in.Transactions)
	dismissed := normalizedSet(in.DismissedPayees)
	tracked := trackedIndex(in.Existing)

	candidates := make([]Candidate, 0, len(groups))
	for normalized, charges := range groups {
		if len(charges) < minOccurrences {
			continue
		}
		if _, skip := dismissed[normalized]; skip {
			continue
		}

		sort.Slice(charges, func(i, j int) bool { return charges[i].Date.Before(charges[j].Date) })
		gaps := dayGaps(charges)
		cadence, ok := classifyCadence(medianInt(gaps))
		if !ok {
			continue
		}

		entry := matchCatalog(catalog, normalized)
		if isAlreadyTracked(tracked, normalized, entry) {
			continue
		}

		candidate := Candidate{
			Payee:           payeeSource(charges[len(charges)-1]),
			NormalizedPayee: normalized,
			Cadence:         cadence,
			AverageAmount:   averageAmount(charges),
			Occurrences:     len(charges),
			FirstSeen:       charges[0].Date,
			LastSeen:        charges[len(charges)-1].Date,
		}
		if entry != nil {
			candidate.CatalogID = entry.ID
			candidate.CatalogName = entry.Name
		}
		candidate.Confidence = confidence(gaps, charges, cadence, entry != nil)
		candidates = append(candidates, candidate)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence == candidates[j].Confidence {
			return candidates[i].NormalizedPayee < candidates[j].NormalizedPayee
		}
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates
}

// payeeNoiseWords are billing-descriptor filler stripped before
// grouping, so "NETFLIX MONTHLY" and "NETFLIX AUTOPAY" collapse into
// one payee.
var payeeNoiseWords = map[string]struct{}{
	"monthly":      {},
	"recurring":    {},
	"autopay":      {},
	"auto":         {},
	"pay":          {},
	"payment":      {},
	"subscription": {},
	"subscr":       {},
	"bill":         {},
	"billing":      {},
}

func normalizePayee(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	var builder strings.Builder
	builder.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		default:
			builder.WriteByte(' ')
		}
	}
	words := strings.Fields(builder.String())
	kept := words[:0]
	for _, word := range words {
		if _, noise := payeeNoiseWords[word]; noise {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

// payeeSource is the field a transaction is grouped and reported by.
// Candidate.Payee comes from the same field as the grouping key.
func payeeSource(txn core.Transaction) string {
	if strings.TrimSpace(txn.MerchantName) != "" {
		return txn.MerchantName
	}
	return txn.Name
}

// groupByPayee buckets settled charges by normalized payee. Pending
// rows and credits (negative amounts) never seed a candidate.
func groupByPayee(transactions []core.Transaction) map[string][]core.Transaction {
	groups := make(map[string][]core.Transaction)
	for _, txn := range transactions {
		if txn.Pending || txn.Amount <= 0 {
			continue
		}
		normalized := normalizePayee(payeeSource(txn))
		if normalized == "" {
			continue
		}
		groups[normalized] = append(groups[normalized], txn)
	}
	return groups
}

func dayGaps(sorted []core.Transaction) []int {
	gaps := make([]int, 0, len(sorted)-1)
	for i := 1; i < len(sorted); i++ {
		gap := int(sorted[i].Date.Sub(sorted[i-1].Date).Hours() / 24)
		gaps = append(gaps, gap)
	}
	return gaps
}

func medianInt(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func classifyCadence(medianGap int) (Cadence, bool) {
	switch {
	case withinTolerance(medianGap, weeklyIntervalDays, weeklyToleranceDays):
		return CadenceWeekly, true
	case withinTolerance(medianGap, monthlyIntervalDays, monthlyToleranceDays):
		return CadenceMonthly, true
	case withinTolerance(medianGap, annualIntervalDays, annualToleranceDays):
		return CadenceAnnual, true
	}
	return "", false
}

func withinTolerance(value, target, tolerance int) bool {
	diff := value - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func cadenceWindow(cadence Cadence) (target, tolerance int) {
	switch cadence {
	case CadenceWeekly:
		return weeklyIntervalDays, weeklyToleranceDays
	case CadenceAnnual:
		return annualIntervalDays, annualToleranceDays
	default:
		return monthlyIntervalDays, monthlyToleranceDays
	}
}

// intervalConsistency is the fraction of gaps that land inside the
// cadence window. A payee that drifts in and out of rhythm scores low
// even when its median still classifies.
func intervalConsistency(gaps []int, cadence Cadence) float64 {
	if len(gaps) == 0 {
		return 0
	}
	target, tolerance := cadenceWindow(cadence)
	matching := 0
	for _, gap := range gaps {
		if withinTolerance(gap, target, tolerance) {
			matching++
		}
	}
	return float64(matching) / float64(len(gaps))
}

// amountConsistency is the share of charges at the modal amount,
// compared at cent precision. Flat-rate subscriptions score 1.0;
// usage-priced payees score by their most common price point.
func amountConsistency(charges []core.Transaction) float64 {
	if len(charges) == 0 {
		return 0
	}
	counts := make(map[int64]int, len(charges))
	best := 0
	for _, txn := range charges {
		cents := int64(math.Round(txn.Amount * 100))
		counts[cents]++
		if counts[cents] > best {
			best = counts[cents]
		}
	}
	return float64(best) / float64(len(charges))
}

func confidence(gaps []int, charges []core.Transaction, cadence Cadence, catalogMatch bool) float64 {
	occurrenceTerm := math.Min(float64(len(charges))/occurrenceSaturation, 1)
	catalogTerm := 0.0
	if catalogMatch {
		catalogTerm = 1.0
	}
	score := weightIntervalConsistency*intervalConsistency(gaps, cadence) +
		weightAmountConsistency*amountConsistency(charges) +
		weightOccurrences*occurrenceTerm +
		weightCatalogMatch*catalogTerm
	return math.Max(0, math.Min(1, score))
}

func averageAmount(charges []core.Transaction) float64 {
	sum := 0.0
	for _, txn := range charges {
		sum += txn.Amount
	}
	return math.Round(sum/float64(len(charges))*100) / 100
}

func normalizedSet(payees []string) map[string]struct{} {
	set := make(map[string]struct{}, len(payees))
	for _, payee := range payees {
		if normalized := normalizePayee(payee); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}

type trackedSubscriptions struct {
	payees     map[string]struct{}
	catalogIDs map[string]struct{}
}

func trackedIndex(existing []Subscription) trackedSubscriptions {
	tracked := trackedSubscriptions{
		payees:     make(map[string]struct{}, len(existing)),
		catalogIDs: make(map[string]struct{}, len(existing)),
	}
	for _, sub := range existing {
		if normalized := normalizePayee(sub.Payee); normalized != "" {
			tracked.payees[normalized] = struct{}{}
		}
		if id := strings.TrimSpace(sub.CatalogID); id != "" {
			tracked.catalogIDs[id] = struct{}{}
		}
	}
	return tracked
}

func isAlreadyTracked(tracked trackedSubscriptions, normalizedPayee string, entry *CatalogEntry) bool {
	if _, ok := tracked.payees[normalizedPayee]; ok {
		return true
	}
	if entry != nil {
		if _, ok := tracked.catalogIDs[entry.ID]; ok {
			return true
		}
	}
	return false
}
