package wallet

import (
	"context"
	"fmt"
	"math"
)

// creditSourceOrder fixes the reporting order of credit sources.
var creditSourceOrder = []Source{
	SourceSubscription,
	SourceOneTimePurchase,
	SourceBonus,
	SourceManualAdjustment,
	SourceSystem,
	SourceRefund,
}

// SourceBreakdown aggregates the credits of one source.
type SourceBreakdown struct {
	Source           Source
	AmountCoins      Coins
	Percent          int
	TransactionCount int
	Entries          []Entry
}

// BreakdownReport attributes every credited coin to its source.
type BreakdownReport struct {
	TotalCreditedCoins Coins
	BySource           []SourceBreakdown
}

// SourceStats summarizes purchases from one paid source.
type SourceStats struct {
	TotalCoins        Coins
	TransactionCount  int
	LastCreditUnixUTC int64
}

// SubscriptionStats is the paid-source view of the credit history.
type SubscriptionStats struct {
	Subscription    SourceStats
	OneTimePurchase SourceStats
}

// EnhancedBalance combines the current balance with the credit breakdown.
type EnhancedBalance struct {
	AvailableCoins Coins
	Breakdown      BreakdownReport
	Summary        string
}

// Breakdown groups the user's credit history by source and computes each
// source's share of total credited coins. Percentages are rounded to the
// nearest integer; a zero total yields zero percentages throughout.
func (service *Service) Breakdown(ctx context.Context, userID UserID) (BreakdownReport, error) {
	credits, err := service.store.ListCreditEntries(ctx, userID)
	if err != nil {
		return BreakdownReport{}, err
	}
	grouped := make(map[Source][]Entry, len(creditSourceOrder))
	var total Coins
	for _, entry := range credits {
		grouped[entry.Source] = append(grouped[entry.Source], entry)
		total += entry.AmountCoins
	}
	report := BreakdownReport{TotalCreditedCoins: total}
	for _, source := range creditSourceOrder {
		entries, ok := grouped[source]
		if !ok {
			continue
		}
		var amount Coins
		for _, entry := range entries {
			amount += entry.AmountCoins
		}
		report.BySource = append(report.BySource, SourceBreakdown{
			Source:           source,
			AmountCoins:      amount,
			Percent:          percentOf(amount, total),
			TransactionCount: len(entries),
			Entries:          entries,
		})
	}
	return report, nil
}

// SubscriptionStats restricts the credit history to the paid sources.
func (service *Service) SubscriptionStats(ctx context.Context, userID UserID) (SubscriptionStats, error) {
	credits, err := service.store.ListCreditEntries(ctx, userID)
	if err != nil {
		return SubscriptionStats{}, err
	}
	var stats SubscriptionStats
	for _, entry := range credits {
		switch entry.Source {
		case SourceSubscription:
			accumulateSourceStats(&stats.Subscription, entry)
		case SourceOneTimePurchase:
			accumulateSourceStats(&stats.OneTimePurchase, entry)
		}
	}
	return stats, nil
}

// EnhancedBalance combines the projected balance, the breakdown, and a
// one-line summary.
func (service *Service) EnhancedBalance(ctx context.Context, userID UserID) (EnhancedBalance, error) {
	balance, err := service.Balance(ctx, userID)
	if err != nil {
		return EnhancedBalance{}, err
	}
	report, err := service.Breakdown(ctx, userID)
	if err != nil {
		return EnhancedBalance{}, err
	}
	return EnhancedBalance{
		AvailableCoins: balance,
		Breakdown:      report,
		Summary:        summarizeBalance(balance, report),
	}, nil
}

func accumulateSourceStats(stats *SourceStats, entry Entry) {
	stats.TotalCoins += entry.AmountCoins
	stats.TransactionCount++
	if entry.CreatedUnixUTC > stats.LastCreditUnixUTC {
		stats.LastCreditUnixUTC = entry.CreatedUnixUTC
	}
}

func percentOf(amount Coins, total Coins) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(amount) * 100 / float64(total)))
}

func summarizeBalance(balance Coins, report BreakdownReport) string {
	if report.TotalCreditedCoins == 0 {
		return fmt.Sprintf("%d coins available, no credits recorded", balance)
	}
	top := report.BySource[0]
	for _, sourceBreakdown := range report.BySource[1:] {
		if sourceBreakdown.AmountCoins > top.AmountCoins {
			top = sourceBreakdown
		}
	}
	return fmt.Sprintf("%d coins available, %d credited overall, top source %s (%d%%)",
		balance, report.TotalCreditedCoins, top.Source, top.Percent)
}
