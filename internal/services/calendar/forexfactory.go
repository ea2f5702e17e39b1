// Package calendar provides the economic-calendar feed for the news blackout gate.
package calendar

import (
	"context"
	"strings"
	"time"

	"SweepTrader/internal/domain/errs"
	"SweepTrader/internal/domain/models"
	"SweepTrader/internal/services/upstream"
	"SweepTrader/pkg/cache"
	"SweepTrader/pkg/guard"
	xhttp "SweepTrader/pkg/http"
	"SweepTrader/pkg/logger"
	"SweepTrader/pkg/util"
)

const cacheKey = "calendar:ff:week"

var tier1Keywords = []string{
	"FOMC", "FEDERAL FUNDS", "CPI", "NFP", "NON-FARM", "INTEREST RATE",
	"EMPLOYMENT CHANGE", "GDP", "INFLATION RATE", "UNEMPLOYMENT RATE",
	"RETAIL SALES", "MANUFACTURING PMI", "SERVICES PMI", "CONSUMER CONFIDENCE",
}

// feedEvent is one row of the weekly calendar JSON.
type feedEvent struct {
	Title    string `json:"title"`
	Country  string `json:"country"`
	Currency string `json:"currency"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Impact   string `json:"impact"`
}

// ForexFactory reads the public weekly calendar feed. The whole week is cached
// for the configured TTL; filtering happens per call.
type ForexFactory struct {
	base  *upstream.HTTPServiceBase
	cache cache.Service
	guard *guard.Guard
	ttl   time.Duration
	log   *logger.Logger
}

func NewForexFactory(base *upstream.HTTPServiceBase, c cache.Service, g *guard.Guard, ttl time.Duration, log *logger.Logger) *ForexFactory {
	if log == nil {
		log = logger.Nop()
	}
	return &ForexFactory{base: base, cache: c, guard: g, ttl: ttl, log: log}
}

// UpcomingHighImpact returns high-impact events for currency whose release is
// within horizon of now, on either side.
func (f *ForexFactory) UpcomingHighImpact(ctx context.Context, currency string, now time.Time, horizon time.Duration) ([]models.NewsEvent, error) {
	feed, err := cache.GetOrLoad(ctx, f.cache, cacheKey, f.ttl, f.fetch)
	if err != nil {
		return nil, errs.Dependency("calendar", err)
	}

	currency = strings.ToUpper(currency)
	var out []models.NewsEvent
	for _, raw := range feed {
		ev, ok := f.normalize(raw)
		if !ok || ev.Currency != currency {
			continue
		}
		if !ev.Severity.HighImpact() || !util.Within(now, ev.Time, horizon) {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *ForexFactory) fetch(ctx context.Context) ([]feedEvent, error) {
	return guard.Call(ctx, f.guard, func(ctx context.Context) ([]feedEvent, error) {
		var feed []feedEvent
		err := f.base.GetJSON(ctx, "", nil, &feed)
		if xhttp.IsClientError(err) {
			return nil, guard.Permanent(err)
		}
		return feed, err
	})
}

func (f *ForexFactory) normalize(raw feedEvent) (models.NewsEvent, bool) {
	at, ok := parseEventTime(raw.Date, raw.Time)
	if !ok {
		f.log.Debug("skipping calendar event with unparseable time",
			logger.String("title", raw.Title), logger.String("date", raw.Date))
		return models.NewsEvent{}, false
	}

	currency := raw.Country
	if currency == "" {
		currency = raw.Currency
	}

	ev := models.NewsEvent{
		Name:     raw.Title,
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
		Tier:     models.NewsOther,
		Severity: severity(raw.Impact),
		Time:     at,
	}
	if isTier1(raw.Title) {
		ev.Tier = models.NewsTier1
		if !ev.Severity.HighImpact() {
			ev.Severity = models.SeverityHigh
		}
		if strings.EqualFold(raw.Impact, "high") {
			ev.Severity = models.SeverityCritical
		}
	}
	return ev, true
}

func severity(impact string) models.Severity {
	switch strings.ToUpper(strings.TrimSpace(impact)) {
	case "HIGH":
		return models.SeverityHigh
	case "LOW", "NON-ECONOMIC", "HOLIDAY":
		return models.SeverityLow
	default:
		return models.SeverityMedium
	}
}

func isTier1(title string) bool {
	t := strings.ToUpper(strings.ReplaceAll(title, "_", " "))
	for _, kw := range tier1Keywords {
		if strings.Contains(t, kw) {
			return true
		}
	}
	return false
}

var eventLayouts = []string{
	time.RFC3339,
	"01-02-2006 3:04pm",
	"2006-01-02 15:04:05",
}

// parseEventTime accepts the ISO timestamp the feed currently serves as well
// as the older split date/time columns. Zone-less values are read as UTC.
func parseEventTime(date, clock string) (time.Time, bool) {
	candidates := []string{strings.TrimSpace(date)}
	if clock != "" {
		candidates = append(candidates, strings.TrimSpace(date+" "+clock))
	}
	for _, v := range candidates {
		if v == "" {
			continue
		}
		for _, layout := range eventLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}
