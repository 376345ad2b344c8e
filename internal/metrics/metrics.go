// Package metrics exposes the dialer engine's Prometheus metrics: active
// call volume, per-campaign predictive dial ratio, and process uptime, per
// SPEC_FULL.md §9's supplemented "/metrics endpoint" feature.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ActiveCallsProvider exposes the number of currently active calls.
type ActiveCallsProvider interface {
	ActiveCallCount(ctx context.Context) (int, error)
}

// CampaignProvider exposes the Dialer Manager's registered-campaign state.
type CampaignProvider interface {
	ActiveCampaigns() []string
	CampaignMode(id string) string
	PredictiveRatio(id string) (float64, bool)
}

// Collector is a prometheus.Collector that gathers dialer engine metrics at
// scrape time, in the teacher's pull-at-scrape-time shape
// (internal/metrics/metrics.go's Collector).
type Collector struct {
	activeCalls ActiveCallsProvider
	campaigns   CampaignProvider
	startTime   time.Time

	activeCallsDesc     *prometheus.Desc
	campaignsActiveDesc *prometheus.Desc
	campaignModeDesc    *prometheus.Desc
	predictiveRatioDesc *prometheus.Desc
	uptimeDesc          *prometheus.Desc
}

// NewCollector creates a new metrics collector. Either provider may be nil
// if unavailable, matching the teacher's nil-provider-skips-metric pattern.
func NewCollector(activeCalls ActiveCallsProvider, campaigns CampaignProvider, startTime time.Time) *Collector {
	return &Collector{
		activeCalls: activeCalls,
		campaigns:   campaigns,
		startTime:   startTime,

		activeCallsDesc: prometheus.NewDesc(
			"dialer_active_calls",
			"Number of currently active (non-terminal) calls",
			nil, nil,
		),
		campaignsActiveDesc: prometheus.NewDesc(
			"dialer_campaigns_active",
			"Number of campaigns with a registered Dialer",
			nil, nil,
		),
		campaignModeDesc: prometheus.NewDesc(
			"dialer_campaign_mode",
			"Registered campaign dial mode (1=this mode, one series per campaign)",
			[]string{"campaign_id", "mode"}, nil,
		),
		predictiveRatioDesc: prometheus.NewDesc(
			"dialer_predictive_ratio",
			"Current dial ratio for a registered predictive campaign",
			[]string{"campaign_id"}, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"dialer_uptime_seconds",
			"Seconds since the dialer engine process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeCallsDesc
	ch <- c.campaignsActiveDesc
	ch <- c.campaignModeDesc
	ch <- c.predictiveRatioDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.activeCalls != nil {
		count, err := c.activeCalls.ActiveCallCount(ctx)
		if err != nil {
			slog.Error("metrics: failed to count active calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.activeCallsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	if c.campaigns != nil {
		ids := c.campaigns.ActiveCampaigns()
		ch <- prometheus.MustNewConstMetric(
			c.campaignsActiveDesc, prometheus.GaugeValue, float64(len(ids)),
		)
		for _, id := range ids {
			mode := c.campaigns.CampaignMode(id)
			ch <- prometheus.MustNewConstMetric(
				c.campaignModeDesc, prometheus.GaugeValue, 1, id, mode,
			)
			if ratio, ok := c.campaigns.PredictiveRatio(id); ok {
				ch <- prometheus.MustNewConstMetric(
					c.predictiveRatioDesc, prometheus.GaugeValue, ratio, id,
				)
			}
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds(),
	)
}
