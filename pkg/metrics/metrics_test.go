package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	. "github.com/smartystreets/goconvey/convey"
)

func family(registry *prometheus.Registry, name string) *dto.MetricFamily {
	families, err := registry.Gather()
	So(err, ShouldBeNil)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterValue(f *dto.MetricFamily, label, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == label && l.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestManagerOptions(t *testing.T) {
	Convey("Given a manager with custom options", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(
			WithNamespace("test"),
			WithSubsystem("unit"),
			WithHistogramBuckets([]float64{1, 2}),
			WithPrometheusRegistry(registry),
		)

		Convey("Then metrics use the namespace and registry", func() {
			So(m.Registry(), ShouldEqual, registry)
			m.Election(OutcomeAssigned)
			So(family(registry, "test_unit_elections_total"), ShouldNotBeNil)
		})

		Convey("Then empty options keep the defaults", func() {
			d := NewManager(WithNamespace(""), WithSubsystem(""), WithHistogramBuckets(nil), WithPrometheusRegistry(nil))
			So(d.namespace, ShouldEqual, "fair_reviewer")
			So(d.subsystem, ShouldEqual, "bot")
			So(d.Registry(), ShouldNotBeNil)
		})
	})
}

func TestManagerRecording(t *testing.T) {
	Convey("Given a default manager", t, func() {
		m := NewManager()

		Convey("When elections are recorded", func() {
			m.Election(OutcomeAssigned)
			m.Election(OutcomeAssigned)
			m.Election(OutcomeNoCandidate)

			Convey("Then they are counted per outcome", func() {
				f := family(m.Registry(), "fair_reviewer_bot_elections_total")
				So(f, ShouldNotBeNil)
				So(counterValue(f, "outcome", OutcomeAssigned), ShouldEqual, 2)
				So(counterValue(f, "outcome", OutcomeNoCandidate), ShouldEqual, 1)
			})
		})

		Convey("When events and errors are recorded", func() {
			m.Event("sprinkler")
			m.APIError("open_pull_requests")

			Convey("Then both families are exported", func() {
				So(counterValue(family(m.Registry(), "fair_reviewer_bot_events_total"), "source", "sprinkler"), ShouldEqual, 1)
				So(counterValue(family(m.Registry(), "fair_reviewer_bot_github_errors_total"), "operation", "open_pull_requests"), ShouldEqual, 1)
			})
		})

		Convey("When a selection and a sweep are observed", func() {
			m.ObserveSelection(250 * time.Millisecond)
			at := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
			m.SweepCompleted(at)

			Convey("Then the histogram and gauge reflect them", func() {
				h := family(m.Registry(), "fair_reviewer_bot_selection_duration_seconds").GetMetric()[0].GetHistogram()
				So(h.GetSampleCount(), ShouldEqual, 1)
				So(h.GetSampleSum(), ShouldAlmostEqual, 0.25)
				g := family(m.Registry(), "fair_reviewer_bot_last_sweep_timestamp_seconds").GetMetric()[0].GetGauge()
				So(g.GetValue(), ShouldEqual, float64(at.Unix()))
			})
		})

		Convey("When the handler is scraped", func() {
			m.Election(OutcomeDryRun)
			rec := httptest.NewRecorder()
			m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
			body, err := io.ReadAll(rec.Result().Body)

			Convey("Then it serves the text format", func() {
				So(err, ShouldBeNil)
				So(rec.Code, ShouldEqual, http.StatusOK)
				So(strings.Contains(string(body), `fair_reviewer_bot_elections_total{outcome="dry_run"} 1`), ShouldBeTrue)
			})
		})
	})
}
