package trace

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/uber-go/tally/v4"
)

// LogReporter is a tally.StatsReporter that writes every reported metric as
// a logrus entry. Histograms are reported per bucket.
type LogReporter struct {
	Level logrus.Level
}

var _ tally.StatsReporter = LogReporter{}

func (r LogReporter) entry(name string, tags map[string]string) *logrus.Entry {
	fields := logrus.Fields{"metric": name}
	for k, v := range tags {
		fields[k] = v
	}
	return logrus.WithFields(fields)
}

func (r LogReporter) ReportCounter(name string, tags map[string]string, value int64) {
	r.entry(name, tags).WithField("count", value).Log(r.Level)
}

func (r LogReporter) ReportGauge(name string, tags map[string]string, value float64) {
	r.entry(name, tags).WithField("value", value).Log(r.Level)
}

func (r LogReporter) ReportTimer(name string, tags map[string]string, interval time.Duration) {
	r.entry(name, tags).WithField("duration", interval).Log(r.Level)
}

func (r LogReporter) ReportHistogramValueSamples(name string, tags map[string]string,
	_ tally.Buckets, lower, upper float64, samples int64) {
	r.entry(name, tags).WithFields(logrus.Fields{"lower": lower, "upper": upper, "samples": samples}).Log(r.Level)
}

func (r LogReporter) ReportHistogramDurationSamples(name string, tags map[string]string,
	_ tally.Buckets, lower, upper time.Duration, samples int64) {
	r.entry(name, tags).WithFields(logrus.Fields{"lower": lower, "upper": upper, "samples": samples}).Log(r.Level)
}

func (r LogReporter) Capabilities() tally.Capabilities { return r }
func (r LogReporter) Reporting() bool                  { return true }
func (r LogReporter) Tagging() bool                    { return true }
func (r LogReporter) Flush()                           {}

// NewLogScope returns a root scope reporting through LogReporter. Metrics
// are flushed when the returned closer is closed.
func NewLogScope(prefix string, level logrus.Level) (tally.Scope, func() error) {
	scope, closer := tally.NewRootScope(tally.ScopeOptions{
		Prefix:   prefix,
		Reporter: LogReporter{Level: level},
	}, 0)
	return scope, closer.Close
}
