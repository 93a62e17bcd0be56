package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds the search-pipeline metrics shared by the CLI and the
// HTTP service.
type AppMetrics struct {
	StructuresParsed  CounterVec   // format, status
	ParseDuration     HistogramVec // format
	DomainsFound      HistogramVec // segmenter
	SegmenterFallback CounterVec   // reason

	SearchesTotal  CounterVec   // database, status
	SearchDuration HistogramVec // database
	HitsReturned   HistogramVec // database

	DatabaseLoads   CounterVec // source, status
	DatabaseEntries GaugeVec   // database

	CacheAccess CounterVec // result

	EmbeddingsWritten CounterVec // target

	HTTPRequestsTotal   CounterVec   // method, path, status_code
	HTTPRequestDuration HistogramVec // method, path

	ErrorsTotal CounterVec // component, code
}

var (
	DefaultDurationBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultHitBuckets      = []float64{0, 1, 5, 10, 25, 50, 100, 250, 1000}
	DefaultDomainBuckets   = []float64{1, 2, 3, 4, 6, 8, 12}
)

// NewAppMetrics registers all pipeline metrics on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.StructuresParsed = collector.RegisterCounter("structures_parsed_total", "Structure files parsed", "format", "status")
	m.ParseDuration = collector.RegisterHistogram("structure_parse_duration_seconds", "Structure parse duration", DefaultDurationBuckets, "format")
	m.DomainsFound = collector.RegisterHistogram("domains_per_structure", "Domains produced per structure", DefaultDomainBuckets, "segmenter")
	m.SegmenterFallback = collector.RegisterCounter("segmenter_fallback_total", "Whole-structure fallbacks during domain splitting", "reason")

	m.SearchesTotal = collector.RegisterCounter("searches_total", "Embedding searches", "database", "status")
	m.SearchDuration = collector.RegisterHistogram("search_duration_seconds", "Linear-scan search duration", DefaultDurationBuckets, "database")
	m.HitsReturned = collector.RegisterHistogram("search_hits", "Hits returned per query", DefaultHitBuckets, "database")

	m.DatabaseLoads = collector.RegisterCounter("database_loads_total", "Embedding database loads", "source", "status")
	m.DatabaseEntries = collector.RegisterGauge("database_entries", "Entries in loaded embedding databases", "database")

	m.CacheAccess = collector.RegisterCounter("embedding_cache_access_total", "Query embedding cache accesses", "result")

	m.EmbeddingsWritten = collector.RegisterCounter("embeddings_written_total", "Embeddings persisted by the embed operation", "target")

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", DefaultDurationBuckets, "method", "path")

	m.ErrorsTotal = collector.RegisterCounter("errors_total", "Errors by component and code", "component", "code")
	return m
}

// NewNopAppMetrics returns metrics that record nothing.
func NewNopAppMetrics() *AppMetrics {
	return &AppMetrics{
		StructuresParsed:    noopCounterVec{},
		ParseDuration:       noopHistogramVec{},
		DomainsFound:        noopHistogramVec{},
		SegmenterFallback:   noopCounterVec{},
		SearchesTotal:       noopCounterVec{},
		SearchDuration:      noopHistogramVec{},
		HitsReturned:        noopHistogramVec{},
		DatabaseLoads:       noopCounterVec{},
		DatabaseEntries:     noopGaugeVec{},
		CacheAccess:         noopCounterVec{},
		EmbeddingsWritten:   noopCounterVec{},
		HTTPRequestsTotal:   noopCounterVec{},
		HTTPRequestDuration: noopHistogramVec{},
		ErrorsTotal:         noopCounterVec{},
	}
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func RecordParse(m *AppMetrics, format string, d time.Duration, err error) {
	m.StructuresParsed.WithLabelValues(format, status(err)).Inc()
	m.ParseDuration.WithLabelValues(format).Observe(d.Seconds())
}

func RecordSearch(m *AppMetrics, database string, d time.Duration, hits int, err error) {
	m.SearchesTotal.WithLabelValues(database, status(err)).Inc()
	if err != nil {
		return
	}
	m.SearchDuration.WithLabelValues(database).Observe(d.Seconds())
	m.HitsReturned.WithLabelValues(database).Observe(float64(hits))
}

func RecordDatabaseLoad(m *AppMetrics, source, database string, entries int, err error) {
	m.DatabaseLoads.WithLabelValues(source, status(err)).Inc()
	if err == nil {
		m.DatabaseEntries.WithLabelValues(database).Set(float64(entries))
	}
}

func RecordSplit(m *AppMetrics, segmenter string, domains int, fallbackReason string) {
	m.DomainsFound.WithLabelValues(segmenter).Observe(float64(domains))
	if fallbackReason != "" {
		m.SegmenterFallback.WithLabelValues(fallbackReason).Inc()
	}
}

func RecordEmbeddingsWritten(m *AppMetrics, target string, n int) {
	m.EmbeddingsWritten.WithLabelValues(target).Add(float64(n))
}

func RecordCacheAccess(m *AppMetrics, hit bool) {
	if hit {
		m.CacheAccess.WithLabelValues("hit").Inc()
	} else {
		m.CacheAccess.WithLabelValues("miss").Inc()
	}
}

func RecordHTTPRequest(m *AppMetrics, method, path string, statusCode int, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func RecordError(m *AppMetrics, component, code string) {
	m.ErrorsTotal.WithLabelValues(component, code).Inc()
}
