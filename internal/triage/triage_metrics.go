package triage

import "github.com/prometheus/client_golang/prometheus"

// Hooks receives run events. Nil fields are skipped.
type Hooks struct {
	OnStart        func(result string)
	OnLLMCall      func(stage Stage, model string, usage TokenUsage, duration float64, err error)
	OnFetch        func(outcome string)
	OnBatchFailure func(stage Stage, size int)
	OnComplete     func(run *Run, duration float64)
}

func (h Hooks) start(result string) {
	if h.OnStart != nil {
		h.OnStart(result)
	}
}

func (h Hooks) llmCall(stage Stage, model string, usage TokenUsage, duration float64, err error) {
	if h.OnLLMCall != nil {
		h.OnLLMCall(stage, model, usage, duration, err)
	}
}

func (h Hooks) batchFailed(stage Stage, size int) {
	if h.OnBatchFailure != nil {
		h.OnBatchFailure(stage, size)
	}
}

func (h Hooks) complete(run *Run, duration float64) {
	if h.OnComplete != nil {
		h.OnComplete(run, duration)
	}
}

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	RunBookmarks       *prometheus.CounterVec
	RunCostUSD         prometheus.Histogram
	StartsTotal        *prometheus.CounterVec
	LLMCallsTotal      *prometheus.CounterVec
	LLMTokensIn        *prometheus.CounterVec
	LLMTokensOut       *prometheus.CounterVec
	LLMDuration        *prometheus.HistogramVec
	LLMCostUSD         prometheus.Counter
	FetchesTotal       *prometheus.CounterVec
	BatchFailuresTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_runs_total",
			Help: "Total triage runs by final status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_triage_run_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~2.3h
		}, []string{"status"}),
		RunBookmarks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_bookmarks_total",
			Help: "Bookmarks processed by triage runs, by outcome.",
		}, []string{"outcome"}),
		RunCostUSD: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sift_triage_run_cost_usd",
			Help:    "Estimated language model cost per triage run in USD.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // $0.001 .. ~$262
		}),
		StartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_starts_total",
			Help: "Run start requests by result.",
		}, []string{"result"}),
		LLMCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_calls_total",
			Help: "Total language model calls by stage and outcome.",
		}, []string{"stage", "outcome"}),
		LLMTokensIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_tokens_input_total",
			Help: "Total prompt tokens consumed.",
		}, []string{"model"}),
		LLMTokensOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_llm_tokens_output_total",
			Help: "Total completion tokens consumed.",
		}, []string{"model"}),
		LLMDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sift_llm_call_duration_seconds",
			Help:    "Duration of individual language model calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 9), // 0.5s .. ~128s
		}, []string{"stage"}),
		LLMCostUSD: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sift_llm_cost_usd_total",
			Help: "Estimated language model cost in USD.",
		}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_page_fetches_total",
			Help: "Page fetches for excerpt acquisition by outcome.",
		}, []string{"outcome"}),
		BatchFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sift_triage_batch_failures_total",
			Help: "Failed language model batches by stage.",
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RunBookmarks,
		m.RunCostUSD,
		m.StartsTotal,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.LLMCostUSD,
		m.FetchesTotal,
		m.BatchFailuresTotal,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnStart: func(result string) {
			m.StartsTotal.WithLabelValues(result).Inc()
		},
		OnLLMCall: func(stage Stage, model string, usage TokenUsage, duration float64, err error) {
			outcome := "success"
			if err != nil {
				outcome = "error"
			}
			m.LLMCallsTotal.WithLabelValues(string(stage), outcome).Inc()
			m.LLMTokensIn.WithLabelValues(model).Add(float64(usage.InputTokens))
			m.LLMTokensOut.WithLabelValues(model).Add(float64(usage.OutputTokens))
			m.LLMDuration.WithLabelValues(string(stage)).Observe(duration)
			m.LLMCostUSD.Add(Cost(model, usage))
		},
		OnFetch: func(outcome string) {
			m.FetchesTotal.WithLabelValues(outcome).Inc()
		},
		OnBatchFailure: func(stage Stage, _ int) {
			m.BatchFailuresTotal.WithLabelValues(string(stage)).Inc()
		},
		OnComplete: func(r *Run, duration float64) {
			m.RunsTotal.WithLabelValues(string(r.Status)).Inc()
			m.RunDuration.WithLabelValues(string(r.Status)).Observe(duration)
			m.RunBookmarks.WithLabelValues("cached").Add(float64(r.Counters.Cached))
			m.RunBookmarks.WithLabelValues("categorized").Add(float64(r.Counters.Categorized))
			m.RunBookmarks.WithLabelValues("uncategorized").Add(float64(r.Counters.Uncategorized))
			m.RunBookmarks.WithLabelValues("failed").Add(float64(r.Counters.Failed))
			m.RunCostUSD.Observe(r.Usage.EstimatedCostUSD)
		},
	}
}
