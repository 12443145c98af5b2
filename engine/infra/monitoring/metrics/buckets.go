package metrics

// HTTPDurationBuckets defines latency buckets for HTTP request duration metrics.
var HTTPDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// RunDurationBuckets covers agent runs, which are bounded by the hard timeout.
var RunDurationBuckets = []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600}

// StreamDurationBuckets covers whole SSE responses, including retry delays.
var StreamDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600}
