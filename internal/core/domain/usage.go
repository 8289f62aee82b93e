package domain

// UsageRecord accumulates token counts for one model on one day. Fields are
// only ever incremented, never decremented, and are flushed atomically after
// every completed request.
type UsageRecord struct {
	Requests            int64 `json:"requests"`
	InputTokens         int64 `json:"input_tokens"`
	OutputTokens        int64 `json:"output_tokens"`
	CacheCreationTokens int64 `json:"cache_creation_tokens"`
	CacheReadTokens     int64 `json:"cache_read_tokens"`
	TotalTokens         int64 `json:"total_tokens"`
}

// Add folds delta into r in place.
func (r *UsageRecord) Add(delta UsageRecord) {
	r.Requests += delta.Requests
	r.InputTokens += delta.InputTokens
	r.OutputTokens += delta.OutputTokens
	r.CacheCreationTokens += delta.CacheCreationTokens
	r.CacheReadTokens += delta.CacheReadTokens
	r.TotalTokens += delta.TotalTokens
}

// DailyUsage is the per-day breakdown, itself broken down by model.
type DailyUsage struct {
	Models map[string]*UsageRecord `json:"models"`
}

// UsageFile is the on-disk shape described in spec.md §4.8:
// {summary, by_model, daily, generated_at}.
type UsageFile struct {
	Summary     UsageRecord            `json:"summary"`
	ByModel     map[string]*UsageRecord `json:"by_model"`
	Daily       map[string]*DailyUsage  `json:"daily"`
	GeneratedAt string                  `json:"generated_at"`
}

// NewUsageFile returns an empty skeleton, used when no usage file exists yet.
func NewUsageFile() *UsageFile {
	return &UsageFile{
		ByModel: make(map[string]*UsageRecord),
		Daily:   make(map[string]*DailyUsage),
	}
}

// Record folds delta into the summary, the model bucket and today's daily
// bucket, creating any of them on first occurrence.
func (f *UsageFile) Record(model, day string, delta UsageRecord) {
	f.Summary.Add(delta)

	if f.ByModel == nil {
		f.ByModel = make(map[string]*UsageRecord)
	}
	modelRec, ok := f.ByModel[model]
	if !ok {
		modelRec = &UsageRecord{}
		f.ByModel[model] = modelRec
	}
	modelRec.Add(delta)

	if f.Daily == nil {
		f.Daily = make(map[string]*DailyUsage)
	}
	dailyRec, ok := f.Daily[day]
	if !ok {
		dailyRec = &DailyUsage{Models: make(map[string]*UsageRecord)}
		f.Daily[day] = dailyRec
	}
	dayModelRec, ok := dailyRec.Models[model]
	if !ok {
		dayModelRec = &UsageRecord{}
		dailyRec.Models[model] = dayModelRec
	}
	dayModelRec.Add(delta)
}

// AdaptiveTimeoutState is the responses-pool-only feedback loop state from
// spec.md §4.6. Base deadline lives in config, not here.
type AdaptiveTimeoutState struct {
	ExtraSeconds         int
	ConsecutiveSuccesses int
}
