package monitor

import "time"

// RecordBuilder merges application metrics with system process entries
// into normalized ProcessRecords.
//
// The system source wins for name and parent pid; the application source
// wins for cpu, memory, sandboxing and kind, since the host knows its own
// children better than the OS table does.
type RecordBuilder struct {
	resolver *AffinityResolver
	logger   Logger
}

// NewRecordBuilder creates a builder. A nil resolver leaves every
// UIAffinity absent.
func NewRecordBuilder(resolver *AffinityResolver, logger Logger) *RecordBuilder {
	return &RecordBuilder{resolver: resolver, logger: orNop(logger)}
}

// Build joins app and sys by pid using the host's pre-normalized CPU
// percentages. Output order follows app.
func (b *RecordBuilder) Build(app []RawAppMetric, sys []RawSystemProcess) []ProcessRecord {
	return b.BuildWithRates(app, sys, nil, time.Time{}, 0)
}

// BuildWithRates is Build, except that entries carrying a cumulative CPU
// counter are converted to a rate by est, over the time since each pid's
// previous sample taken at at, or over interval when at is zero. A nil
// est falls back to the pre-normalized percentage.
func (b *RecordBuilder) BuildWithRates(app []RawAppMetric, sys []RawSystemProcess, est *CPURateEstimator, at time.Time, interval time.Duration) []ProcessRecord {
	index := make(map[int]RawSystemProcess, len(sys))
	for _, p := range sys {
		if _, dup := index[p.PID]; dup {
			continue
		}
		index[p.PID] = p
	}

	seen := make(map[int]struct{}, len(app))
	records := make([]ProcessRecord, 0, len(app))
	for _, m := range app {
		if _, dup := seen[m.PID]; dup {
			b.logger.Debug("duplicate app metric dropped", "pid", m.PID)
			continue
		}
		seen[m.PID] = struct{}{}

		sp, found := index[m.PID]
		records = append(records, b.record(m, sp, found, est, at, interval))
	}
	return records
}

func (b *RecordBuilder) record(m RawAppMetric, sp RawSystemProcess, found bool, est *CPURateEstimator, at time.Time, interval time.Duration) ProcessRecord {
	kind := m.Kind
	if kind == "" {
		kind = KindUnknown
	}

	cpu := m.CPUPercent
	if est != nil && m.CumulativeCPU > 0 {
		cpu = est.EstimateAt(m.PID, m.CumulativeCPU, at, interval)
	}
	cpu = roundTenth(cpu)

	rec := ProcessRecord{
		PID:            m.PID,
		Kind:           kind,
		DisplayName:    string(kind),
		CPUPercent:     cpu,
		CPUDisplay:     FormatCPU(cpu),
		MemoryBytes:    m.WorkingSetBytes,
		MemoryDisplay:  FormatWorkingSet(m.WorkingSetBytes),
		Sandboxed:      m.Sandboxed,
		StartedAt:      m.CreationTime,
		StartedDisplay: FormatStarted(m.CreationTime),
		Children:       []*ProcessRecord{},
	}
	if m.PrivateBytes > 0 {
		rec.PrivateBytes = m.PrivateBytes
		rec.PrivateDisplay = FormatPrivate(m.PrivateBytes)
	}

	if found {
		if sp.Name != "" {
			rec.DisplayName = sp.Name
		}
		if sp.ParentPID != nil {
			ppid := *sp.ParentPID
			rec.ParentPID = &ppid
		}
	}

	// Affinity is enrichment too: without a system record it stays absent.
	if found && kind.IsContentSurface() {
		osPID := m.PID
		if m.OSProcessID != nil {
			osPID = *m.OSProcessID
		}
		rec.UIAffinity = b.resolver.Resolve(osPID)
	}
	return rec
}
