package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/engine-watch/internal/config"
	"github.com/sells-group/engine-watch/internal/fetcher"
	"github.com/sells-group/engine-watch/internal/model"
	"github.com/sells-group/engine-watch/internal/monitoring"
	"github.com/sells-group/engine-watch/internal/normalize"
	"github.com/sells-group/engine-watch/internal/notify"
	"github.com/sells-group/engine-watch/internal/source"
	"github.com/sells-group/engine-watch/internal/store"
)

// --- fakes ---

type fakeSource struct {
	name    model.Source
	records []model.RawRecord
	err     error
	panics  bool
	block   bool
}

func (f *fakeSource) Name() model.Source { return f.name }

func (f *fakeSource) URL() string { return "https://example.com/" + strings.ToLower(string(f.name)) }

func (f *fakeSource) Scrape(ctx context.Context, _ fetcher.Fetcher) ([]model.RawRecord, error) {
	switch {
	case f.panics:
		panic("parser exploded")
	case f.block:
		<-ctx.Done()
		return nil, ctx.Err()
	case f.err != nil:
		return nil, f.err
	}
	return f.records, nil
}

type memStore struct {
	mu      sync.Mutex
	snap    model.Snapshot
	loadErr error
	saveErr error
	saves   int
}

func (m *memStore) Load(context.Context) (model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	out := make(model.Snapshot, len(m.snap))
	for k, v := range m.snap {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = snap
	m.saves++
	return nil
}

func (m *memStore) Close() error { return nil }

type sentMessage struct {
	msg              notify.Message
	attachmentExists bool
	attachment       string
}

type recordingNotifier struct {
	sent []sentMessage
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	s := sentMessage{msg: msg}
	if msg.AttachmentPath != "" {
		data, err := os.ReadFile(msg.AttachmentPath)
		s.attachmentExists = err == nil
		s.attachment = string(data)
	}
	n.sent = append(n.sent, s)
	return n.err
}

type fakePublisher struct {
	published []model.Listing
	retired   []string
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, ls []model.Listing) (int, error) {
	p.published = append(p.published, ls...)
	return len(ls), p.err
}

func (p *fakePublisher) Retire(_ context.Context, ids []string) (int, error) {
	p.retired = append(p.retired, ids...)
	return len(ids), nil
}

// --- helpers ---

var runTime = time.Date(2026, 10, 17, 2, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Schedule: config.ScheduleConfig{RunTimes: []string{"04:00"}, Timezone: "Africa/Khartoum"},
		Fetch:    config.FetchConfig{SourceTimeoutSecs: 5},
		Notify:   config.NotifyConfig{Subject: "Engine Scrape Results"},
		Export:   config.ExportConfig{Format: "csv", Dir: t.TempDir()},
	}
}

func aeroRecord(engine, esn string) model.RawRecord {
	return model.RawRecord{
		normalize.AeroEngineType: engine,
		normalize.AeroESN:        esn,
		normalize.AeroLocation:   "USA",
		normalize.AeroContact:    "Jane Doe",
		normalize.AeroPhone:      "+1 555 0100",
		normalize.AeroURL:        "https://www.aeroconnect.com/engine/" + esn,
	}
}

func locRecord(pn string) model.RawRecord {
	return model.RawRecord{
		normalize.LocPartNumber: pn,
		normalize.LocCondition:  "OH",
		normalize.LocLocation:   "Lithuania",
		normalize.LocLink:       "https://www.locatory.com/part/" + pn,
	}
}

func matRecord(engine string) model.RawRecord {
	return model.RawRecord{
		normalize.MATModel:      engine,
		normalize.MATContComm:   "Serviceable engine located in Ireland<br>mailto:sales@example.com?subject=x | +353 1 555",
		normalize.MATAvailable:  "IMM",
		normalize.MATAdType:     "S",
		normalize.MATListingURL: "https://www.myairtrade.com/ad/1",
	}
}

func newRunner(t *testing.T, cfg *config.Config, st store.SnapshotStore, n notify.Notifier, sources []source.Source, opts ...Option) *Runner {
	t.Helper()
	reg := source.NewRegistry()
	for _, s := range sources {
		reg.Register(s)
	}
	r, err := New(cfg, reg, nil, st, n, opts...)
	require.NoError(t, err)
	r.now = func() time.Time { return runTime }
	r.newID = func() string { return "run-1" }
	return r
}

func healthySources() []source.Source {
	return []source.Source{
		&fakeSource{name: model.SourceAeroconnect, records: []model.RawRecord{
			aeroRecord("CFM56-7B24", "890123"),
			aeroRecord("CFM56-7B26", "890456"),
		}},
		&fakeSource{name: model.SourceLocatory, records: []model.RawRecord{locRecord("CFM56-5B4/P")}},
		&fakeSource{name: model.SourceMyAirTrade, records: []model.RawRecord{matRecord("CF6-80C2B6")}},
	}
}

// --- tests ---

func TestRun_FirstRunReportsEverything(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	n := &recordingNotifier{}
	r := newRunner(t, cfg, st, n, healthySources())

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, "Africa/Khartoum", report.StartedAt.Location().String())
	require.NotNil(t, report.Result)
	assert.Equal(t, 4, report.Result.AddedCount())
	assert.Len(t, report.Result.Added[model.SourceAeroconnect], 2)
	assert.Empty(t, report.Result.Removed)
	assert.True(t, report.Committed())
	assert.Len(t, st.snap, 4)

	require.Len(t, n.sent, 1)
	sent := n.sent[0]
	assert.Equal(t, "Engine Scrape Results", sent.msg.Subject)
	assert.True(t, sent.attachmentExists, "attachment must exist while notifying")
	assert.True(t, strings.HasPrefix(sent.attachment, "Engine Model,ESN,"))
	assert.Contains(t, sent.attachment, "CFM56-7B24")
	assert.Equal(t, filepath.Join(cfg.Export.Dir, "new_engines_20261017_040000.csv"), sent.msg.AttachmentPath)
	assert.Contains(t, sent.msg.HTML, "Aeroconnect: Status: Update; 2 new engines")
	assert.Contains(t, sent.msg.HTML, "Scrape Date: 2026-10-17 04:00:00")

	_, statErr := os.Stat(sent.msg.AttachmentPath)
	assert.True(t, os.IsNotExist(statErr), "attachment must be removed after the run")

	// DateFound is the run date in the configured timezone.
	for _, l := range st.snap {
		assert.Equal(t, runTime.In(r.loc).Format(model.DateLayout), l.DateFound)
	}
}

func TestRun_SecondRunIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	n := &recordingNotifier{}
	r := newRunner(t, cfg, st, n, healthySources())

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, report.Result.AddedCount())
	assert.Empty(t, report.Result.Removed)
	assert.Equal(t, 4, report.Result.Unchanged)

	require.Len(t, n.sent, 2)
	assert.Empty(t, n.sent[1].msg.AttachmentPath)
	assert.Contains(t, n.sent[1].msg.HTML, "Aeroconnect: Status: No updates; 0 new engines")
	assert.Contains(t, n.sent[1].msg.HTML, "Removed: 0 engines removed")
}

func TestRun_FailedSourceDoesNotStopOthers(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	n := &recordingNotifier{}
	sources := healthySources()
	sources[1] = &fakeSource{name: model.SourceLocatory, err: errors.New("connection reset")}
	r := newRunner(t, cfg, st, n, sources)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, report.SourceErrors, model.SourceLocatory)
	var fe *source.FetchError
	require.ErrorAs(t, report.SourceErrors[model.SourceLocatory], &fe)
	assert.Equal(t, model.SourceLocatory, fe.Source)

	assert.Equal(t, 3, report.Result.AddedCount())
	assert.Empty(t, report.Result.Added[model.SourceLocatory])
	assert.Equal(t, 2, report.Scraped[model.SourceAeroconnect])
	assert.NotContains(t, report.Scraped, model.SourceLocatory)

	require.Len(t, n.sent, 1)
	require.NotNil(t, n.sent[0].msg.Summary)
	failed := n.sent[0].msg.Summary.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, model.SourceLocatory, failed[0].Source)
	assert.Contains(t, n.sent[0].msg.HTML, "Sources that could not be scraped")
}

func TestRun_FailedSourceListingsRemovedByDefault(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	r := newRunner(t, cfg, st, &recordingNotifier{}, healthySources())
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	sources := healthySources()
	sources[1] = &fakeSource{name: model.SourceLocatory, err: errors.New("timeout")}
	r = newRunner(t, cfg, st, &recordingNotifier{}, sources)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Result.Removed, 1)
	assert.Equal(t, 1, report.Result.RemovedBySource[model.SourceLocatory])
	assert.Len(t, st.snap, 3)
}

func TestRun_RetainFailedSources(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reconcile.RetainFailedSources = true
	st := &memStore{}
	r := newRunner(t, cfg, st, &recordingNotifier{}, healthySources())
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	sources := healthySources()
	sources[1] = &fakeSource{name: model.SourceLocatory, err: errors.New("timeout")}
	r = newRunner(t, cfg, st, &recordingNotifier{}, sources)
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Result.Removed)
	assert.Len(t, st.snap, 4)
}

func TestRun_PanickingSourceIsRecovered(t *testing.T) {
	cfg := testConfig(t)
	sources := healthySources()
	sources[2] = &fakeSource{name: model.SourceMyAirTrade, panics: true}
	r := newRunner(t, cfg, &memStore{}, &recordingNotifier{}, sources)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	var fe *source.FetchError
	require.ErrorAs(t, report.SourceErrors[model.SourceMyAirTrade], &fe)
	assert.Contains(t, fe.Error(), "panic: parser exploded")
	assert.Equal(t, 3, report.Result.AddedCount())
}

func TestRun_SourceTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fetch.SourceTimeoutSecs = 1
	sources := healthySources()
	sources[0] = &fakeSource{name: model.SourceAeroconnect, block: true}
	r := newRunner(t, cfg, &memStore{}, &recordingNotifier{}, sources)

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, report.SourceErrors, model.SourceAeroconnect)
	assert.ErrorIs(t, report.SourceErrors[model.SourceAeroconnect], context.DeadlineExceeded)
	assert.Equal(t, 2, report.Result.AddedCount())
}

func TestRun_ModelFiltersApplied(t *testing.T) {
	cfg := testConfig(t)
	cfg.Filters.ValidEngines = []string{"CFM56-7B"}
	cfg.Filters.DesiredEngines = []string{"PW"}
	r := newRunner(t, cfg, &memStore{}, &recordingNotifier{}, healthySources())

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scraped[model.SourceLocatory])
	assert.Equal(t, 0, report.Accepted[model.SourceLocatory])
	assert.Equal(t, 0, report.Accepted[model.SourceMyAirTrade])
	assert.Equal(t, 2, report.Result.AddedCount())
}

func TestRun_EmptyAggregateSkips(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{snap: model.Snapshot{"k": model.NewListing(model.SourceAeroconnect)}}
	n := &recordingNotifier{}
	r := newRunner(t, cfg, st, n, []source.Source{
		&fakeSource{name: model.SourceAeroconnect, err: errors.New("down")},
		&fakeSource{name: model.SourceLocatory},
	})

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Skipped)
	assert.Nil(t, report.Result)
	assert.Equal(t, 0, st.saves)
	assert.Len(t, st.snap, 1, "stored snapshot left untouched")
	assert.Empty(t, n.sent)
}

func TestRun_CorruptSnapshotIsNotTreatedAsEmpty(t *testing.T) {
	cfg := testConfig(t)
	path := filepath.Join(t.TempDir(), "engine_data_storage.json")
	require.NoError(t, os.WriteFile(path, []byte("not json at all"), 0o644))
	st := store.NewFile(path)
	n := &recordingNotifier{}
	r := newRunner(t, cfg, st, n, healthySources())

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))

	assert.Nil(t, report.Result)
	assert.False(t, report.Committed())

	require.Len(t, n.sent, 1)
	assert.Equal(t, "Engine Scrape Results (failed)", n.sent[0].msg.Subject)
	assert.Contains(t, n.sent[0].msg.HTML, "Engine Scrape Failed")
	assert.Empty(t, n.sent[0].msg.AttachmentPath)

	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, "not json at all", string(data))
}

func TestRun_SaveFailureStillNotifies(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{saveErr: &store.StorageError{Op: "save", Path: "mem", Err: errors.New("disk full")}}
	n := &recordingNotifier{}
	r := newRunner(t, cfg, st, n, healthySources())

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.True(t, store.IsStorageError(err))

	require.NotNil(t, report.Result)
	assert.False(t, report.Result.Committed)
	assert.Equal(t, 4, report.Result.AddedCount())

	require.Len(t, n.sent, 1)
	assert.Contains(t, n.sent[0].msg.HTML, "could not be saved")
	assert.True(t, n.sent[0].attachmentExists)
}

func TestRun_NotificationFailureKeepsCommitAndCleansUp(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	n := &recordingNotifier{err: errors.New("smtp: 421 try later")}
	r := newRunner(t, cfg, st, n, healthySources())

	report, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Committed())
	assert.Len(t, st.snap, 4)

	var ne *notify.NotificationError
	require.ErrorAs(t, report.NotifyErr, &ne)
	assert.Contains(t, ne.Error(), "421")

	require.Len(t, n.sent, 1)
	assert.True(t, n.sent[0].attachmentExists)
	_, statErr := os.Stat(n.sent[0].msg.AttachmentPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_XLSXAttachment(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Format = "xlsx"
	n := &recordingNotifier{}
	r := newRunner(t, cfg, &memStore{}, n, healthySources())

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, n.sent, 1)
	assert.True(t, strings.HasSuffix(n.sent[0].msg.AttachmentPath, ".xlsx"))
	assert.True(t, strings.HasPrefix(n.sent[0].attachment, "PK"))
}

func TestRun_Publisher(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	pub := &fakePublisher{}
	r := newRunner(t, cfg, st, &recordingNotifier{}, healthySources(), WithPublisher(pub))
	_, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, pub.published, 4)
	assert.Empty(t, pub.retired)

	sources := healthySources()
	sources[2] = &fakeSource{name: model.SourceMyAirTrade, records: nil}
	pub.err = errors.New("notion: 502")
	r = newRunner(t, cfg, st, &recordingNotifier{}, sources, WithPublisher(pub))
	report, err := r.Run(context.Background())
	require.NoError(t, err, "publisher failures do not fail the run")

	assert.Len(t, pub.retired, 1)
	assert.Equal(t, 1, report.Retired)
	require.Error(t, report.PublishErr)
	assert.Contains(t, report.PublishErr.Error(), "pipeline: publish added")
}

func TestRun_RecordsMonitoring(t *testing.T) {
	var mu sync.Mutex
	var received []monitoring.Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a monitoring.Alert
		if err := json.NewDecoder(r.Body).Decode(&a); err == nil {
			mu.Lock()
			received = append(received, a)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Monitoring = config.MonitoringConfig{WebhookURL: srv.URL, FailureStreak: 3, StaleAfterHours: 26}
	collector := monitoring.NewCollector()
	alerter := monitoring.NewAlerter(cfg.Monitoring)

	sources := healthySources()
	sources[1] = &fakeSource{name: model.SourceLocatory, err: errors.New("blocked")}
	r := newRunner(t, cfg, &memStore{}, &recordingNotifier{}, sources, WithMonitoring(collector, alerter))

	_, err := r.Run(context.Background())
	require.NoError(t, err)

	h := collector.Collect()
	assert.Equal(t, 1, h.Runs)
	require.NotNil(t, h.LastRun)
	assert.Equal(t, "run-1", h.LastRun.RunID)
	assert.Equal(t, 3, h.LastRun.Added)
	assert.True(t, h.LastRun.Committed)
	assert.Equal(t, 1, h.SourceStreaks["Locatory"])
	assert.Equal(t, 0, h.SourceStreaks["Aeroconnect"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, monitoring.AlertSourceFailure, received[0].Type)
}

func TestRun_DryRunSavesNothing(t *testing.T) {
	cfg := testConfig(t)
	st := &memStore{}
	n := &recordingNotifier{}
	pub := &fakePublisher{}
	collector := monitoring.NewCollector()
	r := newRunner(t, cfg, st, n, healthySources(),
		WithDryRun(), WithPublisher(pub), WithMonitoring(collector, monitoring.NewAlerter(cfg.Monitoring)))

	for range 2 {
		report, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, report.DryRun)
		assert.Equal(t, 4, report.Result.AddedCount(), "unsaved listings are reported again")
		assert.False(t, report.Committed())
		assert.Contains(t, FormatReport(report), "Snapshot: 4 listings (dry run, not saved)")
	}

	assert.Zero(t, st.saves)
	assert.Empty(t, st.snap)
	assert.Len(t, n.sent, 2)
	assert.Empty(t, pub.published)
	assert.Zero(t, collector.Collect().Runs)
}

func TestNew_BadTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.Timezone = "Mars/Olympus"
	_, err := New(cfg, source.NewRegistry(), nil, &memStore{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: location")
}
