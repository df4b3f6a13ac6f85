package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seamline-io/conveyor/artifact"
	"github.com/seamline-io/conveyor/collab"
	"github.com/seamline-io/conveyor/ledger"
	"github.com/seamline-io/conveyor/metrics"
	"github.com/seamline-io/conveyor/reconcile"
	"github.com/seamline-io/conveyor/store"
	"github.com/seamline-io/conveyor/store/file"
	"github.com/seamline-io/conveyor/types"
)

const (
	testDate  = types.RunDate("2026-03-14")
	priorDate = types.RunDate("2026-03-13")
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type env struct {
	items store.ItemStore
	led   *ledger.Memory
	arts  *artifact.Memory
	col   *metrics.Collector
	deps  Deps
	cfg   Config

	fetches  atomic.Int64
	selects  atomic.Int64
	drafts   atomic.Int64
	delivers atomic.Int64
}

func defaultCandidates() []collab.Candidate {
	var out []collab.Candidate
	for i := 1; i <= 5; i++ {
		out = append(out, collab.Candidate{
			SourceID: fmt.Sprintf("src-%d", i),
			Title:    fmt.Sprintf("Headline %d", i),
			URL:      fmt.Sprintf("https://news.example.com/story-%d", i),
			Summary:  "summary",
			Source:   "rss",
		})
	}
	return out
}

func newEnv(t *testing.T) *env {
	t.Helper()
	items, err := file.Open(filepath.Join(t.TempDir(), "items.mp"), 0)
	if err != nil {
		t.Fatalf("open item store: %v", err)
	}
	e := &env{
		items: items,
		led:   ledger.NewMemory(),
		arts:  artifact.NewMemory(),
		col:   metrics.NewCollector("file", "memory", "memory"),
	}
	e.cfg = Config{
		ScoreThreshold:     6.5,
		MaxBatchItems:      8,
		MaxAttempts:        3,
		Backoff:            time.Millisecond,
		CallTimeout:        time.Second,
		StaleAfter:         30 * time.Minute,
		MaxFreePerDay:      24,
		MaxPaidPerDay:      1,
		TopicCooldownDays:  7,
		SelectLookbackDays: 3,
	}
	e.deps = Deps{
		Items:     e.items,
		Ledger:    e.led,
		Artifacts: e.arts,
		Collector: e.col,
		Connector: collab.ConnectorFunc(func(context.Context, string) ([]collab.Candidate, error) {
			e.fetches.Add(1)
			return defaultCandidates(), nil
		}),
		Scorer: collab.ScorerFunc(func(context.Context, string, string) (types.Scores, error) {
			return types.Scores{
				types.MetricRelevance: 8,
				types.MetricAsymmetry: 8,
				types.MetricPotential: 8,
			}, nil
		}),
		Selector: collab.SelectorFunc(func(_ context.Context, items []types.Item, mode string) (types.Selection, error) {
			e.selects.Add(1)
			keys := make([]string, 0, len(items))
			for _, it := range items {
				keys = append(keys, it.DedupKey)
			}
			return types.Selection{
				Topic:      "quiet-compounders",
				Candidates: []string{"quiet-compounders", "second-order-bets"},
				Headlines:  []string{"A", "B"},
				Outline:    "1. lead\n2. body",
				ItemKeys:   keys,
			}, nil
		}),
		Drafter: collab.DrafterFunc(func(_ context.Context, sel types.Selection) (collab.Draft, error) {
			e.drafts.Add(1)
			return collab.Draft{Title: sel.Topic, Body: "draft body for " + sel.Topic}, nil
		}),
		Renderer: collab.RendererFunc(func(_ context.Context, d collab.Draft) ([]byte, error) {
			return []byte("# " + d.Title + "\n\n" + d.Body), nil
		}),
		Delivery: collab.DeliveryFunc(func(_ context.Context, date types.RunDate, _ string, _ []byte) (string, error) {
			e.delivers.Add(1)
			return "msg-" + string(date), nil
		}),
	}
	return e
}

func (e *env) coordinator() *Coordinator {
	co := New(e.deps, e.cfg)
	co.SetClock(func() time.Time { return testNow })
	return co
}

// runStages runs ingest then select so generate has its preconditions.
func (e *env) runThroughSelect(t *testing.T, co *Coordinator) {
	t.Helper()
	ctx := context.Background()
	if rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("ingest: %+v err=%v", rep, err)
	}
	if rep, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("select: %+v err=%v", rep, err)
	}
}

func TestRun_ContractViolations(t *testing.T) {
	co := newEnv(t).coordinator()
	ctx := context.Background()

	if _, err := co.Run(ctx, "deploy", testDate, types.RunOptions{}); err == nil {
		t.Error("invalid stage should error")
	}
	if _, err := co.Run(ctx, types.StageIngest, "14-03-2026", types.RunOptions{}); err == nil {
		t.Error("invalid date should error")
	}
	if _, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{Mode: "turbo"}); err == nil {
		t.Error("invalid mode should error")
	}
}

func TestRun_IdempotentReplay(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	first, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil || first.Status != types.RunSucceeded {
		t.Fatalf("first run: %+v err=%v", first, err)
	}
	fetchesAfterFirst := e.fetches.Load()

	second, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Replayed || second.Status != types.RunSucceeded {
		t.Errorf("second run should replay: %+v", second)
	}
	if second.AttemptID != first.AttemptID {
		t.Errorf("replay attempt = %d, want %d", second.AttemptID, first.AttemptID)
	}
	if len(second.ArtifactRefs) != len(first.ArtifactRefs) || second.ArtifactRefs[0] != first.ArtifactRefs[0] {
		t.Errorf("replay refs = %v, want %v", second.ArtifactRefs, first.ArtifactRefs)
	}
	if e.fetches.Load() != fetchesAfterFirst {
		t.Errorf("replay performed collaborator calls: %d fetches", e.fetches.Load())
	}
}

func TestRun_BusyWhileFreshRunning(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	if _, err := e.led.Begin(ctx, testDate, types.StageIngest, time.Hour, ledger.BeginMeta{}); err != nil {
		t.Fatalf("seed running attempt: %v", err)
	}

	rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != types.RunBusy {
		t.Errorf("status = %s, want busy", rep.Status)
	}
	if e.fetches.Load() != 0 {
		t.Errorf("busy run must not call collaborators")
	}
}

func TestRun_StaleRunningRecovered(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	// A running record started 45 minutes before the clock now.
	e.led.SetClock(func() time.Time { return testNow.Add(-45 * time.Minute) })
	crashed, err := e.led.Begin(ctx, testDate, types.StageIngest, time.Hour, ledger.BeginMeta{})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	e.led.SetClock(func() time.Time { return testNow })

	rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != types.RunSucceeded || rep.AttemptID != crashed.AttemptID+1 {
		t.Fatalf("report = %+v", rep)
	}

	attempts, _ := e.led.Attempts(ctx, testDate, types.StageIngest)
	if attempts[0].State != types.StateFailed {
		t.Errorf("stale attempt should be marked failed, got %s", attempts[0].State)
	}
}

func TestRun_ForceRerunSupersedesOnlyOnSuccess(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	first, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil || first.Status != types.RunSucceeded {
		t.Fatalf("first: %+v err=%v", first, err)
	}

	// Forced re-run that fails must leave the prior success authoritative.
	e.deps.Connector = collab.ConnectorFunc(func(context.Context, string) ([]collab.Candidate, error) {
		return nil, Permanentf("feed gone")
	})
	co = e.coordinator()
	failed, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{ForceRerun: true})
	if err != nil || failed.Status != types.RunFailed {
		t.Fatalf("forced failing rerun: %+v err=%v", failed, err)
	}
	latest, ok, _ := ledger.LatestSucceeded(ctx, e.led, testDate, types.StageIngest)
	if !ok || latest.AttemptID != first.AttemptID || latest.Superseded {
		t.Fatalf("prior success should survive a failed force-rerun: %+v ok=%v", latest, ok)
	}

	// Forced re-run that succeeds supersedes it.
	e.deps.Connector = collab.ConnectorFunc(func(context.Context, string) ([]collab.Candidate, error) {
		return defaultCandidates(), nil
	})
	co = e.coordinator()
	forced, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{ForceRerun: true})
	if err != nil || forced.Status != types.RunSucceeded {
		t.Fatalf("forced rerun: %+v err=%v", forced, err)
	}
	attempts, _ := e.led.Attempts(ctx, testDate, types.StageIngest)
	if !attempts[0].Superseded {
		t.Errorf("original success should now be superseded")
	}
	if latest, _, _ := ledger.LatestSucceeded(ctx, e.led, testDate, types.StageIngest); latest.AttemptID != forced.AttemptID {
		t.Errorf("latest = %+v, want attempt %d", latest, forced.AttemptID)
	}
}

func TestIngest_DuplicatesAcrossDaysStayOut(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	// Prior day admitted two of the five candidate URLs.
	cands := defaultCandidates()
	for _, prior := range cands[:2] {
		item := types.Item{
			SourceID: prior.SourceID,
			DedupKey: types.DedupKeyFor(prior.URL, prior.Title),
			Title:    prior.Title,
			URL:      prior.URL,
			Status:   types.ItemAdmitted,
			SeenAt:   testNow.AddDate(0, 0, -1),
		}
		if inserted, err := e.items.PutIfAbsent(ctx, item); err != nil || !inserted {
			t.Fatalf("seed prior item: inserted=%v err=%v", inserted, err)
		}
	}

	rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("ingest: %+v err=%v", rep, err)
	}

	s := e.col.Snapshot()
	if s.ItemsAdmitted != 3 {
		t.Errorf("ItemsAdmitted = %d, want 3", s.ItemsAdmitted)
	}
	if s.ItemsRejectedDuplicate != 2 {
		t.Errorf("ItemsRejectedDuplicate = %d, want 2", s.ItemsRejectedDuplicate)
	}

	all, _ := e.items.List(ctx)
	if len(all) != 5 {
		t.Errorf("item store holds %d items, want 5 (2 prior + 3 new)", len(all))
	}
}

func TestSelect_TransientFailuresRetryToAttemptThree(t *testing.T) {
	e := newEnv(t)
	var calls atomic.Int64
	e.deps.Selector = collab.SelectorFunc(func(_ context.Context, items []types.Item, _ string) (types.Selection, error) {
		if calls.Add(1) <= 2 {
			return types.Selection{}, Transientf("model overloaded")
		}
		return types.Selection{Topic: "late-bloomer", ItemKeys: []string{items[0].DedupKey}}, nil
	})
	co := e.coordinator()
	ctx := context.Background()

	if rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("ingest: %+v err=%v", rep, err)
	}

	rep, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rep.Status != types.RunSucceeded {
		t.Fatalf("status = %s cause=%q", rep.Status, rep.Cause)
	}
	if rep.AttemptID != 3 {
		t.Errorf("attempt = %d, want 3", rep.AttemptID)
	}

	attempts, _ := e.led.Attempts(ctx, testDate, types.StageSelect)
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts", len(attempts))
	}
	if attempts[0].State != types.StateFailed || attempts[1].State != types.StateFailed {
		t.Errorf("first two attempts should be failed")
	}
	if attempts[2].State != types.StateSucceeded {
		t.Errorf("third attempt should be succeeded")
	}
}

func TestSelect_TransientFailuresExhaustCap(t *testing.T) {
	e := newEnv(t)
	e.deps.Selector = collab.SelectorFunc(func(context.Context, []types.Item, string) (types.Selection, error) {
		return types.Selection{}, Transientf("model overloaded")
	})
	co := e.coordinator()
	ctx := context.Background()

	if rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("ingest: %+v err=%v", rep, err)
	}
	rep, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rep.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}
	attempts, _ := e.led.Attempts(ctx, testDate, types.StageSelect)
	if len(attempts) != 3 {
		t.Errorf("got %d attempts, want cap of 3", len(attempts))
	}
}

func TestSelect_PermanentFailureNotRetried(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	// No ingest ran: no admitted items is a permanent input error.
	rep, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rep.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}
	if !strings.Contains(rep.Cause, "no admitted items") {
		t.Errorf("cause = %q", rep.Cause)
	}
	attempts, _ := e.led.Attempts(ctx, testDate, types.StageSelect)
	if len(attempts) != 1 {
		t.Errorf("permanent failure should not retry, got %d attempts", len(attempts))
	}
	if e.selects.Load() != 0 {
		t.Errorf("selector should not be called without admitted items")
	}
}

func TestSelect_ModePersistedOnRecord(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	if rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("ingest: %+v err=%v", rep, err)
	}
	if rep, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{Mode: types.ModeLite}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("select: %+v err=%v", rep, err)
	}

	rec, ok, _ := ledger.LatestSucceeded(ctx, e.led, testDate, types.StageSelect)
	if !ok || rec.Mode != types.ModeLite {
		t.Errorf("record mode = %q, want lite", rec.Mode)
	}
}

func TestSelect_TopicCooldownFallsBackToCandidate(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	// The prior day already published the selector's favorite topic.
	priorSel, _ := e.arts.Put(ctx, priorDate, types.StageSelect, "selection.json",
		[]byte(`{"topic":"quiet-compounders"}`))
	rec, err := e.led.Begin(ctx, priorDate, types.StageSelect, time.Hour, ledger.BeginMeta{})
	if err != nil {
		t.Fatalf("seed prior select: %v", err)
	}
	if _, err := e.led.Finish(ctx, priorDate, types.StageSelect, rec.AttemptID, types.StateSucceeded, "", []types.ArtifactRef{priorSel}); err != nil {
		t.Fatalf("seed prior select: %v", err)
	}

	e.runThroughSelect(t, co)

	sel, ok, err := co.loadSelection(ctx, testDate)
	if err != nil || !ok {
		t.Fatalf("load selection: ok=%v err=%v", ok, err)
	}
	if sel.Topic != "second-order-bets" {
		t.Errorf("topic = %q, want cooldown fallback second-order-bets", sel.Topic)
	}
}

func TestSelect_AllTopicsCoolingFails(t *testing.T) {
	e := newEnv(t)
	e.deps.Selector = collab.SelectorFunc(func(_ context.Context, items []types.Item, _ string) (types.Selection, error) {
		return types.Selection{Topic: "quiet-compounders", Candidates: []string{"quiet-compounders"}}, nil
	})
	co := e.coordinator()
	ctx := context.Background()

	priorSel, _ := e.arts.Put(ctx, priorDate, types.StageSelect, "selection.json",
		[]byte(`{"topic":"quiet-compounders"}`))
	rec, _ := e.led.Begin(ctx, priorDate, types.StageSelect, time.Hour, ledger.BeginMeta{})
	e.led.Finish(ctx, priorDate, types.StageSelect, rec.AttemptID, types.StateSucceeded, "", []types.ArtifactRef{priorSel})

	if rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("ingest: %+v err=%v", rep, err)
	}
	rep, err := co.Run(ctx, types.StageSelect, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if rep.Status != types.RunFailed || !strings.Contains(rep.Cause, "cooldown") {
		t.Errorf("report = %+v, want cooldown failure", rep)
	}
}

func TestGenerate_RequiresSucceededSelect(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()

	rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if rep.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}
	if !strings.Contains(rep.Cause, "no succeeded select record") {
		t.Errorf("cause = %q", rep.Cause)
	}
	if e.drafts.Load() != 0 {
		t.Errorf("drafter must not run without a selection")
	}
	attempts, _ := e.led.Attempts(ctx, testDate, types.StageGenerate)
	if len(attempts) != 1 {
		t.Errorf("precondition failure should not retry, got %d attempts", len(attempts))
	}
}

func TestGenerate_FreeDocumentDelivered(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{})
	if err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("generate: %+v err=%v", rep, err)
	}
	if e.delivers.Load() != 1 {
		t.Errorf("delivers = %d, want 1", e.delivers.Load())
	}
	if !hasRefPrefix(rep.ArtifactRefs, deliveryRefPrefix) {
		t.Errorf("refs missing delivery token: %v", rep.ArtifactRefs)
	}
}

func TestGenerate_PaidReportHeldForReview(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{Paid: true})
	if err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("paid generate: %+v err=%v", rep, err)
	}
	if e.delivers.Load() != 0 {
		t.Errorf("paid report must not auto-deliver")
	}
	if hasRefPrefix(rep.ArtifactRefs, deliveryRefPrefix) || hasRefPrefix(rep.ArtifactRefs, ackRefPrefix) {
		t.Errorf("paid refs should hold only the report before ack: %v", rep.ArtifactRefs)
	}

	// Acknowledgment arrives later and lands on the same record.
	updated, err := co.AcknowledgeDelivery(ctx, testDate, "review-7731")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !hasRefPrefix(updated.ArtifactRefs, ackRefPrefix) {
		t.Errorf("ack ref missing: %v", updated.ArtifactRefs)
	}

	// Duplicate acknowledgment is a no-op.
	again, err := co.AcknowledgeDelivery(ctx, testDate, "review-9999")
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if len(again.ArtifactRefs) != len(updated.ArtifactRefs) {
		t.Errorf("duplicate ack appended refs: %v", again.ArtifactRefs)
	}
}

func TestGenerate_PaidDescriptorMarksReviewHold(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{Paid: true})
	if err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("paid generate: %+v err=%v", rep, err)
	}

	var descRef types.ArtifactRef
	for _, ref := range rep.ArtifactRefs {
		if strings.HasSuffix(string(ref), "report.json") {
			descRef = ref
		}
	}
	if descRef == "" {
		t.Fatalf("refs missing report descriptor: %v", rep.ArtifactRefs)
	}

	data, err := e.arts.Get(ctx, descRef)
	if err != nil {
		t.Fatalf("read descriptor: %v", err)
	}
	var desc types.Artifact
	if err := json.Unmarshal(data, &desc); err != nil {
		t.Fatalf("decode descriptor: %v", err)
	}
	if !desc.RequiresHumanReview {
		t.Error("paid report descriptor must require human review")
	}
	if desc.Kind != types.ArtifactKindReport {
		t.Errorf("descriptor kind = %q, want %q", desc.Kind, types.ArtifactKindReport)
	}
	if !strings.HasSuffix(string(desc.Ref), "report.md") {
		t.Errorf("descriptor ref = %q, want the stored report", desc.Ref)
	}
	if desc.Bytes <= 0 {
		t.Errorf("descriptor bytes = %d", desc.Bytes)
	}
}

func TestGenerate_PaidDailyLimit(t *testing.T) {
	e := newEnv(t)
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	if rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{Paid: true}); err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("first paid: %+v err=%v", rep, err)
	}

	rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{Paid: true, ForceRerun: true})
	if err != nil {
		t.Fatalf("second paid: %v", err)
	}
	if rep.Status != types.RunFailed || !strings.Contains(rep.Cause, "paid publish limit") {
		t.Errorf("report = %+v, want paid limit failure", rep)
	}
}

func TestGenerate_TopicOverrideForPaid(t *testing.T) {
	e := newEnv(t)
	var draftedTopic string
	e.deps.Drafter = collab.DrafterFunc(func(_ context.Context, sel types.Selection) (collab.Draft, error) {
		draftedTopic = sel.Topic
		return collab.Draft{Title: sel.Topic, Body: "body"}, nil
	})
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	rep, err := co.Run(ctx, types.StageGenerate, testDate, types.RunOptions{Paid: true, Topic: "commissioned-deep-dive"})
	if err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("paid generate: %+v err=%v", rep, err)
	}
	if draftedTopic != "commissioned-deep-dive" {
		t.Errorf("drafted topic = %q", draftedTopic)
	}
}

func TestRun_CancellationMarksFailed(t *testing.T) {
	e := newEnv(t)
	e.deps.Connector = collab.ConnectorFunc(func(ctx context.Context, _ string) ([]collab.Candidate, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	co := e.coordinator()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	rep, err := co.Run(ctx, types.StageIngest, testDate, types.RunOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != types.RunFailed {
		t.Fatalf("status = %s, want failed", rep.Status)
	}

	attempts, _ := e.led.Attempts(context.Background(), testDate, types.StageIngest)
	if len(attempts) != 1 || !attempts[0].State.Terminal() {
		t.Errorf("cancelled attempt must land terminal, got %+v", attempts)
	}
}

func TestAudit_RunsThroughCoordinator(t *testing.T) {
	e := newEnv(t)
	e.deps.Auditor = reconcile.New(e.items, e.led, e.arts, e.deps.Scorer, reconcile.Config{
		QualityThreshold: 6.0,
		SampleArtifacts:  2,
		StaleItemDays:    3,
	}, e.col)
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	rep, err := co.Run(ctx, types.StageAudit, testDate, types.RunOptions{})
	if err != nil || rep.Status != types.RunSucceeded {
		t.Fatalf("audit: %+v err=%v", rep, err)
	}
	if len(rep.ArtifactRefs) != 1 {
		t.Fatalf("audit refs = %v", rep.ArtifactRefs)
	}
	records, _ := e.led.AuditRecords(ctx, testDate)
	if len(records) != 1 {
		t.Errorf("audit records = %d, want 1", len(records))
	}
}

func TestAudit_NeverReplaysAndSeesRepairs(t *testing.T) {
	e := newEnv(t)
	e.deps.Auditor = reconcile.New(e.items, e.led, e.arts, nil, reconcile.Config{}, e.col)
	co := e.coordinator()
	ctx := context.Background()
	e.runThroughSelect(t, co)

	// Break the select artifact: the first audit must report it missing.
	selRec, ok, _ := ledger.LatestSucceeded(ctx, e.led, testDate, types.StageSelect)
	if !ok {
		t.Fatal("no succeeded select record")
	}
	selRef := selRec.ArtifactRefs[0]
	selData, err := e.arts.Get(ctx, selRef)
	if err != nil {
		t.Fatalf("read selection: %v", err)
	}
	e.arts.Delete(selRef)

	first, err := co.Run(ctx, types.StageAudit, testDate, types.RunOptions{})
	if err != nil || first.Status != types.RunSucceeded {
		t.Fatalf("first audit: %+v err=%v", first, err)
	}
	records, _ := e.led.AuditRecords(ctx, testDate)
	if len(records) != 1 || !hasFinding(records[0].Findings, types.FindingMissingArtifact) {
		t.Fatalf("first audit should record the missing artifact: %+v", records)
	}

	// Repair the artifact and audit again. Re-putting under the same address
	// yields the same ref.
	restored, err := e.arts.Put(ctx, testDate, types.StageSelect, "selection.json", selData)
	if err != nil || restored != selRef {
		t.Fatalf("restore selection: ref=%s err=%v", restored, err)
	}

	second, err := co.Run(ctx, types.StageAudit, testDate, types.RunOptions{})
	if err != nil || second.Status != types.RunSucceeded {
		t.Fatalf("second audit: %+v err=%v", second, err)
	}
	if second.Replayed {
		t.Error("audit must never replay a prior attempt")
	}
	if second.AttemptID == first.AttemptID {
		t.Errorf("second audit reused attempt %d", second.AttemptID)
	}

	records, _ = e.led.AuditRecords(ctx, testDate)
	if len(records) != 2 {
		t.Fatalf("audit records = %d, want 2 (fresh record per invocation)", len(records))
	}
	if records[0].Seq >= records[1].Seq {
		t.Errorf("audit seqs not ascending: %d, %d", records[0].Seq, records[1].Seq)
	}
	if hasFinding(records[1].Findings, types.FindingMissingArtifact) {
		t.Errorf("repaired artifact still reported missing: %+v", records[1].Findings)
	}
}

func hasFinding(findings []types.AuditFinding, kind types.FindingKind) bool {
	for _, f := range findings {
		if f.Kind == kind {
			return true
		}
	}
	return false
}
