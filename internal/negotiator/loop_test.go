package negotiator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/parleyhq/parley/internal/budget"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/money"
	"github.com/parleyhq/parley/internal/rate"
	"github.com/parleyhq/parley/internal/thread"
	"github.com/parleyhq/parley/internal/trigger"
	"github.com/parleyhq/parley/internal/validate"
	"github.com/parleyhq/parley/pkg/decision"
)

// mockIntents counts calls and returns a canned classification.
type mockIntents struct {
	calls  int
	result llm.IntentResult
	err    error
}

func (m *mockIntents) ClassifyIntent(_ context.Context, _, _ string) (llm.IntentResult, error) {
	m.calls++
	return m.result, m.err
}

// mockDrafter counts calls and returns a canned draft.
type mockDrafter struct {
	calls int
	draft llm.Draft
	err   error
}

func (m *mockDrafter) ComposeDraft(_ context.Context, _ llm.DraftRequest) (llm.Draft, error) {
	m.calls++
	return m.draft, m.err
}

// mockSignals satisfies the trigger engine's batched classifier.
type mockSignals struct {
	calls  int
	report llm.SignalReport
}

func (m *mockSignals) ClassifyTriggerSignals(_ context.Context, _ string) (llm.SignalReport, error) {
	m.calls++
	return m.report, nil
}

// fixture bundles a loop with its mocks and a live machine in
// awaiting_reply, ready for an inbound message.
type fixture struct {
	loop    *Loop
	intents *mockIntents
	drafter *mockDrafter
	signals *mockSignals
	machine *thread.Machine
	tracker *budget.Tracker
}

func counterDraft(amount string) llm.Draft {
	return llm.Draft{
		Text: "Hi Jordan, thanks for the quick reply. We can move to $" + amount +
			" for the dedicated video, payable on delivery. Let me know if that works.",
		Model: "test-model",
	}
}

func newFixture(t *testing.T, intent llm.IntentResult, draft llm.Draft) *fixture {
	t.Helper()

	evaluator, err := rate.NewEvaluator(money.MustParse("20"), money.MustParse("30"), money.MustParse("5"))
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	tracker := budget.NewTracker("camp-1", money.MustParse("20"), money.MustParse("30"), 10)

	f := &fixture{
		intents: &mockIntents{result: intent},
		drafter: &mockDrafter{draft: draft},
		signals: &mockSignals{},
		machine: thread.NewMachine(),
		tracker: tracker,
	}
	if _, err := f.machine.Apply(thread.EventSendOffer); err != nil {
		t.Fatalf("seeding machine: %v", err)
	}

	f.loop = NewLoop(
		f.intents,
		f.drafter,
		trigger.NewEngine(trigger.DefaultConfig(), f.signals),
		evaluator,
		tracker,
		validate.Gate{},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	return f
}

func testContext() *Context {
	return &Context{
		ThreadID:            "thr-1",
		CounterpartyName:    "Jordan",
		Platform:            "youtube",
		Views:               50000,
		Deliverables:        []string{"dedicated video"},
		DeliverablesSummary: "one dedicated video",
		Summary:             "initial offer of $1000 sent",
	}
}

func TestRoundCapEscalatesWithoutAnyCalls(t *testing.T) {
	f := newFixture(t, llm.IntentResult{}, llm.Draft{})

	out, err := f.loop.Process(context.Background(), Request{
		Text:     "counter",
		Context:  testContext(),
		Machine:  f.machine,
		Round:    5,
		RoundCap: 5,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionEscalate || out.Reason != decision.ReasonRoundCap {
		t.Errorf("outcome = %s/%s, want escalate/round_cap", out.Action, out.Reason)
	}
	if f.intents.calls != 0 || f.drafter.calls != 0 || f.signals.calls != 0 {
		t.Errorf("collaborators called (%d, %d, %d), want zero calls at the cap",
			f.intents.calls, f.drafter.calls, f.signals.calls)
	}
	if f.machine.State() != thread.StateAwaitingReply {
		t.Errorf("state = %s, round cap must not move the machine", f.machine.State())
	}
}

func TestLowConfidenceRemapsToUnclear(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.55,
		ProposedAmount: amountPtr("1400"),
	}, llm.Draft{})

	out, err := f.loop.Process(context.Background(), Request{
		Text: "maybe, depends", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionEscalate || out.Reason != decision.ReasonUnclearIntent {
		t.Errorf("outcome = %s/%s, want escalate/unclear_intent", out.Action, out.Reason)
	}
	if out.Intent.Intent != llm.IntentUnclear {
		t.Errorf("intent = %s, want the remapped unclear", out.Intent.Intent)
	}
	if f.drafter.calls != 0 {
		t.Error("no draft should be attempted on unclear intent")
	}
	if f.machine.State() != thread.StateAwaitingReply {
		t.Errorf("state = %s, unclear intent must not move the machine", f.machine.State())
	}
}

func TestAcceptAppliesAcceptEvent(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentAccept,
		Confidence:     0.95,
		ProposedAmount: amountPtr("1000"),
	}, llm.Draft{})

	out, err := f.loop.Process(context.Background(), Request{
		Text: "deal, let's do it", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionAccept {
		t.Errorf("action = %s, want accept", out.Action)
	}
	if !out.OfferAmount.Equal(money.MustParse("1000")) {
		t.Errorf("offerAmount = %s, want 1000.00", out.OfferAmount)
	}
	if f.machine.State() != thread.StateAgreed {
		t.Errorf("state = %s, want agreed", f.machine.State())
	}
	if f.drafter.calls != 0 {
		t.Error("accept must not draft")
	}
}

func TestMultiRoundNegotiationClosesOnAccept(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.9,
		ProposedAmount: amountPtr("1400"),
	}, counterDraft("1,500.00"))
	ctxt := testContext()

	out, err := f.loop.Process(context.Background(), Request{
		Text: "can you do $1400?", Context: ctxt, Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("round 1 Process: %v", err)
	}
	if out.Action != decision.ActionSend {
		t.Fatalf("round 1 action = %s, want send", out.Action)
	}
	if !ctxt.LastOffer.Equal(money.MustParse("1500")) {
		t.Errorf("outstanding offer after send = %s, want 1500.00", ctxt.LastOffer)
	}

	// The counterparty accepts the counter while the thread sits in
	// counter_sent.
	f.intents.result = llm.IntentResult{
		Intent:         llm.IntentAccept,
		Confidence:     0.95,
		ProposedAmount: amountPtr("1500"),
	}
	out, err = f.loop.Process(context.Background(), Request{
		Text: "deal at $1500", Context: ctxt, Machine: f.machine, Round: out.Round,
	})
	if err != nil {
		t.Fatalf("round 2 Process: %v", err)
	}
	if out.Action != decision.ActionAccept {
		t.Fatalf("round 2 action = %s, want accept", out.Action)
	}
	if !out.OfferAmount.Equal(money.MustParse("1500")) {
		t.Errorf("agreed amount = %s, want 1500.00", out.OfferAmount)
	}
	if f.machine.State() != thread.StateAgreed {
		t.Errorf("state = %s, want agreed", f.machine.State())
	}
}

func TestRejectAfterCounterSent(t *testing.T) {
	f := newFixture(t, llm.IntentResult{Intent: llm.IntentReject, Confidence: 0.92}, llm.Draft{})
	for _, ev := range []thread.Event{thread.EventReceiveReply, thread.EventSendCounter} {
		if _, err := f.machine.Apply(ev); err != nil {
			t.Fatalf("advancing machine: %v", err)
		}
	}

	out, err := f.loop.Process(context.Background(), Request{
		Text: "we'll pass, thanks", Context: testContext(), Machine: f.machine, Round: 2,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionReject {
		t.Errorf("action = %s, want reject", out.Action)
	}
	if f.machine.State() != thread.StateRejected {
		t.Errorf("state = %s, want rejected", f.machine.State())
	}
}

func TestAcceptFromStaleThread(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentAccept,
		Confidence:     0.95,
		ProposedAmount: amountPtr("1000"),
	}, llm.Draft{})
	if _, err := f.machine.Apply(thread.EventTimeout); err != nil {
		t.Fatalf("advancing machine: %v", err)
	}

	out, err := f.loop.Process(context.Background(), Request{
		Text: "sorry for the delay, the offer works", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionAccept {
		t.Errorf("action = %s, want accept", out.Action)
	}
	if f.machine.State() != thread.StateAgreed {
		t.Errorf("state = %s, want agreed", f.machine.State())
	}
}

func TestBareAcceptClosesAtOutstandingOffer(t *testing.T) {
	f := newFixture(t, llm.IntentResult{Intent: llm.IntentAccept, Confidence: 0.95}, llm.Draft{})
	ctxt := testContext()
	ctxt.LastOffer = money.MustParse("1000")

	out, err := f.loop.Process(context.Background(), Request{
		Text: "sounds good, let's do it", Context: ctxt, Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionAccept {
		t.Fatalf("action = %s, want accept", out.Action)
	}
	if !out.OfferAmount.Equal(money.MustParse("1000")) {
		t.Errorf("offerAmount = %s, want the outstanding 1000.00", out.OfferAmount)
	}
	if f.machine.State() != thread.StateAgreed {
		t.Errorf("state = %s, want agreed", f.machine.State())
	}
}

func TestCounterFromCounterReceivedDoesNotReplayReply(t *testing.T) {
	// A failed validation leaves the machine in counter_received; the retry
	// must price a counter without recording the reply twice.
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.9,
		ProposedAmount: amountPtr("1400"),
	}, counterDraft("1,500.00"))
	if _, err := f.machine.Apply(thread.EventReceiveReply); err != nil {
		t.Fatalf("advancing machine: %v", err)
	}

	out, err := f.loop.Process(context.Background(), Request{
		Text: "can you do $1400?", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionSend {
		t.Fatalf("action = %s, want send", out.Action)
	}
	if f.machine.State() != thread.StateCounterSent {
		t.Errorf("state = %s, want counter_sent", f.machine.State())
	}
}

func TestRejectAppliesRejectEvent(t *testing.T) {
	f := newFixture(t, llm.IntentResult{Intent: llm.IntentReject, Confidence: 0.92}, llm.Draft{})

	out, err := f.loop.Process(context.Background(), Request{
		Text: "not interested, thanks", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionReject {
		t.Errorf("action = %s, want reject", out.Action)
	}
	if f.machine.State() != thread.StateRejected {
		t.Errorf("state = %s, want rejected", f.machine.State())
	}
}

func TestTriggerFiredEscalatesBeforeStateChange(t *testing.T) {
	f := newFixture(t, llm.IntentResult{Intent: llm.IntentCounterOffer, Confidence: 0.9}, llm.Draft{})
	f.signals.report = llm.SignalReport{Legal: llm.Signal{Detected: true, Evidence: "our legal team"}}

	out, err := f.loop.Process(context.Background(), Request{
		Text: "our legal team will review", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionEscalate || out.Reason != decision.ReasonTriggerFired {
		t.Errorf("outcome = %s/%s, want escalate/trigger_fired", out.Action, out.Reason)
	}
	if len(out.Triggers) != 1 || out.Triggers[0].Rule != trigger.RuleLegalLanguage {
		t.Errorf("triggers = %+v", out.Triggers)
	}
	if f.machine.State() != thread.StateAwaitingReply {
		t.Errorf("state = %s, trigger stop must not move the machine", f.machine.State())
	}
	if f.drafter.calls != 0 {
		t.Error("no draft on a trigger stop")
	}
}

func TestCeilingOverrunEscalatesWithoutDrafting(t *testing.T) {
	// $50,000 over 50,000 views implies $1000/1k against a $30/1k ceiling.
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.93,
		ProposedAmount: amountPtr("50000"),
	}, llm.Draft{})
	// Keep the price trigger out of the way so the boundary path decides.
	cfg := trigger.DefaultConfig()
	cfg.PriceOverThreshold.Enabled = false
	f.loop.triggers = trigger.NewEngine(cfg, f.signals)

	out, err := f.loop.Process(context.Background(), Request{
		Text: "our rate is $50,000", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionEscalate || out.Reason != decision.ReasonBoundaryExceeded {
		t.Errorf("outcome = %s/%s, want escalate/boundary_exceeded", out.Action, out.Reason)
	}
	if out.Pricing == nil || out.Pricing.Band != rate.BandExceedsCeiling {
		t.Errorf("pricing = %+v, want exceeds_ceiling evidence", out.Pricing)
	}
	if f.drafter.calls != 0 {
		t.Error("drafter must not be called on a boundary overrun")
	}
	if f.machine.State() != thread.StateEscalated {
		t.Errorf("state = %s, want escalated", f.machine.State())
	}
}

func TestCounterOfferHappyPath(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.9,
		ProposedAmount: amountPtr("1400"),
	}, counterDraft("1,500.00"))

	out, err := f.loop.Process(context.Background(), Request{
		Text: "can you do $1400?", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionSend {
		t.Fatalf("action = %s, want send (%+v)", out.Action, out)
	}
	// Ceiling 30/1k at 50000 views with no premiums: counter is 1500.00.
	if !out.OfferAmount.Equal(money.MustParse("1500")) {
		t.Errorf("offerAmount = %s, want 1500.00", out.OfferAmount)
	}
	if out.Round != 2 {
		t.Errorf("round = %d, want incremented to 2", out.Round)
	}
	if out.Draft == nil || out.Draft.Text == "" {
		t.Error("send outcome must carry the draft")
	}
	if out.Validation == nil || !out.Validation.Pass {
		t.Errorf("validation = %+v, want pass", out.Validation)
	}
	if out.Pricing == nil || out.Pricing.Band != rate.BandWithinRange {
		t.Errorf("pricing = %+v, want within_range", out.Pricing)
	}
	if f.machine.State() != thread.StateCounterSent {
		t.Errorf("state = %s, want counter_sent", f.machine.State())
	}
	if f.intents.calls != 1 || f.drafter.calls != 1 || f.signals.calls != 1 {
		t.Errorf("collaborator calls = (%d, %d, %d), want one each",
			f.intents.calls, f.drafter.calls, f.signals.calls)
	}
}

func TestQuestionStillPricesACounter(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:     llm.IntentQuestion,
		Confidence: 0.88,
	}, counterDraft("1,500.00"))

	out, err := f.loop.Process(context.Background(), Request{
		Text: "does that include editing?", Context: testContext(), Machine: f.machine, Round: 2,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionSend {
		t.Fatalf("action = %s, want send", out.Action)
	}
	if out.Pricing != nil {
		t.Errorf("pricing = %+v, want none without a proposed amount", out.Pricing)
	}
	if f.machine.State() != thread.StateCounterSent {
		t.Errorf("state = %s, want counter_sent", f.machine.State())
	}
}

func TestValidationFailureEscalatesWithoutSending(t *testing.T) {
	bad := counterDraft("1,500.00")
	bad.Text += " We also guarantee front-page placement."
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.9,
		ProposedAmount: amountPtr("1400"),
	}, bad)

	out, err := f.loop.Process(context.Background(), Request{
		Text: "can you do $1400?", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionEscalate || out.Reason != decision.ReasonValidationFailed {
		t.Errorf("outcome = %s/%s, want escalate/validation_failed", out.Action, out.Reason)
	}
	if out.Validation == nil || out.Validation.Pass {
		t.Errorf("validation = %+v, want failing result attached", out.Validation)
	}
	if out.Draft == nil {
		t.Error("failing draft must be attached as evidence")
	}
	if f.machine.State() != thread.StateCounterReceived {
		t.Errorf("state = %s, failed validation must not record send_counter", f.machine.State())
	}
}

func TestBudgetPremiumsRaiseTheCounter(t *testing.T) {
	f := newFixture(t, llm.IntentResult{
		Intent:         llm.IntentCounterOffer,
		Confidence:     0.9,
		ProposedAmount: amountPtr("1450"),
	}, llm.Draft{})
	// One earlier agreement at 25/1k frees (30-25)*1/9 of headroom; with
	// the 8% engagement tier the allowed price rises above the ceiling.
	f.tracker.RecordAgreement(money.MustParse("25"), nil)
	engagement := 4.0
	ctxt := testContext()
	ctxt.EngagementRate = &engagement

	flex := f.tracker.Flexibility(&engagement)
	wantCounter, err := rate.Rate(ctxt.Views, flex.MaxAllowed)
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	f.drafter.draft = counterDraft(wantCounter.String())

	out, err := f.loop.Process(context.Background(), Request{
		Text: "I usually charge $1450", Context: ctxt, Machine: f.machine, Round: 1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Action != decision.ActionSend {
		t.Fatalf("action = %s, want send (%+v)", out.Action, out.Validation)
	}
	if !out.OfferAmount.Equal(wantCounter) {
		t.Errorf("offerAmount = %s, want %s", out.OfferAmount, wantCounter)
	}
	if !wantCounter.GreaterThan(money.MustParse("1500")) {
		t.Errorf("premiums should lift the counter above the 1500.00 baseline, got %s", wantCounter)
	}
}

func TestClassifierFailurePropagates(t *testing.T) {
	f := newFixture(t, llm.IntentResult{}, llm.Draft{})
	f.intents.err = llm.ErrProviderDown

	_, err := f.loop.Process(context.Background(), Request{
		Text: "hello", Context: testContext(), Machine: f.machine, Round: 1,
	})
	if !errors.Is(err, llm.ErrProviderDown) {
		t.Errorf("got %v, want wrapped ErrProviderDown", err)
	}
	if f.machine.State() != thread.StateAwaitingReply {
		t.Errorf("state = %s, failure must not move the machine", f.machine.State())
	}
}

func TestNilContextIsAnError(t *testing.T) {
	f := newFixture(t, llm.IntentResult{}, llm.Draft{})
	if _, err := f.loop.Process(context.Background(), Request{Text: "x", Machine: f.machine}); !errors.Is(err, ErrNilContext) {
		t.Errorf("got %v, want ErrNilContext", err)
	}
}

func amountPtr(s string) *money.Amount {
	a := money.MustParse(s)
	return &a
}
