package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/extraction"
	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/router/config"

	"github.com/rs/zerolog"
)

// stubCompleter answers with the reply registered for the first marker found in the prompt.
// Markers listed in failures fail that many times before answering.
type stubCompleter struct {
	mu       sync.Mutex
	replies  map[string]string
	calls    map[string]int
	failures map[string]int
}

func (c *stubCompleter) Complete(_ context.Context, _, user string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for marker, reply := range c.replies {
		if strings.Contains(user, marker) {
			c.calls[marker]++
			if c.failures[marker] > 0 {
				c.failures[marker]--
				return "", errors.New("completion service unavailable")
			}
			return reply, nil
		}
	}
	return "", errors.New("no scripted reply")
}

func (c *stubCompleter) count(marker string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[marker]
}

type offerFixture struct {
	store     *fakeStore
	completer *stubCompleter
	svc       *OfferService
	request   models.Request
	alpha     models.Participant
	beta      models.Participant
	gamma     models.Participant
}

func newOfferFixture(t *testing.T) *offerFixture {
	t.Helper()
	store := newFakeStore()
	completer := &stubCompleter{
		calls: map[string]int{},
		replies: map[string]string{
			"ALPHA-1": `{"items":[{"name":"Chair","quantity":10,"unit_price":25}],"currency":"usd","delivery_days":10}`,
			"ALPHA-2": `{"items":[{"name":"Chair","quantity":10,"unit_price":24}],"delivery_days":10}`,
			"BETA-1":  "Here you go:\n```json\n{\"items\":[{\"name\":\"Chair\",\"quantity\":10,\"unit_price\":30}],\"delivery_days\":15}\n```",
			"BETA-2":  `{"items":[{"name":"Chair","quantity":10,"unit_price":20}],"delivery_days":5}`,
			"GAMMA-1": "Sorry, I cannot read this reply.",
		},
	}
	extractor, err := extraction.NewExtractor(completer, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewExtractor: %v", err)
	}

	f := &offerFixture{
		store:     store,
		completer: completer,
		svc:       NewOfferService(store, extractor, extraction.NewScorer(config.DefaultScoring()), 5, nil, zerolog.Nop()),
		request:   store.seedRequest(models.SentRequest),
		alpha:     store.seedParticipant("Alpha", "alpha@vendor.io"),
		beta:      store.seedParticipant("Beta", "beta@vendor.io"),
		gamma:     store.seedParticipant("Gamma", "gamma@vendor.io"),
	}
	return f
}

func (f *offerFixture) reply(t *testing.T, p models.Participant, body string, at time.Time) {
	t.Helper()
	_, err := f.store.InsertInbound(context.Background(), []models.Message{{
		RequestID:         f.request.ID,
		ParticipantID:     p.ID,
		ProviderMessageID: body + "@vendor.io",
		FromAddress:       p.Email,
		Body:              body,
		OccurredAt:        at,
	}})
	if err != nil {
		t.Fatalf("InsertInbound: %v", err)
	}
}

func (f *offerFixture) liveOffer(t *testing.T, p models.Participant) models.Offer {
	t.Helper()
	o, err := f.store.GetLiveOffer(context.Background(), f.request.ID, p.ID, false)
	if err != nil {
		t.Fatalf("GetLiveOffer(%s): %v", p.Name, err)
	}
	return *o
}

func TestProcessRepliesCreatesAndUpdatesOffers(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	f.reply(t, f.alpha, "ALPHA-1", base)
	f.reply(t, f.beta, "BETA-1", base.Add(time.Minute))
	f.reply(t, f.gamma, "GAMMA-1", base.Add(2*time.Minute))

	res, err := f.svc.ProcessReplies(ctx, f.request.ID)
	if err != nil {
		t.Fatalf("ProcessReplies: %v", err)
	}
	if res.Created != 2 || res.Failed != 1 || res.Updated != 0 {
		t.Errorf("first run = %+v, want 2 created and 1 failed", res)
	}
	if res.Status != models.EvaluatingRequest || f.store.request(f.request.ID).Status != models.EvaluatingRequest {
		t.Errorf("request status = %s, want evaluating", f.store.request(f.request.ID).Status)
	}

	alpha := f.liveOffer(t, f.alpha)
	beta := f.liveOffer(t, f.beta)
	if alpha.Version != 1 || *alpha.TotalPrice != 250 || alpha.Currency != "USD" {
		t.Errorf("alpha offer = v%d %v %s", alpha.Version, *alpha.TotalPrice, alpha.Currency)
	}
	if alpha.Score != 100 {
		t.Errorf("alpha score = %v, want 100", alpha.Score)
	}
	// (300-250)/250*30 for price and 5 days over the best delivery
	if math.Abs(beta.Score-89) > 1e-9 {
		t.Errorf("beta score = %v, want 89", beta.Score)
	}
	if items := f.store.st.items[alpha.ID]; len(items) != 1 || items[0].Name != "Chair" {
		t.Errorf("alpha line items = %+v", items)
	}

	// nothing new from alpha or beta: their offers are left alone
	res, err = f.svc.ProcessReplies(ctx, f.request.ID)
	if err != nil {
		t.Fatalf("second ProcessReplies: %v", err)
	}
	if res.Unchanged != 2 || res.Created+res.Updated != 0 {
		t.Errorf("second run = %+v, want 2 unchanged", res)
	}
	if f.completer.count("ALPHA-1") != 1 || f.completer.count("BETA-1") != 1 {
		t.Errorf("unchanged replies were extracted again")
	}

	f.reply(t, f.alpha, "ALPHA-2", base.Add(time.Hour))
	res, err = f.svc.ProcessReplies(ctx, f.request.ID)
	if err != nil {
		t.Fatalf("third ProcessReplies: %v", err)
	}
	if res.Updated != 1 || res.Unchanged != 1 {
		t.Errorf("third run = %+v, want 1 updated and 1 unchanged", res)
	}
	updated := f.liveOffer(t, f.alpha)
	if updated.ID != alpha.ID || updated.Version != 2 || *updated.TotalPrice != 240 {
		t.Errorf("alpha offer after update = %s v%d %v", updated.ID, updated.Version, *updated.TotalPrice)
	}
	if items := f.store.st.items[alpha.ID]; len(items) != 1 || *items[0].UnitPrice != 24 {
		t.Errorf("line items not replaced: %+v", items)
	}
	if f.store.request(f.request.ID).LastReconciledAt == nil {
		t.Error("LastReconciledAt not set")
	}
}

func TestProcessRepliesLeavesAwardedOfferUnchanged(t *testing.T) {
	f := newOfferFixture(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)

	f.reply(t, f.beta, "BETA-1", base)
	if _, err := f.svc.ProcessReplies(ctx, f.request.ID); err != nil {
		t.Fatalf("ProcessReplies: %v", err)
	}
	awarded := f.liveOffer(t, f.beta)
	o := f.store.st.offers[awarded.ID]
	o.Status = models.AwardedOffer
	f.store.st.offers[o.ID] = o

	f.reply(t, f.beta, "BETA-2", base.Add(time.Hour))
	res, err := f.svc.ProcessReplies(ctx, f.request.ID)
	if err != nil {
		t.Fatalf("ProcessReplies: %v", err)
	}
	if res.Unchanged != 1 || res.Updated != 0 || res.Created != 0 {
		t.Errorf("result = %+v, want 1 unchanged", res)
	}
	after := f.store.offer(awarded.ID)
	if after.Version != 1 || after.Status != models.AwardedOffer || *after.TotalPrice != 300 {
		t.Errorf("awarded offer changed: v%d %s %v", after.Version, after.Status, *after.TotalPrice)
	}
}

func TestProcessRepliesRollsBack(t *testing.T) {
	f := newOfferFixture(t)
	base := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	f.reply(t, f.alpha, "ALPHA-1", base)
	f.reply(t, f.beta, "BETA-1", base)
	f.store.failOn("MarkReconciled", errors.New("connection lost"))

	if _, err := f.svc.ProcessReplies(context.Background(), f.request.ID); err == nil {
		t.Fatal("ProcessReplies succeeded, want error")
	}
	if len(f.store.st.offers) != 0 {
		t.Errorf("%d offers written by a rolled back reconciliation", len(f.store.st.offers))
	}
	if f.store.request(f.request.ID).Status != models.SentRequest {
		t.Errorf("request status = %s, want sent", f.store.request(f.request.ID).Status)
	}
}

func TestProcessRepliesClosedRequest(t *testing.T) {
	f := newOfferFixture(t)
	req := f.store.seedRequest(models.ClosedRequest)
	if _, err := f.svc.ProcessReplies(context.Background(), req.ID); !errors.Is(err, ErrRequestClosed) {
		t.Fatalf("ProcessReplies = %v, want ErrRequestClosed", err)
	}
}

func TestProcessPending(t *testing.T) {
	f := newOfferFixture(t)
	f.reply(t, f.alpha, "ALPHA-1", time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC))

	results, err := f.svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(results) != 1 || results[0].RequestID != f.request.ID || results[0].Created != 1 {
		t.Fatalf("results = %+v, want one created offer for %s", results, f.request.ID)
	}

	results, err = f.svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("second ProcessPending: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("requests without new replies were reconciled again: %+v", results)
	}
}

func TestProcessPendingRetriesFailedExtraction(t *testing.T) {
	f := newOfferFixture(t)
	f.completer.failures = map[string]int{"ALPHA-1": 1}
	base := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	f.reply(t, f.alpha, "ALPHA-1", base)
	f.reply(t, f.beta, "BETA-1", base.Add(time.Minute))

	results, err := f.svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if len(results) != 1 || results[0].Failed != 1 || results[0].Created != 1 {
		t.Fatalf("first cycle = %+v, want alpha failed and beta created", results)
	}

	results, err = f.svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("second ProcessPending: %v", err)
	}
	if len(results) != 1 || results[0].Created != 1 || results[0].Unchanged != 1 {
		t.Fatalf("second cycle = %+v, want alpha created on retry", results)
	}
	if f.completer.count("ALPHA-1") != 2 || f.completer.count("BETA-1") != 1 {
		t.Errorf("extractions = alpha %d, beta %d, want 2 and 1",
			f.completer.count("ALPHA-1"), f.completer.count("BETA-1"))
	}
	if f.liveOffer(t, f.alpha).Version != 1 {
		t.Error("alpha offer missing after retry")
	}

	results, err = f.svc.ProcessPending(context.Background())
	if err != nil {
		t.Fatalf("third ProcessPending: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("third cycle = %+v, want nothing left to reconcile", results)
	}
}
