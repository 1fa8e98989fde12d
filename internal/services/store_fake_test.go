package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/senyabanana/tender-negotiation/internal/models"
	"github.com/senyabanana/tender-negotiation/internal/repository"
)

// fakeState is the whole datastore. Transactions work on a copy that
// replaces the original only on commit.
type fakeState struct {
	seq          int
	requests     map[string]models.Request
	participants map[string]models.Participant
	invitations  map[string]models.InvitationMapping
	messages     map[string]models.Message
	offers       map[string]models.Offer
	items        map[string][]models.OfferLineItem
	cursors      map[string]uint32
}

func newFakeState() *fakeState {
	return &fakeState{
		requests:     map[string]models.Request{},
		participants: map[string]models.Participant{},
		invitations:  map[string]models.InvitationMapping{},
		messages:     map[string]models.Message{},
		offers:       map[string]models.Offer{},
		items:        map[string][]models.OfferLineItem{},
		cursors:      map[string]uint32{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st *fakeState) clone() *fakeState {
	return &fakeState{
		seq:          st.seq,
		requests:     cloneMap(st.requests),
		participants: cloneMap(st.participants),
		invitations:  cloneMap(st.invitations),
		messages:     cloneMap(st.messages),
		offers:       cloneMap(st.offers),
		items:        cloneMap(st.items),
		cursors:      cloneMap(st.cursors),
	}
}

var fakeEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func (st *fakeState) next(kind string) (string, time.Time) {
	st.seq++
	return fmt.Sprintf("%s-%d", kind, st.seq), fakeEpoch.Add(time.Duration(st.seq) * time.Second)
}

type fakeHooks struct {
	mu    sync.Mutex
	fail  map[string]error
	calls map[string]int
	txs   int
}

// fakeStore implements repository.Store and every repository interface on
// top of fakeState. Root stores serialize each call; a tx store holds the
// lock for the whole transaction, which stands in for row locks.
type fakeStore struct {
	mu    *sync.Mutex
	root  *fakeStore
	st    *fakeState
	inTx  bool
	hooks *fakeHooks
}

func newFakeStore() *fakeStore {
	s := &fakeStore{
		mu:    &sync.Mutex{},
		st:    newFakeState(),
		hooks: &fakeHooks{fail: map[string]error{}, calls: map[string]int{}},
	}
	s.root = s
	return s
}

func (s *fakeStore) Requests() repository.RequestRepository         { return s }
func (s *fakeStore) Participants() repository.ParticipantRepository { return s }
func (s *fakeStore) Invitations() repository.InvitationRepository   { return s }
func (s *fakeStore) Messages() repository.MessageRepository         { return s }
func (s *fakeStore) Offers() repository.OfferRepository             { return s }
func (s *fakeStore) Cursors() repository.CursorRepository           { return s }

func (s *fakeStore) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hooks.mu.Lock()
	s.hooks.txs++
	s.hooks.mu.Unlock()

	tx := &fakeStore{mu: s.mu, root: s.root, st: s.st.clone(), inTx: true, hooks: s.hooks}
	if err := fn(tx); err != nil {
		return err
	}
	*s.root.st = *tx.st
	return nil
}

// enter records the call, takes the lock outside transactions and returns
// an injected failure if one is configured for method.
func (s *fakeStore) enter(method string) (func(), error) {
	unlock := func() {}
	if !s.inTx {
		s.mu.Lock()
		unlock = s.mu.Unlock
	}
	s.hooks.mu.Lock()
	s.hooks.calls[method]++
	err := s.hooks.fail[method]
	s.hooks.mu.Unlock()
	return unlock, err
}

func (s *fakeStore) failOn(method string, err error) {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()
	s.hooks.fail[method] = err
}

func (s *fakeStore) callCount(method string) int {
	s.hooks.mu.Lock()
	defer s.hooks.mu.Unlock()
	return s.hooks.calls[method]
}

// --- requests ---

func (s *fakeStore) CreateRequest(_ context.Context, req models.Request) (*models.Request, error) {
	unlock, err := s.enter("CreateRequest")
	defer unlock()
	if err != nil {
		return nil, err
	}
	req.ID, req.CreatedAt = s.st.next("request")
	req.UpdatedAt = req.CreatedAt
	if req.Status == "" {
		req.Status = models.DraftRequest
	}
	s.st.requests[req.ID] = req
	return &req, nil
}

func (s *fakeStore) GetRequest(_ context.Context, requestId string, _ bool) (*models.Request, error) {
	unlock, err := s.enter("GetRequest")
	defer unlock()
	if err != nil {
		return nil, err
	}
	req, ok := s.st.requests[requestId]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &req, nil
}

func (s *fakeStore) GetRequestsByIDs(_ context.Context, ids []string) ([]models.Request, error) {
	unlock, err := s.enter("GetRequestsByIDs")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.Request
	for _, id := range ids {
		if req, ok := s.st.requests[id]; ok {
			out = append(out, req)
		}
	}
	return out, nil
}

func (s *fakeStore) AdvanceRequestStatus(_ context.Context, requestId string, from []models.RequestStatus, to models.RequestStatus) (bool, error) {
	unlock, err := s.enter("AdvanceRequestStatus")
	defer unlock()
	if err != nil {
		return false, err
	}
	req, ok := s.st.requests[requestId]
	if !ok {
		return false, nil
	}
	for _, f := range from {
		if req.Status == f {
			req.Status = to
			s.st.requests[requestId] = req
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) MarkReconciled(_ context.Context, requestId string, at time.Time) error {
	unlock, err := s.enter("MarkReconciled")
	defer unlock()
	if err != nil {
		return err
	}
	req := s.st.requests[requestId]
	req.LastReconciledAt = &at
	s.st.requests[requestId] = req
	return nil
}

func (s *fakeStore) ListRequestsWithNewReplies(_ context.Context) ([]string, error) {
	unlock, err := s.enter("ListRequestsWithNewReplies")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []string
	for id, req := range s.st.requests {
		if req.Status != models.SentRequest && req.Status != models.EvaluatingRequest {
			continue
		}
		for _, m := range s.st.messages {
			if m.RequestID == id && m.Direction == models.InboundMessage &&
				(req.LastReconciledAt == nil || m.CreatedAt.After(*req.LastReconciledAt)) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// --- participants ---

func (s *fakeStore) CreateParticipant(_ context.Context, name, email string) (*models.Participant, error) {
	unlock, err := s.enter("CreateParticipant")
	defer unlock()
	if err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for id, p := range s.st.participants {
		if p.Email == email {
			p.Name = name
			s.st.participants[id] = p
			return &p, nil
		}
	}
	p := models.Participant{Name: name, Email: email}
	p.ID, p.CreatedAt = s.st.next("participant")
	p.UpdatedAt = p.CreatedAt
	s.st.participants[p.ID] = p
	return &p, nil
}

func (s *fakeStore) GetParticipant(_ context.Context, participantId string, _ bool) (*models.Participant, error) {
	unlock, err := s.enter("GetParticipant")
	defer unlock()
	if err != nil {
		return nil, err
	}
	p, ok := s.st.participants[participantId]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) GetParticipantsByIDs(_ context.Context, ids []string) ([]models.Participant, error) {
	unlock, err := s.enter("GetParticipantsByIDs")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.Participant
	for _, id := range ids {
		if p, ok := s.st.participants[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateParticipantStats(_ context.Context, participantId string, stats models.ParticipantStats) error {
	unlock, err := s.enter("UpdateParticipantStats")
	defer unlock()
	if err != nil {
		return err
	}
	p, ok := s.st.participants[participantId]
	if !ok {
		return repository.ErrNotFound
	}
	p.SuccessCount = stats.SuccessCount
	p.TotalCount = stats.TotalCount
	p.AvgScore = stats.AvgScore
	p.AvgDeliveryDays = stats.AvgDeliveryDays
	p.OnTimeRate = stats.OnTimeRate
	p.RejectionCount = stats.RejectionCount
	p.LastAwardedAt = stats.LastAwardedAt
	p.Rating = stats.Rating
	s.st.participants[participantId] = p
	return nil
}

// --- invitations ---

func (s *fakeStore) CreateInvitation(_ context.Context, requestId, participantId string) (*models.InvitationMapping, error) {
	unlock, err := s.enter("CreateInvitation")
	defer unlock()
	if err != nil {
		return nil, err
	}
	for _, m := range s.st.invitations {
		if m.RequestID == requestId && m.ParticipantID == participantId {
			return &m, nil
		}
	}
	m := models.InvitationMapping{RequestID: requestId, ParticipantID: participantId, InviteStatus: models.PendingInvite}
	m.ID, m.CreatedAt = s.st.next("invitation")
	s.st.invitations[m.ID] = m
	return &m, nil
}

func (s *fakeStore) ListInvitations(_ context.Context, requestId string) ([]models.InvitationMapping, error) {
	unlock, err := s.enter("ListInvitations")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.InvitationMapping
	for _, m := range s.st.invitations {
		if m.RequestID == requestId {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) GetInvitationsByTokens(_ context.Context, tokens []string) ([]models.InvitationMapping, error) {
	unlock, err := s.enter("GetInvitationsByTokens")
	defer unlock()
	if err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		want[t] = struct{}{}
	}
	var out []models.InvitationMapping
	for _, m := range s.st.invitations {
		if _, ok := want[m.Token()]; ok && m.Token() != "" {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *fakeStore) AssignReplyToken(_ context.Context, invitationId, token string) (string, error) {
	unlock, err := s.enter("AssignReplyToken")
	defer unlock()
	if err != nil {
		return "", err
	}
	m, ok := s.st.invitations[invitationId]
	if !ok {
		return "", repository.ErrNotFound
	}
	if m.ReplyToken != nil {
		return *m.ReplyToken, nil
	}
	for _, other := range s.st.invitations {
		if other.Token() == token {
			return "", fmt.Errorf("duplicate reply token")
		}
	}
	m.ReplyToken = &token
	s.st.invitations[invitationId] = m
	return token, nil
}

func (s *fakeStore) MarkInvitationSent(_ context.Context, invitationId, messageId string, sentAt time.Time) (bool, error) {
	unlock, err := s.enter("MarkInvitationSent")
	defer unlock()
	if err != nil {
		return false, err
	}
	m, ok := s.st.invitations[invitationId]
	if !ok || (m.InviteStatus != models.PendingInvite && m.InviteStatus != models.FailedInvite) {
		return false, nil
	}
	m.InviteStatus = models.SentInvite
	m.LastMessageID = &messageId
	m.SentAt = &sentAt
	s.st.invitations[invitationId] = m
	return true, nil
}

func (s *fakeStore) MarkInvitationFailed(_ context.Context, invitationId string) (bool, error) {
	unlock, err := s.enter("MarkInvitationFailed")
	defer unlock()
	if err != nil {
		return false, err
	}
	m, ok := s.st.invitations[invitationId]
	if !ok || m.InviteStatus != models.PendingInvite {
		return false, nil
	}
	m.InviteStatus = models.FailedInvite
	s.st.invitations[invitationId] = m
	return true, nil
}

// --- messages ---

func (s *fakeStore) hasProviderID(id string) bool {
	for _, m := range s.st.messages {
		if m.ProviderMessageID == id {
			return true
		}
	}
	return false
}

func (s *fakeStore) ExistingProviderIDs(_ context.Context, providerIds []string) ([]string, error) {
	unlock, err := s.enter("ExistingProviderIDs")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range providerIds {
		if s.hasProviderID(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *fakeStore) InsertInbound(_ context.Context, messages []models.Message) (int, error) {
	unlock, err := s.enter("InsertInbound")
	defer unlock()
	if err != nil {
		return 0, err
	}
	inserted := 0
	for _, msg := range messages {
		if s.hasProviderID(msg.ProviderMessageID) {
			continue
		}
		msg.ID, _ = s.st.next("message")
		msg.Direction = models.InboundMessage
		msg.CreatedAt = time.Now().UTC()
		s.st.messages[msg.ID] = msg
		inserted++
	}
	return inserted, nil
}

func (s *fakeStore) CreateOutbound(_ context.Context, msg models.Message) (*models.Message, error) {
	unlock, err := s.enter("CreateOutbound")
	defer unlock()
	if err != nil {
		return nil, err
	}
	if s.hasProviderID(msg.ProviderMessageID) {
		return nil, fmt.Errorf("duplicate provider_message_id %q", msg.ProviderMessageID)
	}
	msg.ID, msg.CreatedAt = s.st.next("message")
	msg.Direction = models.OutboundMessage
	s.st.messages[msg.ID] = msg
	return &msg, nil
}

func (s *fakeStore) ListInbound(_ context.Context, requestId string) ([]models.Message, error) {
	unlock, err := s.enter("ListInbound")
	defer unlock()
	if err != nil {
		return nil, err
	}
	var out []models.Message
	for _, m := range s.st.messages {
		if m.RequestID == requestId && m.Direction == models.InboundMessage {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}

// --- offers ---

func (s *fakeStore) CreateOffer(_ context.Context, offer models.Offer) (*models.Offer, error) {
	unlock, err := s.enter("CreateOffer")
	defer unlock()
	if err != nil {
		return nil, err
	}
	for _, o := range s.st.offers {
		if o.RequestID == offer.RequestID && o.ParticipantID == offer.ParticipantID && o.Status != models.RejectedOffer {
			return nil, fmt.Errorf("duplicate live offer for participant %s", offer.ParticipantID)
		}
	}
	offer.ID, offer.CreatedAt = s.st.next("offer")
	offer.UpdatedAt = offer.CreatedAt
	offer.Status = models.PendingOffer
	offer.Version = 1
	s.st.offers[offer.ID] = offer
	return &offer, nil
}

func (s *fakeStore) GetOffer(_ context.Context, offerId string, _ bool) (*models.Offer, error) {
	unlock, err := s.enter("GetOffer")
	defer unlock()
	if err != nil {
		return nil, err
	}
	o, ok := s.st.offers[offerId]
	if !ok {
		return nil, repository.ErrNotFound
	}
	o.Items = s.st.items[offerId]
	return &o, nil
}

func (s *fakeStore) GetLiveOffer(_ context.Context, requestId, participantId string, _ bool) (*models.Offer, error) {
	unlock, err := s.enter("GetLiveOffer")
	defer unlock()
	if err != nil {
		return nil, err
	}
	for _, o := range s.st.offers {
		if o.RequestID == requestId && o.ParticipantID == participantId && o.Status != models.RejectedOffer {
			return &o, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *fakeStore) UpdateOffer(_ context.Context, offerId string, data models.OfferData, sourceMessageId *string) (*models.Offer, error) {
	unlock, err := s.enter("UpdateOffer")
	defer unlock()
	if err != nil {
		return nil, err
	}
	o, ok := s.st.offers[offerId]
	if !ok || o.Status != models.PendingOffer {
		return nil, repository.ErrNotFound
	}
	o.TotalPrice = data.TotalPrice
	o.Currency = data.Currency
	o.DeliveryDays = data.DeliveryDays
	o.WarrantyMonths = data.WarrantyMonths
	o.PaymentTerms = data.PaymentTerms
	o.MatchesRequirements = data.MatchesRequirements
	o.Score = data.Score
	o.ScoreRationale = data.ScoreRationale
	o.SourceMessageID = sourceMessageId
	o.Version++
	_, o.UpdatedAt = s.st.next("tick")
	s.st.offers[offerId] = o
	return &o, nil
}

func (s *fakeStore) ReplaceLineItems(_ context.Context, offerId string, items []models.OfferLineItem) ([]models.OfferLineItem, error) {
	unlock, err := s.enter("ReplaceLineItems")
	defer unlock()
	if err != nil {
		return nil, err
	}
	stored := make([]models.OfferLineItem, 0, len(items))
	for _, item := range items {
		item.ID, _ = s.st.next("item")
		item.OfferID = offerId
		stored = append(stored, item)
	}
	s.st.items[offerId] = stored
	return stored, nil
}

func (s *fakeStore) listOffers(match func(models.Offer) bool) []models.Offer {
	var out []models.Offer
	for _, o := range s.st.offers {
		if match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *fakeStore) ListOffersByRequest(_ context.Context, requestId string, _ bool) ([]models.Offer, error) {
	unlock, err := s.enter("ListOffersByRequest")
	defer unlock()
	if err != nil {
		return nil, err
	}
	return s.listOffers(func(o models.Offer) bool { return o.RequestID == requestId }), nil
}

func (s *fakeStore) ListOffersByParticipant(_ context.Context, participantId string) ([]models.Offer, error) {
	unlock, err := s.enter("ListOffersByParticipant")
	defer unlock()
	if err != nil {
		return nil, err
	}
	return s.listOffers(func(o models.Offer) bool { return o.ParticipantID == participantId }), nil
}

func (s *fakeStore) SetOfferStatus(_ context.Context, offerId string, from, to models.OfferStatus) (bool, error) {
	unlock, err := s.enter("SetOfferStatus")
	defer unlock()
	if err != nil {
		return false, err
	}
	o, ok := s.st.offers[offerId]
	if !ok || o.Status != from {
		return false, nil
	}
	if to == models.AwardedOffer {
		for _, other := range s.st.offers {
			if other.RequestID == o.RequestID && other.Status == models.AwardedOffer {
				return false, fmt.Errorf("request %s already has an awarded offer", o.RequestID)
			}
		}
	}
	o.Status = to
	_, o.UpdatedAt = s.st.next("tick")
	s.st.offers[offerId] = o
	return true, nil
}

// --- cursors ---

func (s *fakeStore) GetCursor(_ context.Context, mailbox string) (uint32, error) {
	unlock, err := s.enter("GetCursor")
	defer unlock()
	if err != nil {
		return 0, err
	}
	return s.st.cursors[mailbox], nil
}

func (s *fakeStore) SaveCursor(_ context.Context, mailbox string, lastSeen uint32) error {
	unlock, err := s.enter("SaveCursor")
	defer unlock()
	if err != nil {
		return err
	}
	s.st.cursors[mailbox] = lastSeen
	return nil
}

// --- seeding helpers ---

func (s *fakeStore) seedRequest(status models.RequestStatus) models.Request {
	req, _ := s.CreateRequest(context.Background(), models.Request{
		Title:       "Office chairs",
		Currency:    "USD",
		Items:       []models.RequestItem{{Name: "Chair", Quantity: 10, Unit: "pcs"}},
		IssuerName:  "Acme Procurement",
		IssuerEmail: "buyer@acme.io",
	})
	r := s.st.requests[req.ID]
	r.Status = status
	s.st.requests[req.ID] = r
	return r
}

func (s *fakeStore) seedParticipant(name, email string) models.Participant {
	p, _ := s.CreateParticipant(context.Background(), name, email)
	return *p
}

func (s *fakeStore) seedOffer(requestId, participantId string, status models.OfferStatus, score float64, days int) models.Offer {
	o, err := s.CreateOffer(context.Background(), models.Offer{
		RequestID:     requestId,
		ParticipantID: participantId,
		Currency:      "USD",
		Score:         score,
		DeliveryDays:  &days,
	})
	if err != nil {
		panic(err)
	}
	stored := s.st.offers[o.ID]
	stored.Status = status
	s.st.offers[o.ID] = stored
	return stored
}

func (s *fakeStore) offer(id string) models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.offers[id]
}

func (s *fakeStore) request(id string) models.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.requests[id]
}
