package syncpeer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/cybersemics/treecrdt-sub002/internal/logging"
	"github.com/cybersemics/treecrdt-sub002/internal/metrics"
	"github.com/cybersemics/treecrdt-sub002/opauth"
	"github.com/cybersemics/treecrdt-sub002/riblt"
	"github.com/cybersemics/treecrdt-sub002/transport"
	"github.com/cybersemics/treecrdt-sub002/wire"
)

// State is a session's position in the §4.8 state machine.
type State int

const (
	StateStart State = iota
	StateHelloSent
	StateHelloAcked
	StateReconciling
	StateTransferring
	StateDone
	StateUnauthorized
)

// Backend is the subset of a storage backend (§6.1) a sync session needs.
type Backend interface {
	opauth.TreeReader
	OpRefsAll() []ids.OpRef
	OpRefsChildren(parent ids.NodeID) []ids.OpRef
	OpsGet(refs []ids.OpRef) []*wire.SignedOperation
	AppendMany(sops []*wire.SignedOperation) ([]ids.OpRef, error)
	MetaHeadLamport() uint64
}

const maxRoundsPerFilter = 8
const codewordsPerMessage = 32

// defaultSubscriptionInterval is used when a Subscribe request sets
// interval_ms to 0: poll for newly-appended local ops at this cadence in
// addition to waking immediately on NotifyLocalUpdate.
const defaultSubscriptionInterval = 5 * time.Second

// Session drives one side of a sync peer protocol conversation (§4.8) over
// a transport.Duplex. PeerTokens are the capability tokens already
// established as belonging to the remote peer (session-level
// authentication is out of this protocol's scope); they gate both
// incoming filter acceptance and outgoing op hiding.
type Session struct {
	conn       transport.Duplex
	codec      Codec
	wireCodec  wire.Codec
	docID      []byte
	backend    Backend
	peerTokens []*capability.Token
	state      State
	metrics    *metrics.Metrics
	log        *logging.Logger

	// subs tracks long-running subscriptions this session is streaming to
	// (when acting as the responding side of a Subscribe) or has itself
	// established updates on a pull-based basis, because the owning
	// application calls NotifyLocalUpdate after every local append (§4.8).
	subs *Subscriptions
}

func NewSession(conn transport.Duplex, codec Codec, wireCodec wire.Codec, docID []byte, backend Backend, peerTokens []*capability.Token) *Session {
	return &Session{
		conn: conn, codec: codec, wireCodec: wireCodec, docID: docID, backend: backend, peerTokens: peerTokens,
		state: StateStart, log: logging.Nop(), subs: NewSubscriptions(),
	}
}

// WithMetrics attaches an instrument bundle; nil (the default) disables
// metrics entirely.
func (s *Session) WithMetrics(m *metrics.Metrics) *Session {
	s.metrics = m
	return s
}

// WithLogger attaches a logger for session lifecycle events; the default is
// a no-op logger.
func (s *Session) WithLogger(l *logging.Logger) *Session {
	s.log = l
	return s
}

// NotifyLocalUpdate wakes every subscription this session is streaming so
// each re-checks its filter for newly appended ops (§4.8). The owning
// application calls this after every local append to the backend this
// session reads from.
func (s *Session) NotifyLocalUpdate() {
	s.subs.NotifyLocalUpdate()
}

func (s *Session) State() State { return s.state }

func (s *Session) send(ctx context.Context, msg *Message) error {
	msg.V = 0
	msg.DocID = s.docID
	data, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	return s.conn.Send(ctx, data)
}

func (s *Session) recv(ctx context.Context) (*Message, error) {
	data, err := s.conn.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return s.codec.Decode(data)
}

// RunInitiator drives the initiator side of one session: Hello, then for
// every accepted filter reconcile via RIBLT and transfer the resulting
// missing ops in both directions.
func (s *Session) RunInitiator(ctx context.Context, filters []Filter) error {
	s.log.Info("syncpeer: session start (initiator)", zap.Int("filter_count", len(filters)))
	s.state = StateHelloSent
	hello := &Hello{Capabilities: []string{"v0"}, Filters: filters, MaxLamport: s.backend.MetaHeadLamport()}
	if err := s.send(ctx, &Message{Kind: KindHello, Hello: hello}); err != nil {
		return err
	}

	ack, err := s.recv(ctx)
	if err != nil {
		return err
	}
	if ack.Kind != KindHelloAck || ack.HelloAck == nil {
		return fmt.Errorf("syncpeer: expected HelloAck, got kind %d", ack.Kind)
	}
	s.state = StateHelloAcked

	accepted := make(map[string]bool, len(ack.HelloAck.AcceptedFilters))
	for _, id := range ack.HelloAck.AcceptedFilters {
		accepted[id] = true
	}

	for _, f := range filters {
		if !accepted[f.ID] {
			continue
		}
		if err := s.reconcileFilter(ctx, f); err != nil {
			return err
		}
	}
	s.state = StateDone
	s.log.Info("syncpeer: session done (initiator)")
	return nil
}

// RunResponder drives the responder side: receive Hello, authorize each
// filter, send HelloAck, then mirror reconciliation for accepted filters.
func (s *Session) RunResponder(ctx context.Context) error {
	msg, err := s.recv(ctx)
	if err != nil {
		return err
	}
	if msg.Kind != KindHello || msg.Hello == nil {
		return fmt.Errorf("syncpeer: expected Hello, got kind %d", msg.Kind)
	}
	s.state = StateHelloSent

	var acceptedIDs []string
	var rejected []RejectedFilter
	var acceptedFilters []Filter
	for _, f := range msg.Hello.Filters {
		if s.authorizeFilter(f) {
			acceptedIDs = append(acceptedIDs, f.ID)
			acceptedFilters = append(acceptedFilters, f)
		} else {
			s.log.Warn("syncpeer: filter rejected, peer lacks read_structure scope", zap.String("filter_id", f.ID))
			rejected = append(rejected, RejectedFilter{ID: f.ID, Reason: ErrUnauthorized})
		}
	}

	ack := &HelloAck{
		Capabilities:    []string{"v0"},
		AcceptedFilters: acceptedIDs,
		RejectedFilters: rejected,
		MaxLamport:      s.backend.MetaHeadLamport(),
	}
	if err := s.send(ctx, &Message{Kind: KindHelloAck, HelloAck: ack}); err != nil {
		return err
	}
	s.state = StateHelloAcked

	for _, f := range acceptedFilters {
		if err := s.reconcileFilter(ctx, f); err != nil {
			return err
		}
	}
	s.state = StateDone
	s.log.Info("syncpeer: session done (responder)")
	return nil
}

// authorizeFilter checks §4.6's filter-authorization rule: `{all}` needs a
// doc-wide read_structure grant (root unset, no exclude, no depth bound);
// `{children: parent}` needs scope to evaluate Allow at parent with
// read_structure.
func (s *Session) authorizeFilter(f Filter) bool {
	for _, tok := range s.peerTokens {
		for _, g := range tok.Claims.GrantsForDoc(string(s.docID)) {
			if !hasReadStructure(g) {
				continue
			}
			if f.All {
				if g.Res.Root == nil && len(g.Res.Exclude) == 0 && g.Res.MaxDepth == nil {
					return true
				}
				continue
			}
			if f.Parent != nil && opauth.EvaluateScope(s.backend, g.Res, *f.Parent) == opauth.Allow {
				return true
			}
		}
	}
	return false
}

func hasReadStructure(g capability.Grant) bool {
	for _, a := range g.Actions {
		if a == capability.ActionReadStructure {
			return true
		}
	}
	return false
}

// filterRoot resolves a Filter to the op_ref set it covers locally.
func (s *Session) filterRefs(f Filter) []ids.OpRef {
	if f.All {
		return s.backend.OpRefsAll()
	}
	return s.backend.OpRefsChildren(*f.Parent)
}

// reconcileFilter runs RIBLT to completion for one filter, then transfers
// the discovered missing ops in both directions. The initiator and
// responder run identical logic; convergence doesn't depend on who
// started the session.
func (s *Session) reconcileFilter(ctx context.Context, f Filter) error {
	s.state = StateReconciling
	localRefs := s.filterRefs(f)
	if s.metrics != nil {
		s.metrics.SyncSessionsStarted.Inc()
	}
	enc := riblt.NewEncoder([]byte(f.ID), 0, localRefs)
	dec := riblt.NewDecoder([]byte(f.ID), 0, localRefs)

	var start int64
	var result riblt.DecodeResult
	for round := 0; round < maxRoundsPerFilter && !result.Decoded; round++ {
		if s.metrics != nil {
			s.metrics.RibltRounds.Inc()
		}
		window := enc.Codewords(start, codewordsPerMessage)
		wireWindow := make([]CodedSymbolWire, len(window))
		for i, c := range window {
			wireWindow[i] = CodedSymbolWire{Count: c.Count, KeySum: c.KeySum, ValueSum: c.ValueSum}
		}
		if err := s.send(ctx, &Message{Kind: KindRibltCodewords, RibltCodewords: &RibltCodewords{
			FilterID: f.ID, Round: uint32(round), StartIndex: start, Codewords: wireWindow,
		}}); err != nil {
			return err
		}

		peerMsg, err := s.recv(ctx)
		if err != nil {
			return err
		}
		if peerMsg.Kind != KindRibltCodewords || peerMsg.RibltCodewords == nil {
			return fmt.Errorf("syncpeer: expected RibltCodewords, got kind %d", peerMsg.Kind)
		}
		peerWindow := make([]riblt.CodedSymbol, len(peerMsg.RibltCodewords.Codewords))
		for i, c := range peerMsg.RibltCodewords.Codewords {
			peerWindow[i] = riblt.CodedSymbol{Count: c.Count, KeySum: c.KeySum, ValueSum: c.ValueSum}
		}
		result = dec.AddPeerCodewords(peerMsg.RibltCodewords.StartIndex, peerWindow)
		start += int64(codewordsPerMessage)
	}

	status := riblt.FromDecodeResult(result, int(start))
	if err := s.send(ctx, &Message{Kind: KindRibltStatus, RibltStatus: ribltStatusToWire(f.ID, status)}); err != nil {
		return err
	}
	if !status.Success {
		s.log.Warn("syncpeer: riblt round budget exhausted", zap.String("filter_id", f.ID), zap.Int64("codewords_sent", start))
		if s.metrics != nil {
			s.metrics.RibltExhausted.Inc()
			s.metrics.SyncSessionsFailed.Inc()
		}
		return s.send(ctx, &Message{Kind: KindSyncError, SyncError: &SyncError{
			Code: ErrDecodeFailed, FilterID: f.ID, Message: "round budget exhausted",
		}})
	}
	if s.metrics != nil {
		s.metrics.RibltDecodedSet.Observe(float64(len(status.LocalMissing) + len(status.RemoteMissing)))
	}

	s.state = StateTransferring
	// LocalMissing (from the decoder's perspective, initialized with our
	// local refs): refs the peer has that we lack. RemoteMissing: refs we
	// have that the peer lacks — send those.
	if err := s.sendOps(ctx, f, result.RemoteMissing); err != nil {
		return err
	}
	return s.recvOps(ctx, f)
}

func ribltStatusToWire(filterID string, st riblt.Status) *RibltStatus {
	if st.Exhausted {
		return &RibltStatus{FilterID: filterID, Failed: true, Reason: ErrDecodeFailed}
	}
	return &RibltStatus{
		FilterID:        filterID,
		Decoded:         st.Success,
		SenderMissing:   st.RemoteMissing,
		ReceiverMissing: st.LocalMissing,
	}
}

// sendOps pushes every op in refs to the peer, applying the outgoing
// filter: an op is dropped if any of its scope targets is not Allow under
// the peer's tokens (§4.6 "outgoing filter").
func (s *Session) sendOps(ctx context.Context, f Filter, refs []ids.OpRef) error {
	sops := s.backend.OpsGet(refs)
	var toSend []*wire.SignedOperation
	for _, sop := range sops {
		if s.peerMayRead(&sop.Op) {
			toSend = append(toSend, sop)
		}
	}

	const batchSize = 64
	for i := 0; i < len(toSend) || i == 0; i += batchSize {
		end := i + batchSize
		if end > len(toSend) {
			end = len(toSend)
		}
		batch := toSend[i:end]
		wireOps := make([]SignedOpWire, len(batch))
		for j, sop := range batch {
			data, err := s.wireCodec.MarshalSignedOp(sop)
			if err != nil {
				return err
			}
			wireOps[j] = SignedOpWire{Bytes: data}
		}
		done := end >= len(toSend)
		if err := s.send(ctx, &Message{Kind: KindOpsBatch, OpsBatch: &OpsBatch{FilterID: f.ID, Ops: wireOps, Done: done}}); err != nil {
			return err
		}
		if done {
			break
		}
	}
	return nil
}

// peerMayRead reports whether every scope target of op evaluates to Allow
// under at least one peer token with read_structure (OR across tokens,
// AND across targets, matching the incoming authorization combinators).
func (s *Session) peerMayRead(op *wire.Operation) bool {
	targets := op.AffectedNodes()
	for _, tok := range s.peerTokens {
		allAllow := true
		for _, target := range targets {
			allowed := false
			for _, g := range tok.Claims.GrantsForDoc(string(s.docID)) {
				if hasReadStructure(g) && opauth.EvaluateScope(s.backend, g.Res, target) == opauth.Allow {
					allowed = true
					break
				}
			}
			if !allowed {
				allAllow = false
				break
			}
		}
		if allAllow {
			return true
		}
	}
	return false
}

// recvOps reads OpsBatch messages until done=true, decoding and applying
// each batch transactionally (§5 "apply is transactional at the batch
// level").
func (s *Session) recvOps(ctx context.Context, f Filter) error {
	for {
		msg, err := s.recv(ctx)
		if err != nil {
			return err
		}
		if msg.Kind == KindSyncError {
			if msg.SyncError.Code == ErrDecodeFailed {
				return nil
			}
			return fmt.Errorf("syncpeer: peer sync error: %s", msg.SyncError.Code)
		}
		if msg.Kind != KindOpsBatch || msg.OpsBatch == nil {
			return fmt.Errorf("syncpeer: expected OpsBatch, got kind %d", msg.Kind)
		}
		if err := s.applyBatch(msg.OpsBatch); err != nil {
			return err
		}
		if msg.OpsBatch.Done {
			return nil
		}
	}
}

// applyBatch decodes and applies one OpsBatch's ops to the local backend,
// shared by the one-shot reconcile transfer (recvOps) and the subscription
// push loop (RunSubscriber).
func (s *Session) applyBatch(batch *OpsBatch) error {
	sops := make([]*wire.SignedOperation, len(batch.Ops))
	for i, wireOp := range batch.Ops {
		sop, err := s.wireCodec.UnmarshalSignedOp(wireOp.Bytes)
		if err != nil {
			return fmt.Errorf("syncpeer: decode op: %w", err)
		}
		sops[i] = sop
	}
	if len(sops) > 0 {
		if _, err := s.backend.AppendMany(sops); err != nil {
			return fmt.Errorf("syncpeer: apply batch: %w", err)
		}
	}
	return nil
}

// SubscribeRequest sends a Subscribe for f and blocks until the peer acks or
// rejects it (§4.8). f.IntervalMS, when non-zero, asks the peer to also poll
// at that cadence between local-update wakeups.
func (s *Session) SubscribeRequest(ctx context.Context, f Filter) error {
	if err := s.send(ctx, &Message{Kind: KindSubscribe, Subscribe: &Subscribe{
		FilterID: f.ID, Filter: f, IntervalMS: f.IntervalMS,
	}}); err != nil {
		return err
	}
	ack, err := s.recv(ctx)
	if err != nil {
		return err
	}
	if ack.Kind != KindSubscribeAck || ack.SubscribeAck == nil {
		return fmt.Errorf("syncpeer: expected SubscribeAck, got kind %d", ack.Kind)
	}
	if !ack.SubscribeAck.Accepted {
		return fmt.Errorf("syncpeer: subscribe rejected: %s", ack.SubscribeAck.Reason)
	}
	s.log.Info("syncpeer: subscription accepted", zap.String("filter_id", f.ID))
	return nil
}

// RunSubscriber asks the peer to keep pushing ops matching f (via
// SubscribeRequest) and then applies every pushed OpsBatch to the local
// backend until ctx is cancelled, at which point it sends Unsubscribe and
// returns.
func (s *Session) RunSubscriber(ctx context.Context, f Filter) error {
	if err := s.SubscribeRequest(ctx, f); err != nil {
		return err
	}
	for {
		msg, err := s.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.Info("syncpeer: unsubscribing", zap.String("filter_id", f.ID))
				return s.send(context.Background(), &Message{Kind: KindUnsubscribe, Unsubscribe: &Unsubscribe{FilterID: f.ID}})
			}
			return err
		}
		switch msg.Kind {
		case KindOpsBatch:
			if err := s.applyBatch(msg.OpsBatch); err != nil {
				return err
			}
		case KindSyncError:
			return fmt.Errorf("syncpeer: peer sync error: %s", msg.SyncError.Code)
		default:
			return fmt.Errorf("syncpeer: unexpected message kind %d during subscription", msg.Kind)
		}
	}
}

// AcceptSubscribe receives one Subscribe request, authorizes it exactly as a
// one-shot filter would (§4.6), acks it, and registers it with the
// session's Subscriptions tracker so a later NotifyLocalUpdate call wakes
// RunSubscribee's push loop for it. The zero Filter is returned alongside a
// nil error when the request was rejected: there is nothing more to push.
func (s *Session) AcceptSubscribe(ctx context.Context) (Filter, <-chan struct{}, map[ids.OpRef]bool, error) {
	msg, err := s.recv(ctx)
	if err != nil {
		return Filter{}, nil, nil, err
	}
	if msg.Kind != KindSubscribe || msg.Subscribe == nil {
		return Filter{}, nil, nil, fmt.Errorf("syncpeer: expected Subscribe, got kind %d", msg.Kind)
	}
	f := msg.Subscribe.Filter
	if f.ID == "" {
		f.ID = msg.Subscribe.FilterID
	}
	f.IntervalMS = msg.Subscribe.IntervalMS

	if !s.authorizeFilter(f) {
		s.log.Warn("syncpeer: subscribe rejected, peer lacks read_structure scope", zap.String("filter_id", f.ID))
		err := s.send(ctx, &Message{Kind: KindSubscribeAck, SubscribeAck: &SubscribeAck{FilterID: f.ID, Accepted: false, Reason: ErrUnauthorized}})
		return Filter{}, nil, nil, err
	}
	// Register, and snapshot the refs already covered by f, before acking:
	// once the subscriber observes the ack it may race a NotifyLocalUpdate
	// against any op appended after this point, so both the wake
	// registration and the "already sent" baseline must be fixed before the
	// peer can possibly learn the subscription is live.
	wake := s.subs.Add(f)
	sent := make(map[ids.OpRef]bool)
	for _, r := range s.filterRefs(f) {
		sent[r] = true
	}
	if err := s.send(ctx, &Message{Kind: KindSubscribeAck, SubscribeAck: &SubscribeAck{FilterID: f.ID, Accepted: true}}); err != nil {
		s.subs.Remove(f.ID)
		return Filter{}, nil, nil, err
	}
	s.log.Info("syncpeer: accepted subscription", zap.String("filter_id", f.ID))
	return f, wake, sent, nil
}

// PushPending sends every op matching f that is not yet marked in sent,
// marking it sent in place. It is the unit of work RunSubscribee repeats
// every time it wakes.
func (s *Session) PushPending(ctx context.Context, f Filter, sent map[ids.OpRef]bool) error {
	var fresh []ids.OpRef
	for _, r := range s.filterRefs(f) {
		if !sent[r] {
			fresh = append(fresh, r)
			sent[r] = true
		}
	}
	if len(fresh) == 0 {
		return nil
	}
	return s.sendOps(ctx, f, fresh)
}

// RunSubscribee accepts one Subscribe request and then pushes ops matching
// its filter to the peer every time NotifyLocalUpdate fires or interval_ms
// elapses, until the peer sends Unsubscribe or ctx is done (§4.8, §7
// cancellation semantics).
func (s *Session) RunSubscribee(ctx context.Context) error {
	f, wake, sent, err := s.AcceptSubscribe(ctx)
	if err != nil {
		return err
	}
	if wake == nil {
		return nil // rejected: nothing to stream.
	}
	defer s.subs.Remove(f.ID)

	interval := time.Duration(f.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultSubscriptionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	unsubscribed := make(chan struct{})
	recvErr := make(chan error, 1)
	go func() {
		for {
			msg, err := s.recv(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			if msg.Kind == KindUnsubscribe && msg.Unsubscribe != nil && msg.Unsubscribe.FilterID == f.ID {
				close(unsubscribed)
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-unsubscribed:
			s.log.Info("syncpeer: subscription cancelled by peer", zap.String("filter_id", f.ID))
			return nil
		case err := <-recvErr:
			return err
		case <-wake:
		case <-ticker.C:
		}
		if err := s.PushPending(ctx, f, sent); err != nil {
			return err
		}
	}
}
