package reactor

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/someip-go/someip/logx"
	"github.com/someip-go/someip/metrics"
	"github.com/someip-go/someip/sd"
	"github.com/someip-go/someip/tp"
	"github.com/someip-go/someip/wire"
)

// DefaultRequestTimeout is the default deadline for SendRequest, per
// spec.md §4.5.
const DefaultRequestTimeout = 5 * time.Second

// Dispatcher is implemented by package dispatch's Registry. It is declared
// here, the consumer side, so reactor never imports dispatch: the someip
// package wires the two together (spec.md §4.6's "the reactor sends the
// RESPONSE" is realized by onComplete below).
type Dispatcher interface {
	Dispatch(key sd.ServiceKey, methodID uint16, clientID, sessionID uint16, payload []byte, noReturn bool,
		onComplete func(wire.ReturnCode, []byte))
}

// EventHandler receives NOTIFICATION datagrams for subscribed eventgroups,
// implemented by the someip package's client-side subscription machinery.
type EventHandler interface {
	HandleEvent(key sd.ServiceKey, eventID uint16, payload []byte)
}

// Config bundles what a Reactor needs at construction, decoupled from
// package config to avoid a dependency cycle (config.Config is translated
// into this by the someip package).
type Config struct {
	UnicastAddr     string // "host:port" or ":0" for an ephemeral port
	MulticastGroup  string
	MulticastPort   int
	Interface       *net.Interface
	WorkerPoolSize  int
	RequestTimeout  time.Duration
	TPPayloadLimit  int
	AssemblyCap     int
}

// Reactor implements component C5. It owns every socket, the timer wheel,
// the pending-request table, per-client session allocators, and the TP
// reassembler, and drives the SD state machine's timers.
type Reactor struct {
	log   logx.Logger
	stats *metrics.Collectors

	unicast   *net.UDPConn
	multicast *MulticastSocket
	limiter   *SendLimiter

	timers  *TimerWheel
	pending *PendingTable
	segmenter *tp.Segmenter
	reassembler *tp.Reassembler

	sd         *sd.Machine
	dispatcher Dispatcher
	events     EventHandler

	sessionsMu sync.Mutex
	sessions   map[uint16]*sessionAllocator

	recvSem chan struct{} // bounds concurrent handleDatagram invocations, sized by Config.WorkerPoolSize

	workers *errgroup.Group
	workerCtx context.Context
	cancel    context.CancelFunc

	mu       sync.Mutex
	stopped  bool
}

// New constructs a Reactor bound to the configured sockets but does not
// start its receive loop; call Run to do that (mirrors the teacher's
// Initialize/Start split in transport/udp/udp.go).
func New(cfg Config, log logx.Logger, stats *metrics.Collectors, machine *sd.Machine, dispatcher Dispatcher, events EventHandler) (*Reactor, error) {
	unicast, err := OpenUnicast(cfg.UnicastAddr)
	if err != nil {
		return nil, err
	}

	group := cfg.MulticastGroup
	if group == "" {
		group = sd.DefaultMulticastGroup
	}
	port := cfg.MulticastPort
	if port == 0 {
		port = sd.DefaultMulticastPort
	}
	multicast, err := OpenMulticast(group, port, cfg.Interface)
	if err != nil {
		unicast.Close()
		return nil, err
	}

	poolSize := cfg.WorkerPoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	ctx, cancel := context.WithCancel(context.Background())
	eg, workerCtx := errgroup.WithContext(ctx)

	r := &Reactor{
		log: log, stats: stats,
		unicast: unicast, multicast: multicast,
		limiter:     NewSendLimiter(DefaultSendRate, DefaultSendBurst),
		timers:      NewTimerWheel(),
		pending:     NewPendingTable(),
		segmenter:   &tp.Segmenter{MTUPayload: nonZero(cfg.TPPayloadLimit, tp.DefaultMTUPayload)},
		reassembler: tp.NewReassembler(nonZero(cfg.AssemblyCap, tp.DefaultAssemblyCap)),
		sd:          machine,
		dispatcher:  dispatcher,
		events:      events,
		sessions:    make(map[uint16]*sessionAllocator),
		recvSem:     make(chan struct{}, poolSize),
		workers:     eg,
		workerCtx:   workerCtx,
		cancel:      cancel,
	}
	return r, nil
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// LocalAddr returns the bound unicast address, useful when UnicastAddr was
// ":0" and the OS picked an ephemeral port.
func (r *Reactor) LocalAddr() *net.UDPAddr {
	return r.unicast.LocalAddr().(*net.UDPAddr)
}

// Run starts the receive loops for both sockets and the SD timer pump. It
// blocks until ctx is canceled or Stop is called.
func (r *Reactor) Run(ctx context.Context) error {
	// Every worker goroutine runs against r.workerCtx, not the ctx param
	// directly: Stop cancels r.workerCtx via r.cancel, and that must be
	// the only thing that unblocks receiveLoop/timerPump, or Stop's
	// "wait for workers, then close sockets" sequencing deadlocks against
	// a caller ctx that never fires.
	r.workers.Go(func() error { return r.receiveLoop(r.workerCtx, r.unicast, false) })
	r.workers.Go(func() error { return r.receiveLoop(r.workerCtx, r.multicast.PacketConn(), true) })
	r.workers.Go(func() error { return r.timerPump(r.workerCtx) })

	select {
	case <-ctx.Done():
		r.cancel()
	case <-r.workerCtx.Done():
	}
	return r.workers.Wait()
}

// timerPump periodically fires due timers and drives the SD machine's own
// Tick, translating its Actions into sends. This is the single place the
// "min(next_timer, POLL_QUANTUM)" schedule from spec.md §4.5 is realized.
func (r *Reactor) timerPump(ctx context.Context) error {
	for {
		now := time.Now()
		r.timers.FireDue(now)

		actions := r.sd.Tick(now)
		for _, a := range actions {
			r.sendSDAction(a)
		}
		if expired := r.reassembler.Sweep(now); len(expired) > 0 && r.stats != nil {
			r.stats.ReassemblyTimeouts.Add(float64(len(expired)))
		}

		wait := r.timers.NextTimeout(now)
		if d, ok := r.sd.NextDeadline(); ok {
			if untilSD := d.Sub(now); untilSD > 0 && untilSD < wait {
				wait = untilSD
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// SendSD queues one SD Action for transmission, for use by the someip
// package when it originates an SD message outside the timer pump (e.g. a
// Subscribe sent in response to Runtime.Subscribe).
func (r *Reactor) SendSD(a sd.Action) {
	r.sendSDAction(a)
}

func (r *Reactor) sendSDAction(a sd.Action) {
	body, err := sd.EncodeBody(a.Message)
	if err != nil {
		r.log.Error("encode SD action: %v", err)
		return
	}
	h := sd.Header()
	// SD messages take their session_id from the client_id 0 allocator,
	// so it advances by one per SD message sent.
	alloc := r.sessionAllocatorFor(sd.SDClientID)
	if sessionID, ok := alloc.Allocate(); ok {
		h.SessionID = sessionID
		alloc.Release(sessionID)
	}
	datagram := wire.Encode(h, body)

	switch a.Kind {
	case sd.ActionSendMulticast:
		addr := &net.UDPAddr{IP: net.ParseIP(sd.DefaultMulticastGroup), Port: sd.DefaultMulticastPort}
		r.writeTo(r.multicast.PacketConn(), addr, datagram)
	case sd.ActionSendUnicast:
		addr := &net.UDPAddr{IP: a.Target.IP, Port: int(a.Target.Port)}
		r.writeTo(r.unicast, addr, datagram)
	}
}

func (r *Reactor) writeTo(conn net.PacketConn, addr net.Addr, datagram []byte) {
	if !r.limiter.Allow() {
		r.log.Warn("send to %v dropped: rate limited", addr)
		return
	}
	if _, err := conn.WriteTo(datagram, addr); err != nil {
		// Retry once per spec.md §7's SendError policy.
		if _, err2 := conn.WriteTo(datagram, addr); err2 != nil {
			r.log.Error("send to %v failed after retry: %v", addr, err2)
		}
	}
}

// sessionAllocatorFor returns (creating if needed) the per-client session
// allocator, per spec.md §3's "Session IDs are per-client monotonic".
func (r *Reactor) sessionAllocatorFor(clientID uint16) *sessionAllocator {
	r.sessionsMu.Lock()
	defer r.sessionsMu.Unlock()
	a, ok := r.sessions[clientID]
	if !ok {
		a = newSessionAllocator()
		r.sessions[clientID] = a
	}
	return a
}

// SendRequest implements the consumer-side `client.call` operation from
// spec.md §6: allocate a session, encode (segmenting via TP if needed),
// send, and block on the Waiter until response, timeout, or cancellation.
func (r *Reactor) SendRequest(ctx context.Context, clientID uint16, target sd.Endpoint, key sd.ServiceKey, methodID uint16, interfaceVersion uint8, payload []byte, timeout time.Duration) (Result, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return Result{}, &ShuttingDownError{}
	}
	r.mu.Unlock()

	alloc := r.sessionAllocatorFor(clientID)
	sessionID, ok := alloc.Allocate()
	if !ok {
		return Result{}, &SessionExhaustedError{ClientID: clientID}
	}

	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	deadline := time.Now().Add(timeout)
	reqKey := RequestKey{ClientID: clientID, SessionID: sessionID}
	messageID := uint32(key.ServiceID)<<16 | uint32(methodID)
	traceID := xid.New().String()

	waiter := r.pending.Insert(reqKey, messageID, deadline, traceID)
	if r.stats != nil {
		r.stats.PendingRequests.Set(float64(r.pending.Len()))
	}
	defer func() {
		alloc.Release(sessionID)
		if r.stats != nil {
			r.stats.PendingRequests.Set(float64(r.pending.Len()))
		}
	}()

	timerHandle := r.timers.Schedule(deadline, func(now time.Time) {
		r.pending.ExpireDeadlines(now)
	})
	defer r.timers.Cancel(timerHandle)

	h := wire.Header{
		ServiceID: key.ServiceID, MethodID: methodID,
		ClientID: clientID, SessionID: sessionID,
		ProtocolVersion: wire.ProtocolVersion, InterfaceVersion: interfaceVersion,
		MessageType: wire.MessageTypeRequest, ReturnCode: wire.ReturnCodeOK,
	}
	if err := r.sendMessage(target, h, payload); err != nil {
		r.pending.Cancel(reqKey, err)
		return Result{}, err
	}

	select {
	case <-ctx.Done():
		r.pending.Cancel(reqKey, ctx.Err())
		return Result{}, ctx.Err()
	case result := <-waiter.done:
		if r.stats != nil {
			outcome := "ok"
			if result.Err != nil {
				outcome = "error"
			}
			r.stats.RequestsCompleted.WithLabelValues(outcome).Inc()
		}
		return result, result.Err
	}
}

// sendMessage encodes h/payload, splitting into TP segments when payload
// exceeds the configured MTU (spec.md §4.2).
func (r *Reactor) sendMessage(target sd.Endpoint, h wire.Header, payload []byte) error {
	segments := r.segmenter.Split(payload)
	if len(segments) == 1 && !h.MessageType.IsTP() && len(payload) <= r.segmenter.MTUPayload {
		datagram := wire.Encode(h, payload)
		return r.sendDatagram(target, datagram)
	}

	tpType := tpVariant(h.MessageType)
	for _, seg := range segments {
		segHeader := h
		segHeader.MessageType = tpType
		tpHeaderBytes := wire.EncodeTPHeader(seg.Header)
		body := append(append([]byte{}, tpHeaderBytes...), seg.Payload...)
		datagram := wire.Encode(segHeader, body)
		if err := r.sendDatagram(target, datagram); err != nil {
			return err
		}
	}
	return nil
}

func tpVariant(mt wire.MessageType) wire.MessageType {
	switch mt {
	case wire.MessageTypeRequest:
		return wire.MessageTypeTPRequest
	case wire.MessageTypeResponse:
		return wire.MessageTypeTPResponse
	case wire.MessageTypeNotification:
		return wire.MessageTypeTPNotification
	default:
		return mt
	}
}

func (r *Reactor) sendDatagram(target sd.Endpoint, datagram []byte) error {
	addr := &net.UDPAddr{IP: target.IP, Port: int(target.Port)}
	if !r.limiter.Allow() {
		return ErrWouldBlock
	}
	if _, err := r.unicast.WriteToUDP(datagram, addr); err != nil {
		if _, err2 := r.unicast.WriteToUDP(datagram, addr); err2 != nil {
			return &SendError{Err: err2, Retried: true}
		}
	}
	return nil
}

// SendTo implements dispatch's Sender interface for event publish
// (spec.md §4.6 notify): a raw pre-encoded datagram to one subscriber.
func (r *Reactor) SendTo(ip net.IP, port uint16, datagram []byte) error {
	addr := &net.UDPAddr{IP: ip, Port: int(port)}
	if !r.limiter.Allow() {
		return ErrWouldBlock
	}
	if _, err := r.unicast.WriteToUDP(datagram, addr); err != nil {
		return &SendError{Err: err}
	}
	return nil
}

// SendResponse implements the server-side half of spec.md §4.6: once a
// dispatched handler completes, the reactor sends the RESPONSE/ERROR using
// the original request's (client_id, session_id).
func (r *Reactor) SendResponse(target sd.Endpoint, key sd.ServiceKey, methodID uint16, interfaceVersion uint8, clientID, sessionID uint16, rc wire.ReturnCode, payload []byte) {
	h := wire.Header{
		ServiceID: key.ServiceID, MethodID: methodID,
		ClientID: clientID, SessionID: sessionID,
		ProtocolVersion: wire.ProtocolVersion, InterfaceVersion: interfaceVersion,
		MessageType: wire.MessageTypeResponse, ReturnCode: rc,
	}
	if rc != wire.ReturnCodeOK && rc != wire.ReturnCodeNotOK {
		h.MessageType = wire.MessageTypeError
	}
	if err := r.sendMessage(target, h, payload); err != nil {
		r.log.Error("send response to client 0x%04X session 0x%04X: %v", clientID, sessionID, err)
	}
}

// receiveLoop reads datagrams from conn and dispatches them by message
// type, per the data-flow description in spec.md §2.
func (r *Reactor) receiveLoop(ctx context.Context, conn net.PacketConn, isMulticast bool) error {
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(PollQuantum))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-ctx.Done():
				return nil
			default:
				continue
			}
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		// Bound concurrent datagram handling at Config.WorkerPoolSize so a
		// slow handler (SD table update, TP reassembly) can't stall the
		// socket read loop behind it; method dispatch itself has its own,
		// separate bound in dispatch.Registry.
		select {
		case r.recvSem <- struct{}{}:
			r.workers.Go(func() error {
				defer func() { <-r.recvSem }()
				r.handleDatagram(datagram, addr, isMulticast)
				return nil
			})
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Reactor) handleDatagram(datagram []byte, from net.Addr, isMulticast bool) {
	h, payload, err := wire.Decode(datagram)
	if err != nil {
		if r.stats != nil {
			r.stats.DatagramsParseErrors.Inc()
		}
		r.log.Debug("dropped malformed datagram from %v: %v", from, err)
		return
	}

	if h.ServiceID == sd.SDServiceID && h.MethodID == sd.SDMethodID {
		r.handleSD(h, payload, from, isMulticast)
		return
	}

	if h.MessageType.IsTP() {
		r.handleTP(h, payload, from)
		return
	}
	r.handleComplete(h, payload, from)
}

func (r *Reactor) handleSD(h wire.Header, payload []byte, from net.Addr, isMulticast bool) {
	msg, err := sd.DecodeBody(payload)
	if err != nil {
		if r.stats != nil {
			r.stats.DatagramsParseErrors.Inc()
		}
		r.log.Debug("dropped malformed SD body from %v: %v", from, err)
		return
	}
	channel := sd.ChannelUnicast
	if isMulticast {
		channel = sd.ChannelMulticast
	}
	actions := r.sd.HandleIncoming(time.Now(), from.String(), channel, msg.Reboot, h.SessionID, msg)
	for _, a := range actions {
		r.sendSDAction(a)
	}
}

func (r *Reactor) handleTP(h wire.Header, body []byte, from net.Addr) {
	tpHeader, err := wire.DecodeTPHeader(body)
	if err != nil {
		if r.stats != nil {
			r.stats.DatagramsParseErrors.Inc()
		}
		return
	}
	segPayload := body[wire.TPHeaderSize:]
	key := tp.Key{Peer: from.String(), MessageID: h.MessageID(), ClientID: h.ClientID, SessionID: h.SessionID}

	assembled, done, err := r.reassembler.Feed(key, tpHeader.Offset, segPayload, tpHeader.MoreSegments, time.Now())
	if err != nil {
		if r.stats != nil {
			r.stats.ReassemblyOverlaps.Inc()
		}
		r.log.Debug("TP reassembly dropped for %v: %v", from, err)
		return
	}
	if !done {
		return
	}
	// Clear the TP flag (0x20) so the reassembled message is handled as
	// its plain message type.
	h.MessageType &^= 0x20
	r.handleComplete(h, assembled, from)
}

func (r *Reactor) handleComplete(h wire.Header, payload []byte, from net.Addr) {
	switch h.MessageType {
	case wire.MessageTypeResponse, wire.MessageTypeError:
		key := RequestKey{ClientID: h.ClientID, SessionID: h.SessionID}
		r.pending.Resolve(key, Result{ReturnCode: h.ReturnCode, Payload: payload})

	case wire.MessageTypeRequest, wire.MessageTypeRequestNoReturn:
		if r.dispatcher == nil {
			return
		}
		svcKey := sd.ServiceKey{ServiceID: h.ServiceID}
		udpAddr, _ := from.(*net.UDPAddr)
		target := sd.Endpoint{}
		if udpAddr != nil {
			target = sd.Endpoint{IP: udpAddr.IP, Port: uint16(udpAddr.Port), Protocol: sd.ProtoUDP}
		}
		noReturn := h.MessageType == wire.MessageTypeRequestNoReturn
		r.dispatcher.Dispatch(svcKey, h.MethodID, h.ClientID, h.SessionID, payload, noReturn, func(rc wire.ReturnCode, respPayload []byte) {
			if noReturn {
				return
			}
			r.SendResponse(target, svcKey, h.MethodID, h.InterfaceVersion, h.ClientID, h.SessionID, rc, respPayload)
		})

	case wire.MessageTypeNotification:
		if r.events != nil {
			r.events.HandleEvent(sd.ServiceKey{ServiceID: h.ServiceID}, h.MethodID, payload)
		}
	}
}

// Stop cancels all in-flight requests with ShuttingDown and joins the
// reactor goroutines (spec.md §5). It sends no SD messages itself;
// someip.Runtime.Stop sends StopOffer for its offered services before
// calling it.
func (r *Reactor) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.mu.Unlock()

	r.pending.CancelAll(&ShuttingDownError{})
	r.cancel()

	done := make(chan error, 1)
	go func() { done <- r.workers.Wait() }()

	select {
	case err := <-done:
		r.unicast.Close()
		r.multicast.Close()
		return err
	case <-ctx.Done():
		r.unicast.Close()
		r.multicast.Close()
		return ctx.Err()
	}
}
