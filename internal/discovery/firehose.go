package discovery

// -----------------------------------------------------------------------------
// Logs firehose — DEX program log subscriptions
// -----------------------------------------------------------------------------
//
// Subscribes to logsSubscribe for each configured DEX program and watches
// for pool initialization markers. The stream only carries transaction
// signatures, so mint extraction goes through a resolver (an RPC round
// trip). A bounded signature ring keeps redelivered log notifications from
// resolving the same transaction twice.

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/potwatch/potwatch/internal/token"
)

// MintResolver turns a transaction signature into the token mints it
// touched. Implemented by the helius client.
type MintResolver interface {
	ResolveMints(ctx context.Context, signature string) ([]token.Mint, error)
}

// Log fragments that mark a pool or mint being created.
var creationMarkers = []string{
	"initialize2",     // Raydium AMM V4
	"InitializeMint",  // SPL token program
	"Instruction: InitializePool",
	"Program log: Instruction: Create",
}

// FirehoseConfig holds the logs ingestor knobs.
type FirehoseConfig struct {
	WSURL          string
	ProgramIDs     []string
	ReconnectDelay time.Duration
	SignatureCache int // dedup ring size
}

// LogsIngestor is the broad-coverage discovery path: every pool creation on
// the watched DEX programs, not just launchpad traffic.
type LogsIngestor struct {
	cfg      FirehoseConfig
	resolver MintResolver
	out      chan<- token.Candidate

	seen *signatureRing

	eventsRecv atomic.Int64
	resolved   atomic.Int64
	malformed  atomic.Int64
	duplicates atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool
}

// NewLogsIngestor creates the firehose ingestor.
func NewLogsIngestor(cfg FirehoseConfig, resolver MintResolver, out chan<- token.Candidate) *LogsIngestor {
	return &LogsIngestor{
		cfg:      cfg,
		resolver: resolver,
		out:      out,
		seen:     newSignatureRing(cfg.SignatureCache),
	}
}

// Run blocks until ctx is cancelled, reconnecting with backoff.
func (l *LogsIngestor) Run(ctx context.Context) {
	delay := l.cfg.ReconnectDelay
	const maxDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := l.connect(ctx)
		if err != nil {
			l.reconnects.Add(1)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("firehose: connection failed")
			select {
			case <-time.After(jitter(delay)):
			case <-ctx.Done():
				return
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		delay = l.cfg.ReconnectDelay

		l.readLoop(ctx, conn)
		conn.Close()
		l.connected.Store(false)
	}
}

func (l *LogsIngestor) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, l.cfg.WSURL, nil)
	if err != nil {
		return nil, err
	}

	for i, programID := range l.cfg.ProgramIDs {
		req := map[string]any{
			"jsonrpc": "2.0",
			"id":      i + 1,
			"method":  "logsSubscribe",
			"params": []any{
				map[string]any{"mentions": []string{programID}},
				map[string]any{"commitment": "confirmed"},
			},
		}
		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return nil, err
		}
	}

	l.connected.Store(true)
	log.Info().
		Str("url", l.cfg.WSURL).
		Int("programs", len(l.cfg.ProgramIDs)).
		Msg("firehose: connected and subscribed")
	return conn, nil
}

type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Value struct {
				Signature string   `json:"signature"`
				Err       any      `json:"err"`
				Logs      []string `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (l *LogsIngestor) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("firehose: read failed, reconnecting")
			l.reconnects.Add(1)
			return
		}
		l.eventsRecv.Add(1)

		var note logsNotification
		if err := json.Unmarshal(raw, &note); err != nil {
			l.malformed.Add(1)
			continue
		}
		if note.Method != "logsNotification" {
			continue // subscription ack
		}

		value := note.Params.Result.Value
		if value.Err != nil || value.Signature == "" || !hasCreationMarker(value.Logs) {
			continue
		}
		if !l.seen.add(value.Signature) {
			l.duplicates.Add(1)
			continue
		}

		l.handleSignature(ctx, value.Signature)
	}
}

func (l *LogsIngestor) handleSignature(ctx context.Context, signature string) {
	resolveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	mints, err := l.resolver.ResolveMints(resolveCtx, signature)
	cancel()
	if err != nil {
		log.Debug().Err(err).Str("signature", shorten(signature)).Msg("firehose: mint resolution failed")
		return
	}

	for _, mint := range mints {
		clean, ok := SanitizeMint(string(mint))
		if !ok {
			l.malformed.Add(1)
			continue
		}
		l.resolved.Add(1)
		cand := token.Candidate{
			Mint:       clean,
			ObservedAt: time.Now().UTC(),
			Source:     "firehose",
		}
		select {
		case l.out <- cand:
		case <-ctx.Done():
			return
		default:
			log.Warn().Str("mint", string(clean)).Msg("firehose: admission channel full, candidate dropped")
		}
	}
}

func hasCreationMarker(logs []string) bool {
	for _, line := range logs {
		for _, marker := range creationMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

func shorten(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// jitter spreads reconnect attempts so restarts do not thundering-herd a
// shared RPC endpoint.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}

// signatureRing is a fixed-size FIFO set of transaction signatures.
type signatureRing struct {
	mu    sync.Mutex
	set   map[string]struct{}
	order []string
	next  int
}

func newSignatureRing(size int) *signatureRing {
	if size <= 0 {
		size = 8000
	}
	return &signatureRing{
		set:   make(map[string]struct{}, size),
		order: make([]string, size),
	}
}

// add returns false if the signature was already present.
func (r *signatureRing) add(sig string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.set[sig]; ok {
		return false
	}
	if old := r.order[r.next]; old != "" {
		delete(r.set, old)
	}
	r.order[r.next] = sig
	r.next = (r.next + 1) % len(r.order)
	r.set[sig] = struct{}{}
	return true
}

// FirehoseStats is a point-in-time snapshot of ingestor counters.
type FirehoseStats struct {
	EventsReceived int64 `json:"events_received"`
	Resolved       int64 `json:"resolved"`
	Malformed      int64 `json:"malformed"`
	Duplicates     int64 `json:"duplicates"`
	Reconnects     int64 `json:"reconnects"`
	Connected      bool  `json:"connected"`
}

func (l *LogsIngestor) Stats() FirehoseStats {
	return FirehoseStats{
		EventsReceived: l.eventsRecv.Load(),
		Resolved:       l.resolved.Load(),
		Malformed:      l.malformed.Load(),
		Duplicates:     l.duplicates.Load(),
		Reconnects:     l.reconnects.Load(),
		Connected:      l.connected.Load(),
	}
}
