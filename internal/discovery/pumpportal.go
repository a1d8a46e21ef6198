package discovery

// -----------------------------------------------------------------------------
// PumpPortal ingestor — launchpad creation and migration events
// -----------------------------------------------------------------------------

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/potwatch/potwatch/internal/token"
)

// PumpPortalConfig holds the ingestor knobs.
type PumpPortalConfig struct {
	URL            string
	ReconnectDelay time.Duration
}

// PumpPortalIngestor holds one long-lived subscription to the PumpPortal
// data stream and emits admission candidates. It never deduplicates; the
// pot does.
type PumpPortalIngestor struct {
	cfg PumpPortalConfig
	out chan<- token.Candidate

	eventsRecv atomic.Int64
	malformed  atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool
}

// NewPumpPortalIngestor creates the ingestor. Candidates go to out, which
// the caller owns.
func NewPumpPortalIngestor(cfg PumpPortalConfig, out chan<- token.Candidate) *PumpPortalIngestor {
	return &PumpPortalIngestor{cfg: cfg, out: out}
}

// Run blocks until ctx is cancelled, reconnecting with backoff on any
// transport failure. No error from the stream ever terminates the loop.
func (p *PumpPortalIngestor) Run(ctx context.Context) {
	delay := p.cfg.ReconnectDelay
	const maxDelay = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := p.connect(ctx)
		if err != nil {
			p.reconnects.Add(1)
			log.Warn().Err(err).Dur("retry_in", delay).Msg("pumpportal: connection failed")
			select {
			case <-time.After(jitter(delay)):
			case <-ctx.Done():
				return
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		delay = p.cfg.ReconnectDelay

		p.readLoop(ctx, conn)
		conn.Close()
		p.connected.Store(false)
	}
}

func (p *PumpPortalIngestor) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return nil, err
	}

	for _, method := range []string{"subscribeNewToken", "subscribeMigration"} {
		if err := conn.WriteJSON(map[string]string{"method": method}); err != nil {
			conn.Close()
			return nil, err
		}
	}

	p.connected.Store(true)
	log.Info().Str("url", p.cfg.URL).Msg("pumpportal: connected and subscribed")
	return conn, nil
}

type pumpPortalEvent struct {
	Mint      string `json:"mint"`
	TxType    string `json:"txType"`
	Signature string `json:"signature"`
	Pool      string `json:"pool"`
}

func (p *PumpPortalIngestor) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("pumpportal: read failed, reconnecting")
			p.reconnects.Add(1)
			return
		}
		p.eventsRecv.Add(1)

		var event pumpPortalEvent
		if err := json.Unmarshal(raw, &event); err != nil || event.Mint == "" {
			// Subscription acks and keepalives land here too; only count
			// payloads that claimed to be events.
			if event.TxType != "" {
				p.malformed.Add(1)
			}
			continue
		}

		mint, ok := SanitizeMint(event.Mint)
		if !ok {
			p.malformed.Add(1)
			log.Debug().Str("raw", event.Mint).Msg("pumpportal: dropped malformed mint")
			continue
		}

		cand := token.Candidate{
			Mint:       mint,
			ObservedAt: time.Now().UTC(),
			Source:     "pumpportal:" + event.TxType,
		}
		select {
		case p.out <- cand:
		case <-ctx.Done():
			return
		default:
			// Admission backlog full: drop rather than stall the stream.
			log.Warn().Str("mint", string(mint)).Msg("pumpportal: admission channel full, candidate dropped")
		}
	}
}

// Stats is a point-in-time snapshot of ingestor counters.
type PumpPortalStats struct {
	EventsReceived int64 `json:"events_received"`
	Malformed      int64 `json:"malformed"`
	Reconnects     int64 `json:"reconnects"`
	Connected      bool  `json:"connected"`
}

func (p *PumpPortalIngestor) Stats() PumpPortalStats {
	return PumpPortalStats{
		EventsReceived: p.eventsRecv.Load(),
		Malformed:      p.malformed.Load(),
		Reconnects:     p.reconnects.Load(),
		Connected:      p.connected.Load(),
	}
}
