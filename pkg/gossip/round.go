package gossip

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

// Loop drives the fan-out/receive/sweep cycle of spec §4.2 over a
// PeerTransport and a StateMachine until its context is cancelled.
type Loop struct {
	sm        *StateMachine
	transport PeerTransport
	interval  time.Duration
	fanout    int
	limiter   *rate.Limiter
	logger    log.Logger

	roundsSent     prometheus.Counter
	digestsMerged  prometheus.Counter
	peersForgotten prometheus.Counter
}

// NewLoop constructs a gossip Loop. fanout is K, the number of peers
// contacted per round (spec §4.2 default 2).
func NewLoop(sm *StateMachine, transport PeerTransport, interval time.Duration, fanout int, logger log.Logger, reg prometheus.Registerer) *Loop {
	return &Loop{
		sm:        sm,
		transport: transport,
		interval:  interval,
		fanout:    fanout,
		limiter:   rate.NewLimiter(rate.Every(interval/time.Duration(fanout+1)), fanout+1),
		logger:    logger,
		roundsSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "routingtier_gossip_rounds_sent_total",
			Help: "Number of gossip digests this node has sent to peers.",
		}),
		digestsMerged: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "routingtier_gossip_digests_merged_total",
			Help: "Number of gossip digests merged from peers.",
		}),
		peersForgotten: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "routingtier_gossip_peers_forgotten_total",
			Help: "Number of peers forgotten after T_forget without contact.",
		}),
	}
}

// Run blocks, driving gossip rounds every interval and draining received
// digests, until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	roundTicker := time.NewTicker(l.interval)
	defer roundTicker.Stop()
	sweepTicker := time.NewTicker(l.interval)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-roundTicker.C:
			l.fanoutRound(ctx)
		case <-sweepTicker.C:
			changed := l.sm.Sweep()
			if len(changed) > 0 {
				l.peersForgotten.Add(float64(len(changed)))
				level.Info(l.logger).Log("msg", "gossip sweep removed stale peers", "addresses", len(changed))
			}
		case pd := <-l.transport.Digests():
			changed := l.sm.Merge(pd.Digest)
			l.digestsMerged.Inc()
			l.sm.MarkContact(pd.Digest.From.ID)
			if len(changed) > 0 {
				level.Debug(l.logger).Log("msg", "ring updated from gossip digest", "from", pd.PeerAddress, "changed", len(changed))
			}
		}
	}
}

// TriggerRound runs one fan-out round immediately, outside the regular
// T_gossip cadence, for "on any local membership delta" (spec §4.2
// "Fan-out") such as a /router/add or /server/add handler.
func (l *Loop) TriggerRound(ctx context.Context) {
	l.fanoutRound(ctx)
}

// fanoutRound picks K random alive peers and sends each the current
// digest, throttled by l.limiter to avoid a thundering herd against a
// single degraded peer within one round.
func (l *Loop) fanoutRound(ctx context.Context) {
	l.sm.Beat()
	peers := l.sm.RandomAlivePeers(l.fanout)
	if len(peers) == 0 {
		level.Debug(l.logger).Log("msg", "gossip round skipped, no known peers")
		return
	}

	d := l.sm.Digest()
	for _, peer := range peers {
		if err := l.limiter.Wait(ctx); err != nil {
			return
		}
		if err := l.transport.SendDigest(ctx, peer.Address, d); err != nil {
			level.Warn(l.logger).Log("msg", "gossip send failed", "peer", peer.Address, "err", err)
			continue
		}
		l.roundsSent.Inc()
	}
}
