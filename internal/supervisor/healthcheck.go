package supervisor

import (
	"context"
	"time"
)

// healthcheck runs the dead-tunnel detection loop described in spec §4.7:
// if the session has seen no TUN activity for dead_threshold, the
// supervisor tears the session down and (unless manually disconnected)
// reconnects. Public-IP probe failures do not trigger this. The check runs
// on a jittered interval, adapted from the teacher's lb.go health-check
// scheduling; there is no backoff.
type healthcheckConfig struct {
	interval      time.Duration
	deadThreshold time.Duration
	jitter        time.Duration
}

// runHealthcheck ticks every interval (jittered), checking the session's
// idle time against deadThreshold. onDead is invoked at most once; the
// callback installed by Supervisor.Start owns the actual teardown/reconnect
// decision.
func runHealthcheck(ctx context.Context, sess *Session, cfg healthcheckConfig, onDead func()) {
	next := applyJitter(cfg.interval, cfg.jitter)
	timer := time.NewTimer(next)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if sess.IdleFor() > cfg.deadThreshold {
				onDead()
				return
			}
			timer.Reset(applyJitter(cfg.interval, cfg.jitter))
		}
	}
}

// runProbeLoop periodically re-probes the public IP through the proxy,
// per spec §4.7.6, passing each result (IP or error) to onResult. It does
// not count consecutive failures.
func runProbeLoop(ctx context.Context, interval, timeout time.Duration, probe func(ctx context.Context) (string, error), onResult func(ip string, err error)) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			pctx, cancel := context.WithTimeout(ctx, timeout)
			ip, err := probe(pctx)
			cancel()
			onResult(ip, err)
			timer.Reset(interval)
		}
	}
}
