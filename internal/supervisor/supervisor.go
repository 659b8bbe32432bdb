package supervisor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/outline-cli-ws/gatewayd/internal/codec"
	"github.com/outline-cli-ws/gatewayd/internal/config"
	"github.com/outline-cli-ws/gatewayd/internal/dnsrelay"
	"github.com/outline-cli-ws/gatewayd/internal/flow"
	"github.com/outline-cli-ws/gatewayd/internal/gwerrors"
	"github.com/outline-cli-ws/gatewayd/internal/metrics"
	"github.com/outline-cli-ws/gatewayd/internal/proxy"
	"github.com/outline-cli-ws/gatewayd/internal/tun"
)

// Supervisor implements the eight responsibilities of spec §4.7: it owns
// the single active Session, builds the TUN loop and flow dispatcher around
// a Profile, and drives the health-check/probe tasks that decide when the
// tunnel is up, degraded, or needs tearing down. Shape grounded on the
// teacher's internal/manager/vpn_manager.go Connect/Disconnect/GetStatus
// lifecycle, generalized from a local SOCKS5 listener to a TUN device.
type Supervisor struct {
	log     *zap.Logger
	store   *config.Store
	daemon  *config.Daemon
	metrics *metrics.Registry

	mu      sync.Mutex
	session *Session
	cancel  context.CancelFunc
	loop    *tun.Loop
}

// New creates a Supervisor bound to store/daemon, starting disconnected.
// reg may be nil, in which case metrics observation is skipped.
func New(log *zap.Logger, store *config.Store, daemon *config.Daemon, reg *metrics.Registry) *Supervisor {
	return &Supervisor{log: log, store: store, daemon: daemon, metrics: reg}
}

// Status returns the current session snapshot, or a disconnected status if
// no session is active — this is what gwctl status and the control event
// stream surface.
func (sv *Supervisor) Status() Status {
	sv.mu.Lock()
	sess := sv.session
	sv.mu.Unlock()
	if sess == nil {
		return Status{State: StateDisconnected}
	}
	return sess.Snapshot()
}

// Start begins a session for profile. Per spec §4.7.1 this is only valid
// when DISCONNECTED; otherwise it returns an error rather than tearing down
// whatever is already running.
func (sv *Supervisor) Start(ctx context.Context, profile *config.Profile) error {
	sv.mu.Lock()
	if sv.session != nil {
		sv.mu.Unlock()
		return fmt.Errorf("supervisor: already connected")
	}
	sess := NewSession(profile)
	sessCtx, cancel := context.WithCancel(ctx)
	sv.session = sess
	sv.cancel = cancel
	sv.mu.Unlock()

	if err := profile.Validate(); err != nil {
		sess.SetLastError(err.Error())
		sess.setState(StateError)
		return err
	}

	// Resolve the proxy hostname to an IP before the tunnel comes up and
	// cache it on the profile, per spec §4.7.2 — once the default route is
	// redirected into the TUN device, a fresh DNS lookup for the proxy
	// itself would loop through the tunnel it depends on.
	if profile.ResolvedAddr == "" {
		ips, err := net.LookupHost(profile.Host)
		if err != nil || len(ips) == 0 {
			sess.SetLastError(fmt.Sprintf("resolve proxy host: %v", err))
			sess.setState(StateError)
			return fmt.Errorf("supervisor: resolve proxy host %q: %w", profile.Host, err)
		}
		profile.ResolvedAddr = ips[0]
	}

	dialer := &proxy.Dialer{
		Kind:        dialerKind(profile.Type),
		ProxyHost:   profile.ResolvedAddr,
		ProxyPort:   profile.Port,
		Fwmark:      sv.daemon.Fwmark,
		DialTimeout: sv.daemon.Probe.Timeout,
	}
	if profile.Username != "" || profile.Password != "" {
		dialer.Credentials = &proxy.Credentials{Username: profile.Username, Password: profile.Password}
	}

	tunPrefix := tunPrefixFromConfig(sv.daemon.Tun.Prefix)
	loop, err := tun.Open(sv.daemon.Tun.Device, tunPrefix)
	if err != nil {
		sess.SetLastError(err.Error())
		sess.setState(StateError)
		sv.teardown()
		return &gwerrors.PermissionError{Op: "open tun device", Err: err}
	}

	table := flow.NewTable()
	relay := dnsrelay.NewRelay(profile.DNS1, profile.DNS2, sv.daemon.Fwmark, sv.metrics)
	relay.Emit = loop.Enqueue

	fd := &flowDialer{ctx: sessCtx, dialer: dialer, sess: sess, log: sv.log, metrics: sv.metrics, conns: make(map[flow.Key]net.Conn)}
	dispatcher := &flow.Dispatcher{
		Table:      table,
		Emit:       loop.Enqueue,
		Dialer:     fd,
		OnTeardown: fd.CloseFlow,
	}
	if sv.metrics != nil {
		dispatcher.OnFlowOverflow = sv.metrics.IncFlowOverflow
	}
	fd.dispatch = dispatcher

	loop.Dispatcher = dispatcher
	loop.DNS = relay
	loop.OnActivity = sess.TouchActivity

	sv.mu.Lock()
	sv.loop = loop
	sv.mu.Unlock()

	sess.setState(StateHandshaking)
	sv.log.Info("session starting", zap.String("profile", profile.Name), zap.String("proxy", profile.ResolvedAddr))

	go func() {
		if err := loop.Run(sessCtx); err != nil {
			sv.log.Error("tun loop exited", zap.Error(err))
			sess.SetLastError(err.Error())
			sess.setState(StateError)
		}
	}()

	idleTO := sv.daemon.FlowIdleTimeout
	if idleTO == 0 {
		idleTO = flow.DefaultIdleTimeout
	}
	go sv.runIdleSweep(sessCtx, table, dispatcher, idleTO)

	go runProbeLoop(sessCtx, sv.daemon.Probe.Interval, sv.daemon.Probe.Timeout,
		func(pctx context.Context) (string, error) {
			start := time.Now()
			ip, perr := ProbePublicIP(pctx, dialer, sv.daemon.Probe.Target)
			if sv.metrics != nil {
				sv.metrics.ObserveProbeDuration(time.Since(start))
			}
			return ip, perr
		},
		func(ip string, perr error) { sv.onProbeResult(sess, ip, perr) },
	)

	go runHealthcheck(sessCtx, sess, healthcheckConfig{
		interval:      sv.daemon.Healthcheck.Interval,
		deadThreshold: sv.daemon.Healthcheck.DeadThreshold,
		jitter:        sv.daemon.Healthcheck.Interval / 4,
	}, func() {
		sv.log.Warn("session idle past dead threshold, tearing down", zap.String("profile", profile.Name))
		sv.reconnectOrStop(profile)
	})

	_ = sv.store.SetLastConnected(profile.ID)
	return nil
}

// onProbeResult is the first-successful-probe -> CONNECTED transition spec
// §4.7.6 describes, plus PROXY_ERROR on a failing probe once connected.
func (sv *Supervisor) onProbeResult(sess *Session, ip string, err error) {
	if err != nil {
		if sess.State() == StateConnected {
			sess.setState(StateProxyError)
			sess.SetLastError(err.Error())
			sv.log.Warn("probe failed", zap.Error(err))
		}
		return
	}
	sess.SetPublicIP(ip)
	if sess.State() != StateConnected {
		sv.log.Info("session connected", zap.String("public_ip", ip))
	}
	sess.setState(StateConnected)
	sess.SetLastError("")
}

func (sv *Supervisor) runIdleSweep(ctx context.Context, table *flow.Table, dispatcher *flow.Dispatcher, idleTO time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	// twTicker reaps TIME_WAIT flows on flow.TimeWaitDuration's own short
	// cadence, instead of leaving them to the 10-minute idle sweep above.
	twTicker := time.NewTicker(flow.TimeWaitDuration)
	defer twTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, key := range table.IterExpired(time.Now(), idleTO) {
				dispatcher.RSTFlowByKey(key)
			}
			if sv.metrics != nil {
				sv.metrics.SetFlowsActive(table.Len())
			}
		case <-twTicker.C:
			for _, key := range table.IterTimeWait(time.Now(), flow.TimeWaitDuration) {
				dispatcher.ReapTimeWait(key)
			}
		}
	}
}

// reconnectOrStop tears the dead session down and, unless the store says
// the user asked to stay disconnected, starts a fresh one for the same
// profile — the auto-reconnect half of spec §4.7's responsibilities.
func (sv *Supervisor) reconnectOrStop(profile *config.Profile) {
	sv.teardown()
	if sv.store.ManuallyDisconnected() {
		return
	}
	if err := sv.Start(context.Background(), profile); err != nil {
		sv.log.Error("auto-reconnect failed", zap.Error(err))
	}
}

// Stop ends the active session. force bypasses the automation-session
// protection spec §4.7 requires: a soft stop (force=false) is refused while
// AutomationSessionActive is set, so a running automation doesn't get its
// tunnel yanked by an unrelated manual command.
func (sv *Supervisor) Stop(force bool) error {
	if !force && sv.store.AutomationSessionActive() {
		return fmt.Errorf("supervisor: refusing soft stop while an automation session is active")
	}
	sv.teardown()
	_ = sv.store.SetManuallyDisconnected(true)
	return nil
}

func (sv *Supervisor) teardown() {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.cancel != nil {
		sv.cancel()
		sv.cancel = nil
	}
	if sv.loop != nil {
		sv.loop.Close()
		sv.loop = nil
	}
	sv.session = nil
}

func dialerKind(t config.ProxyType) proxy.Kind {
	if t == config.ProxyHTTP {
		return proxy.KindHTTP
	}
	return proxy.KindSOCKS5
}

func tunPrefixFromConfig(mode config.TunPrefixMode) codec.TunPrefix {
	if mode == config.TunPrefixFour {
		return codec.PrefixFour
	}
	return codec.PrefixNone
}
