package peer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/binlink/internal/logging"
	"github.com/danmuck/binlink/internal/protocol/channel"
	"github.com/rs/zerolog"
)

var (
	ErrAddressRequired = errors.New("peer: address required")
	ErrHandshakeFailed = errors.New("peer: handshake failed")
)

// Listener accepts inbound peers and wraps each stream in a channel.
type Listener struct {
	ln  net.Listener
	cfg Config
	log zerolog.Logger
	seq atomic.Uint64
}

// Listen binds addr over TCP, or TLS when cfg.TLS is enabled.
func Listen(addr string, cfg Config) (*Listener, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}

	var (
		ln  net.Listener
		err error
	)
	if cfg.TLS.Enabled {
		tlsCfg, tlsErr := cfg.serverTLSConfig()
		if tlsErr != nil {
			return nil, tlsErr
		}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	l := &Listener{
		ln:  ln,
		cfg: cfg,
		log: logging.Component("peer").With().Str("listen", ln.Addr().String()).Logger(),
	}
	l.log.Info().Bool("tls", cfg.TLS.Enabled).Bool("mutual", cfg.TLS.Mutual).Msg("listening")
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Backoff is the retry schedule configured for this listener.
func (l *Listener) Backoff() BackoffConfig {
	return l.cfg.Backoff
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

type acceptResult struct {
	conn net.Conn
	err  error
}

// Accept waits for the next peer and returns a channel over its stream. A
// connection that arrives after ctx is done is closed.
func (l *Listener) Accept(ctx context.Context) (*channel.Channel, error) {
	results := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		results <- acceptResult{conn: conn, err: err}
	}()

	var res acceptResult
	select {
	case res = <-results:
	case <-ctx.Done():
		go func() {
			if late := <-results; late.conn != nil {
				_ = late.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, res.err
	}

	if err := handshake(ctx, res.conn, l.cfg.HandshakeTimeout); err != nil {
		_ = res.conn.Close()
		l.log.Warn().Err(err).Str("remote", res.conn.RemoteAddr().String()).Msg("handshake failed")
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	chCfg := l.cfg.Channel
	chCfg.Name = fmt.Sprintf("%s#%d", l.cfg.Channel.Name, l.seq.Add(1))
	ch := channel.New(res.conn, chCfg)
	l.log.Info().
		Str("channel", chCfg.Name).
		Str("remote", res.conn.RemoteAddr().String()).
		Str("identity", peerIdentity(res.conn)).
		Msg("peer accepted")
	return ch, nil
}

// Dial connects to addr, retrying failed attempts with backoff until
// MaxConnectAttempts is reached or ctx is done.
func Dial(ctx context.Context, addr string, cfg Config) (*channel.Channel, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	log := logging.Component("peer").With().Str("addr", addr).Logger()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		conn, err := dialOnce(ctx, addr, cfg)
		if err == nil {
			chCfg := cfg.Channel
			if chCfg.Name == channel.DefaultConfig().Name {
				chCfg.Name = fmt.Sprintf("%s@%s", chCfg.Name, addr)
			}
			log.Info().Int("attempt", attempt).Str("channel", chCfg.Name).Msg("connected")
			return channel.New(conn, chCfg), nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if cfg.MaxConnectAttempts > 0 && attempt >= cfg.MaxConnectAttempts {
			return nil, fmt.Errorf("peer: dial %s after %d attempts: %w", addr, attempt, err)
		}
		if err := SleepBackoff(ctx, cfg.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
}

func dialOnce(ctx context.Context, addr string, cfg Config) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return rawConn, nil
	}

	tlsCfg, err := cfg.clientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	if err := handshake(ctx, conn, cfg.HandshakeTimeout); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func handshake(ctx context.Context, conn net.Conn, timeout time.Duration) error {
	tc, ok := conn.(*tls.Conn)
	if !ok {
		return nil
	}
	handshakeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return tc.HandshakeContext(handshakeCtx)
}

// SleepBackoff waits out the delay for retry attempt or returns ctx.Err()
// when ctx is done first.
func SleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
