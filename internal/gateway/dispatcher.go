package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// defaultAddressSuffix qualifies a bare recipient number into the
// platform's full addressing form.
const defaultAddressSuffix = "@c.us"

// Dispatcher gates outbound delivery on session readiness and translates
// connection-level failures into session state transitions.
type Dispatcher struct {
	log *slog.Logger
	cfg Config
	reg *Registry

	// fetch retrieves remote media payloads.
	fetch *http.Client
}

// NewDispatcher constructs a Dispatcher over the given registry.
func NewDispatcher(log *slog.Logger, cfg Config, reg *Registry) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		log:   log,
		cfg:   cfg,
		reg:   reg,
		fetch: &http.Client{Timeout: cfg.SendTimeout},
	}
}

// SendText delivers a text message through the session's connection.
//
// Preconditions, checked in order and short-circuiting:
//  1. the session exists;
//  2. its recorded state is connected;
//  3. the connection's live state agrees — a mismatch downgrades the
//     record to disconnected before failing.
func (d *Dispatcher) SendText(ctx context.Context, sessionID, recipient, body string) (Receipt, error) {
	conn, err := d.ready(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}
	return d.send(ctx, sessionID, conn, recipient, Payload{Text: body})
}

// SendMedia fetches the payload at mediaURL and delivers it with an
// optional caption. The content type reported by the origin is forwarded
// to the platform.
func (d *Dispatcher) SendMedia(ctx context.Context, sessionID, recipient, mediaURL, caption, kind string) (Receipt, error) {
	conn, err := d.ready(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}

	media, err := d.fetchMedia(ctx, mediaURL)
	if err != nil {
		d.log.Error("dispatch.media.fetch_fail", "session_id", sessionID, "url", mediaURL, "err", err)
		metricSends.WithLabelValues("media", "error").Inc()
		return Receipt{}, fmt.Errorf("fetch media: %w", err)
	}
	media.Caption = caption
	media.Kind = kind

	return d.send(ctx, sessionID, conn, recipient, Payload{Media: media})
}

// ready runs the dispatch preconditions and returns the connection.
func (d *Dispatcher) ready(ctx context.Context, sessionID string) (Conn, error) {
	conn, state, ok := d.reg.lookup(sessionID)
	if !ok {
		d.log.Warn("dispatch.unknown_session", "session_id", sessionID)
		return nil, ErrNotFound
	}
	if state != StateConnected {
		d.log.Warn("dispatch.not_connected", "session_id", sessionID, "state", string(state))
		return nil, NotConnectedError{State: state}
	}

	live, err := d.reg.queryLive(ctx, conn)
	if err != nil {
		// A failing state query is treated conservatively as a dead
		// connection, never as a healthy one.
		d.log.Error("dispatch.state_query.fail", "session_id", sessionID, "err", err)
		d.reg.transition(sessionID, StateDisconnected, nil)
		return nil, ErrSessionClosed
	}
	if live != LiveConnected {
		d.log.Warn("dispatch.not_ready", "session_id", sessionID, "live", string(live))
		d.reg.transition(sessionID, StateDisconnected, nil)
		return nil, NotReadyError{Live: live}
	}
	return conn, nil
}

func (d *Dispatcher) send(ctx context.Context, sessionID string, conn Conn, recipient string, p Payload) (Receipt, error) {
	kind := "text"
	if p.Media != nil {
		kind = "media"
	}

	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	receipt, err := conn.Send(sctx, normalizeAddress(recipient), p)
	if err != nil {
		metricSends.WithLabelValues(kind, "error").Inc()
		if indicatesClosedSession(err) {
			// Downgrade so the next call fails fast at the recorded-state
			// check instead of re-attempting a live query.
			d.log.Error("dispatch.session_closed", "session_id", sessionID, "err", err)
			d.reg.transition(sessionID, StateDisconnected, nil)
			return Receipt{}, ErrSessionClosed
		}
		d.log.Error("dispatch.send.fail", "session_id", sessionID, "kind", kind, "err", err)
		return Receipt{}, fmt.Errorf("send %s: %w", kind, err)
	}

	metricSends.WithLabelValues(kind, "ok").Inc()
	d.log.Info("dispatch.sent", "session_id", sessionID, "kind", kind, "message_id", receipt.MessageID)
	return receipt, nil
}

func (d *Dispatcher) fetchMedia(ctx context.Context, mediaURL string) (*Media, error) {
	fctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.cfg.MediaMaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > d.cfg.MediaMaxBytes {
		return nil, fmt.Errorf("media exceeds %d bytes", d.cfg.MediaMaxBytes)
	}

	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return &Media{MimeType: mime, Data: data}, nil
}

// normalizeAddress qualifies a bare identifier with the platform suffix;
// an already-qualified address passes through unchanged.
func normalizeAddress(recipient string) string {
	if strings.Contains(recipient, "@") {
		return recipient
	}
	return recipient + defaultAddressSuffix
}

// indicatesClosedSession reports whether a send failure means the
// underlying transport session is gone.
func indicatesClosedSession(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "session closed") || strings.Contains(msg, "protocol error")
}
