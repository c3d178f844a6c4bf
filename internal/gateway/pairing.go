package gateway

import (
	"encoding/base64"
	"fmt"
	"time"

	qrcode "github.com/skip2/go-qrcode"
)

const pairingCodeSizePx = 256

// renderPairingCode renders the raw pairing code into a scannable PNG data
// URL, the form the control plane embeds directly into an <img> tag.
func renderPairingCode(code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("empty pairing code")
	}
	png, err := qrcode.Encode(code, qrcode.Medium, pairingCodeSizePx)
	if err != nil {
		return "", fmt.Errorf("encode pairing code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// SweepExpiredPairings purges pairing codes older than PairingMaxAge.
//
// A code is purged only if the session is still pairing_pending; if the
// session has since connected or failed, the stale timestamp is discarded
// without touching state. Returns the number of codes purged.
func (r *Registry) SweepExpiredPairings() int {
	now := r.now().UTC()
	purged := 0

	r.mu.Lock()
	for id, rec := range r.sessions {
		if rec.pairingAt.IsZero() || now.Sub(rec.pairingAt) <= r.cfg.PairingMaxAge {
			continue
		}
		if rec.state == StatePairingPending {
			age := now.Sub(rec.pairingAt)
			rec.pairingCode = ""
			rec.pairingAt = time.Time{}
			purged++
			r.log.Info("pairing.expired", "session_id", id, "age", age.String())
		} else {
			rec.pairingAt = time.Time{}
		}
	}
	r.mu.Unlock()

	if purged > 0 {
		metricPairingExpired.Add(float64(purged))
		r.log.Info("pairing.sweep", "purged", purged)
	}
	return purged
}
