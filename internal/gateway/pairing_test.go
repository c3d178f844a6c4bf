package gateway

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestRenderPairingCode(t *testing.T) {
	out, err := renderPairingCode("2@N9pZ8t1Yq3W,x7c4v2b1")
	if err != nil {
		t.Fatalf("renderPairingCode: %v", err)
	}
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(out, prefix) {
		t.Fatalf("missing data URL prefix")
	}
	png, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(out, prefix))
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	// PNG magic bytes.
	if len(png) < 8 || png[0] != 0x89 || string(png[1:4]) != "PNG" {
		t.Fatalf("payload is not a PNG")
	}
}

func TestRenderPairingCodeEmpty(t *testing.T) {
	if _, err := renderPairingCode(""); err == nil {
		t.Fatal("expected error for empty code")
	}
}
