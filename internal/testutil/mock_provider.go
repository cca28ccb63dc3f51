package testutil

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/feegate-io/feegate/internal/knowledge"
)

// CitedProvider is a generation stub that always emits bullets citing the
// packet source. Calls counts invocations.
type CitedProvider struct {
	Calls int
	// Uncited makes the provider omit citations, tripping the citation gate.
	Uncited bool
}

func (p *CitedProvider) Name() string { return "stub" }

func (p *CitedProvider) GenerateBullets(_ context.Context, pkt *knowledge.Packet, intent string) ([]string, error) {
	p.Calls++
	if p.Uncited {
		return []string{"An unverifiable claim about " + intent + "."}, nil
	}
	return []string{
		fmt.Sprintf("The %s charge is listed in the official schedule. [Source](%s)", intent, pkt.SourceURL),
	}, nil
}

// NewSourceServer starts an httptest server serving a fixed fee-schedule HTML
// page and registers t.Cleanup to close it.
func NewSourceServer(t *testing.T, html string) *httptest.Server {
	t.Helper()
	if html == "" {
		html = "<h2>Fees</h2><p>Stamp duty of 0.005% applies to every purchase.</p>"
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}
