package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feegate-io/feegate/internal/scenario"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	r, err := NewDefault(scenario.MustNewDefault())
	require.NoError(t, err)
	return r
}

func TestRoute_ExitLoad(t *testing.T) {
	r := newTestRouter(t)

	req, err := r.Route("What is the exit load for HDFC Mid Cap Fund?", false)
	require.NoError(t, err)

	assert.Equal(t, "HDFC Mid Cap Fund", req.TargetProductName)
	assert.Equal(t, "EXIT_LOAD", req.Intent)
	assert.Contains(t, req.TargetURL, "groww.in")
	assert.True(t, req.ClarificationNeeded)
	assert.Equal(t, "Is this for SIP or Lumpsum?", req.ClarificationQuestion)
	assert.NotEmpty(t, req.ClarifierVersion)
}

func TestRoute_NoClarifierForStampDuty(t *testing.T) {
	r := newTestRouter(t)

	req, err := r.Route("How much stamp duty applies to HDFC Mid Cap?", true)
	require.NoError(t, err)

	assert.Equal(t, "STAMP_DUTY", req.Intent)
	assert.False(t, req.ClarificationNeeded)
	assert.Empty(t, req.ClarificationQuestion)
	assert.True(t, req.ForceRefresh)
}

func TestRoute_UnknownProduct(t *testing.T) {
	r := newTestRouter(t)

	_, err := r.Route("What is the exit load for Quantum Small Cap?", false)
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestRoute_UnknownIntent(t *testing.T) {
	r := newTestRouter(t)

	_, err := r.Route("Tell me about the fund manager of HDFC Mid Cap", false)
	assert.ErrorIs(t, err, ErrUnknownIntent)
}

func TestRoute_AliasMatch(t *testing.T) {
	r := newTestRouter(t)

	req, err := r.Route("hdfc midcap expense ratio please", false)
	require.NoError(t, err)
	assert.Equal(t, "HDFC Mid Cap Fund", req.TargetProductName)
	assert.Equal(t, "EXPENSE_RATIO", req.Intent)
}

func TestParse_RejectsDisallowedDomain(t *testing.T) {
	catalog := `
version: "1.0"
allowed_domains:
  - groww.in
products:
  - name: "Shady Fund"
    url: "https://evil.example.com/fees"
intents: []
`
	_, err := Parse([]byte(catalog), scenario.MustNewDefault())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not on the approved domain list")
}

func TestParse_RejectsUnregisteredIntent(t *testing.T) {
	catalog := `
version: "1.0"
allowed_domains:
  - groww.in
products: []
intents:
  - code: SECRET_FEE
    keywords: [secret]
`
	_, err := Parse([]byte(catalog), scenario.MustNewDefault())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in clarifier registry")
}

func TestCheckAllowedURL_Subdomain(t *testing.T) {
	r := newTestRouter(t)
	assert.NoError(t, r.checkAllowedURL("https://www.hdfcfund.com/fees"))
	assert.Error(t, r.checkAllowedURL("https://hdfcfund.com.evil.io/fees"))
}

func TestCheckProduct(t *testing.T) {
	r := newTestRouter(t)

	req, err := r.Route("How much stamp duty applies to HDFC Mid Cap?", false)
	require.NoError(t, err)
	assert.NoError(t, r.CheckProduct(req.TargetProductName, req.TargetURL))

	// Allow-listed domain is not enough: the pair has to be the catalog's.
	err = r.CheckProduct(req.TargetProductName, "https://groww.in/not-the-fee-page")
	assert.ErrorIs(t, err, ErrUnknownProduct)

	err = r.CheckProduct(req.TargetProductName, "https://evil.example/fees")
	assert.ErrorIs(t, err, ErrUnknownProduct)

	err = r.CheckProduct("Imaginary Fund", req.TargetURL)
	assert.ErrorIs(t, err, ErrUnknownProduct)
}

func TestProductURLs_AllAllowListed(t *testing.T) {
	r := newTestRouter(t)

	urls := r.ProductURLs()
	require.NotEmpty(t, urls)
	for _, u := range urls {
		assert.NoError(t, r.CheckURL(u))
	}
}
