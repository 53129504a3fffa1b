package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDisabled_NoOps(t *testing.T) {
	m := New(false)

	// None of these may panic on the nil collectors.
	m.RecordSignIn("success")
	m.RecordSignOut()
	m.RecordRefresh("failure", 0.5)
	m.RecordUnauthorized()
	m.RecordRetry()
	m.RecordAccountSwitch("cached")
	m.SetCachedTokens(3)
}

func TestEnabled_RecordsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, WithRegisterer(reg))

	m.RecordSignIn("success")
	m.RecordSignIn("success")
	m.RecordSignIn("failure")
	m.RecordSignOut()
	m.RecordRefresh("success", 0.1)
	m.RecordUnauthorized()
	m.RecordRetry()
	m.RecordAccountSwitch("prompt")
	m.SetCachedTokens(2)

	if got := testutil.ToFloat64(m.signInsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("sign_ins_total{success} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.signInsTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("sign_ins_total{failure} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.signOutsTotal); got != 1 {
		t.Errorf("sign_outs_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.refreshesTotal.WithLabelValues("success")); got != 1 {
		t.Errorf("token_refreshes_total{success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.unauthorizedTotal); got != 1 {
		t.Errorf("unauthorized_responses_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.retriesTotal); got != 1 {
		t.Errorf("request_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.accountSwitchesTotal.WithLabelValues("prompt")); got != 1 {
		t.Errorf("account_switches_total{prompt} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cachedTokens); got != 2 {
		t.Errorf("cached_tokens = %v, want 2", got)
	}
}

func TestEnabled_RegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(true, WithRegisterer(reg))
	m.RecordSignIn("success")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "erpauth_sign_ins_total" {
			return
		}
	}
	t.Error("erpauth_sign_ins_total not registered")
}
