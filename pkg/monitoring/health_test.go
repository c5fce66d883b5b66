package monitoring

import (
	"testing"

	"gigworks/api_credits/pkg/version"
)

func TestHealthChecker_Basic(t *testing.T) {
	hc := NewHealthChecker("svc", version.Info{Version: "v1", GitCommit: "abc123", BuildDate: "2026-08-29"})
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	status := hc.CheckHealth()
	if status.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", status.Status)
	}
	if status.Build.Version != "v1" || status.Build.GitCommit != "abc123" {
		t.Fatalf("expected build info in the payload, got %+v", status.Build)
	}
}

func TestHealthChecker_DegradedDoesNotFailOverall(t *testing.T) {
	hc := NewHealthChecker("svc", version.GetInfo())
	hc.AddCheck("ok", func() CheckResult { return CheckResult{Status: StatusHealthy} })
	hc.AddCheck("bus", func() CheckResult { return CheckResult{Status: StatusDegraded, Message: "broker unreachable"} })
	status := hc.CheckHealth()
	if status.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %q", status.Status)
	}
}

func TestHealthChecker_UnhealthyWins(t *testing.T) {
	hc := NewHealthChecker("svc", version.GetInfo())
	hc.AddCheck("bus", func() CheckResult { return CheckResult{Status: StatusDegraded} })
	hc.AddCheck("db", func() CheckResult { return CheckResult{Status: StatusUnhealthy, Message: "connection refused"} })
	status := hc.CheckHealth()
	if status.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %q", status.Status)
	}
}

func TestConfigurationHealthCheck(t *testing.T) {
	res := ConfigurationHealthCheck(map[string]string{"DATABASE_URL": "postgres://x"})()
	if res.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %q", res.Status)
	}
	res = ConfigurationHealthCheck(map[string]string{"DATABASE_URL": ""})()
	if res.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy for missing config, got %q", res.Status)
	}
}
