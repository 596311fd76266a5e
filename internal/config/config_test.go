package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"commsplan/internal/timeline"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(envMap(nil))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" || cfg.Auth.Mode != "dev" || cfg.Webhook.MaxAttempts != 8 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	p, err := cfg.Engine.Policy.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.KuOverrideSeverity != timeline.StateOffline || p.KaOutageSeverity != timeline.StateDegraded {
		t.Fatalf("unexpected default policy: %+v", p)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
port: "9000"
rate:
  rps: 5
  burst: 2
engine:
  boundary_epsilon: 2s
  policy:
    ku_override_severity: degraded
    aar_transports: [Ka, ku-band]
`
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := load(envMap(map[string]string{"CONFIG_FILE": path, "PORT": "9100", "RATE_BURST": "4"}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9100" || cfg.Rate.RPS != 5 || cfg.Rate.Burst != 4 {
		t.Fatalf("env should override file: %+v", cfg)
	}
	if cfg.Engine.BoundaryEpsilon != 2*time.Second {
		t.Fatalf("epsilon = %s", cfg.Engine.BoundaryEpsilon)
	}
	p, err := cfg.Engine.Policy.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if p.KuOverrideSeverity != timeline.StateDegraded {
		t.Fatalf("ku severity = %s", p.KuOverrideSeverity)
	}
	if len(p.AARTransports) != 2 || p.AARTransports[0] != timeline.TransportKa || p.AARTransports[1] != timeline.TransportKu {
		t.Fatalf("aar transports = %v", p.AARTransports)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"bad number":       {"RATE_BURST": "many"},
		"hmac no secret":   {"AUTH_MODE": "hmac"},
		"unknown severity": {"POLICY_AAR_SEVERITY": "sideways"},
		"unknown mode":     {"AUTH_MODE": "jwks"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(envMap(env)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
