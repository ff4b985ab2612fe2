package kerberos

import (
	"os"
	"testing"
	"time"
)

func TestConfigServicePrincipal(t *testing.T) {
	cfg := Config{
		ServiceName:     "broker",
		ServiceHostname: "broker.example.com",
		OriginRealm:     "EXAMPLE.COM",
	}
	want := "broker/broker.example.com@EXAMPLE.COM"
	if got := cfg.ServicePrincipal(); got != want {
		t.Fatalf("ServicePrincipal() = %q, want %q", got, want)
	}
}

func TestNewProviderRejectsMissingKeytabPath(t *testing.T) {
	_, err := NewProvider(Config{})
	if err == nil {
		t.Fatal("expected error for missing keytab_path")
	}
}

func TestNewProviderLoadsKeytabAndSkew(t *testing.T) {
	dir := t.TempDir()
	path := createTestKeytab(t, dir)

	cfg := Config{
		KeytabPath:      path,
		ServiceName:     "broker",
		ServiceHostname: "broker.example.com",
		OriginRealm:     "EXAMPLE.COM",
		Krb5ConfPath:    writeMinimalKrb5Conf(t, dir),
		MaxClockSkew:    5 * time.Minute,
	}

	p, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer p.Close()

	if p.ServicePrincipal() != "broker/broker.example.com@EXAMPLE.COM" {
		t.Fatalf("unexpected service principal: %s", p.ServicePrincipal())
	}
	if p.MaxClockSkew() != 5*time.Minute {
		t.Fatalf("unexpected max clock skew: %s", p.MaxClockSkew())
	}
	if p.Keytab() == nil {
		t.Fatal("expected non-nil keytab")
	}
}

func writeMinimalKrb5Conf(t *testing.T, dir string) string {
	t.Helper()
	path := dir + "/krb5.conf"
	contents := "[libdefaults]\n  default_realm = EXAMPLE.COM\n"
	if err := os.WriteFile(path, []byte(contents), 0600); err != nil {
		t.Fatalf("write krb5.conf: %v", err)
	}
	return path
}
