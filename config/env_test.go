package config

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("PARTSCOUT_TEST_STR", "hello")
	if value, ok := EnvString("PARTSCOUT_TEST_STR"); !ok || value != "hello" {
		t.Fatalf("EnvString = %q, %v", value, ok)
	}
	if _, ok := EnvString("PARTSCOUT_TEST_MISSING"); ok {
		t.Fatalf("missing variable reported as set")
	}
	t.Setenv("PARTSCOUT_TEST_EMPTY", "")
	if _, ok := EnvString("PARTSCOUT_TEST_EMPTY"); ok {
		t.Fatalf("empty variable reported as set")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("PARTSCOUT_TEST_INT", "42")
	value, ok, err := EnvInt("PARTSCOUT_TEST_INT")
	if err != nil || !ok || value != 42 {
		t.Fatalf("EnvInt = %d, %v, %v", value, ok, err)
	}
	t.Setenv("PARTSCOUT_TEST_INT", "not-a-number")
	if _, _, err := EnvInt("PARTSCOUT_TEST_INT"); err == nil {
		t.Fatalf("malformed int accepted")
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("PARTSCOUT_TEST_DUR", "2m30s")
	value, ok, err := EnvDuration("PARTSCOUT_TEST_DUR")
	if err != nil || !ok || value != 2*time.Minute+30*time.Second {
		t.Fatalf("EnvDuration = %s, %v, %v", value, ok, err)
	}
	t.Setenv("PARTSCOUT_TEST_DUR", "soon")
	if _, _, err := EnvDuration("PARTSCOUT_TEST_DUR"); err == nil {
		t.Fatalf("malformed duration accepted")
	}
}
