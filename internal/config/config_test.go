package config

import (
	"testing"

	"arbitrage/pkg/crypto"
)

func TestDecryptCredentialsSkippedInSimulation(t *testing.T) {
	cfg := &Config{
		Simulation:  SimulationConfig{Enabled: true},
		Credentials: CredentialsConfig{KalshiPrivateKey: "not-a-valid-ciphertext"},
	}
	if err := cfg.decryptCredentials(); err != nil {
		t.Fatalf("expected no error in simulation mode, got %v", err)
	}
	if cfg.Credentials.KalshiPrivateKey != "not-a-valid-ciphertext" {
		t.Errorf("expected credential untouched in simulation mode, got %q", cfg.Credentials.KalshiPrivateKey)
	}
}

func TestDecryptCredentialsRoundTrip(t *testing.T) {
	key := "12345678901234567890123456789012" // 32 bytes
	encKalshi, err := crypto.EncryptWithKeyString("kalshi-secret", key)
	if err != nil {
		t.Fatalf("EncryptWithKeyString: %v", err)
	}
	encPoly, err := crypto.EncryptWithKeyString("poly-secret", key)
	if err != nil {
		t.Fatalf("EncryptWithKeyString: %v", err)
	}

	cfg := &Config{
		Simulation: SimulationConfig{Enabled: false},
		Credentials: CredentialsConfig{
			EncryptionKey:    key,
			KalshiPrivateKey: encKalshi,
			PolyAPISecret:    encPoly,
		},
	}

	if err := cfg.decryptCredentials(); err != nil {
		t.Fatalf("decryptCredentials failed: %v", err)
	}
	if cfg.Credentials.KalshiPrivateKey != "kalshi-secret" {
		t.Errorf("KalshiPrivateKey: got %q, want %q", cfg.Credentials.KalshiPrivateKey, "kalshi-secret")
	}
	if cfg.Credentials.PolyAPISecret != "poly-secret" {
		t.Errorf("PolyAPISecret: got %q, want %q", cfg.Credentials.PolyAPISecret, "poly-secret")
	}
}

func TestDecryptCredentialsWrongKeyFails(t *testing.T) {
	enc, err := crypto.EncryptWithKeyString("secret", "12345678901234567890123456789012")
	if err != nil {
		t.Fatalf("EncryptWithKeyString: %v", err)
	}

	cfg := &Config{
		Simulation: SimulationConfig{Enabled: false},
		Credentials: CredentialsConfig{
			EncryptionKey:    "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz", // 32 bytes, different from the real key
			KalshiPrivateKey: enc,
		},
	}

	if err := cfg.decryptCredentials(); err == nil {
		t.Fatal("expected decryption with the wrong key to fail")
	}
}
