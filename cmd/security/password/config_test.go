package password

import (
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{
		"POSTLINE_PASSWORD_ALGO",
		"POSTLINE_PASSWORD_MIN_LEN",
		"POSTLINE_PASSWORD_MAX_LEN",
		"POSTLINE_ARGON2_MEMORY_KIB",
		"POSTLINE_ARGON2_ITERATIONS",
		"POSTLINE_ARGON2_PARALLELISM",
		"POSTLINE_ARGON2_SALT_LEN",
		"POSTLINE_ARGON2_KEY_LEN",
		"POSTLINE_BCRYPT_COST",
	} {
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.Algorithm != AlgorithmArgon2id {
		t.Fatalf("algorithm mismatch: %q", cfg.Algorithm)
	}
	if cfg.Policy != def.Policy {
		t.Fatalf("policy mismatch: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("memory mismatch")
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("POSTLINE_PASSWORD_ALGO", "BCRYPT")
	t.Setenv("POSTLINE_PASSWORD_MIN_LEN", "10")
	t.Setenv("POSTLINE_PASSWORD_MAX_LEN", "200")
	t.Setenv("POSTLINE_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("POSTLINE_ARGON2_ITERATIONS", "4")
	t.Setenv("POSTLINE_ARGON2_PARALLELISM", "2")
	t.Setenv("POSTLINE_ARGON2_SALT_LEN", "24")
	t.Setenv("POSTLINE_ARGON2_KEY_LEN", "32")
	t.Setenv("POSTLINE_BCRYPT_COST", "11")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.Algorithm != AlgorithmBcrypt || cfg.BcryptCost != 11 {
		t.Fatalf("algorithm override failed: %q cost=%d", cfg.Algorithm, cfg.BcryptCost)
	}
	if cfg.Policy.MinLength != 10 || cfg.Policy.MaxLength != 200 {
		t.Fatalf("policy override failed: %+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.SaltLength != 24 || cfg.Params.KeyLength != 32 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{name: "min above max", env: map[string]string{"POSTLINE_PASSWORD_MIN_LEN": "20", "POSTLINE_PASSWORD_MAX_LEN": "10"}},
		{name: "unknown algo", env: map[string]string{"POSTLINE_PASSWORD_ALGO": "md5"}},
		{name: "memory too small", env: map[string]string{"POSTLINE_ARGON2_MEMORY_KIB": "16"}},
		{name: "bcrypt cost", env: map[string]string{"POSTLINE_BCRYPT_COST": "99"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
