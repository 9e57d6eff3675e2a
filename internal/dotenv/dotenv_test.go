package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_AbsentFileSucceeds(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("LoadFile on absent file: %v", err)
	}
}

func TestLoadFile_PopulatesEnvironment(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	contents := "# session defaults\n" +
		"VOICELIVE_TEST_ENDPOINT=wss://voice.example.test\n" +
		"VOICELIVE_TEST_WELCOME=\"hello there\"\n" +
		"export VOICELIVE_TEST_LOCALE=en-GB\n"
	if err := os.WriteFile(envPath, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("VOICELIVE_TEST_ENDPOINT")
		os.Unsetenv("VOICELIVE_TEST_WELCOME")
		os.Unsetenv("VOICELIVE_TEST_LOCALE")
	})

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got := os.Getenv("VOICELIVE_TEST_ENDPOINT"); got != "wss://voice.example.test" {
		t.Fatalf("endpoint = %q, want wss://voice.example.test", got)
	}
	if got := os.Getenv("VOICELIVE_TEST_WELCOME"); got != "hello there" {
		t.Fatalf("welcome = %q, want unquoted value", got)
	}
	if got := os.Getenv("VOICELIVE_TEST_LOCALE"); got != "en-GB" {
		t.Fatalf("locale = %q, want en-GB", got)
	}
}

func TestLoadFile_ProcessEnvironmentWins(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envPath, []byte("VOICELIVE_TEST_MODEL=from-file\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	t.Setenv("VOICELIVE_TEST_MODEL", "from-shell")

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := os.Getenv("VOICELIVE_TEST_MODEL"); got != "from-shell" {
		t.Fatalf("model = %q, want the pre-set value kept", got)
	}
}
