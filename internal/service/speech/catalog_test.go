package speech

import (
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePrefersEmotionTaggedVoice(t *testing.T) {
	c := DefaultCatalog()

	excited := c.Resolve("en-US", "excited")
	if excited != "en_male_glen_emo_v2_mars_bigtts" {
		t.Fatalf("expected emotion-tagged voice, got %q", excited)
	}

	calm := c.Resolve("en-US", "calm")
	if calm != "en_female_amy_jupiter_bigtts" {
		t.Fatalf("expected calm voice, got %q", calm)
	}
}

func TestResolveFallsBackToFirstVoice(t *testing.T) {
	c := DefaultCatalog()

	// es-ES 没有带情感标签的音色
	got := c.Resolve("es-ES", "excited")
	if got != "multi_female_sofia_mars_bigtts" {
		t.Fatalf("expected first voice of language, got %q", got)
	}
}

func TestResolveMatchesPrimarySubtag(t *testing.T) {
	c := DefaultCatalog()

	if got := c.Resolve("es", ""); got != "multi_female_sofia_mars_bigtts" {
		t.Fatalf("expected subtag match for es, got %q", got)
	}
	if got := c.Resolve("fr-CA", ""); got != "multi_female_celine_mars_bigtts" {
		t.Fatalf("expected subtag match for fr-CA, got %q", got)
	}
}

func TestResolveUnknownLanguageUsesDefault(t *testing.T) {
	c := DefaultCatalog()

	if got := c.Resolve("xx-XX", "excited"); got != "en_female_amy_jupiter_bigtts" {
		t.Fatalf("expected default voice, got %q", got)
	}
}

func TestLanguagesSorted(t *testing.T) {
	c := DefaultCatalog()

	codes := c.Languages()
	if len(codes) == 0 {
		t.Fatal("expected at least one language")
	}
	for i := 1; i < len(codes); i++ {
		if codes[i-1] >= codes[i] {
			t.Fatalf("languages not sorted: %v", codes)
		}
	}
}

func TestLoadReplacesCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	content := `defaultVoice: custom_default
languages:
  - code: ko-KR
    voices:
      - id: ko_female_test
        emotions: [calm]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}

	c := DefaultCatalog()
	if err := c.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := c.Resolve("ko-KR", "calm"); got != "ko_female_test" {
		t.Fatalf("expected loaded voice, got %q", got)
	}
	if got := c.Resolve("en-US", ""); got != "custom_default" {
		t.Fatalf("expected loaded default for removed language, got %q", got)
	}
	if langs := c.Languages(); len(langs) != 1 || langs[0] != "ko-KR" {
		t.Fatalf("expected single loaded language, got %v", langs)
	}
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte("languages: []\n"), 0o644); err != nil {
		t.Fatalf("write catalog file: %v", err)
	}

	c := DefaultCatalog()
	if err := c.Load(path); err == nil {
		t.Fatal("expected error for empty catalog")
	}
	// 失败的加载不应清空已有目录
	if got := c.Resolve("en-US", "calm"); got != "en_female_amy_jupiter_bigtts" {
		t.Fatalf("catalog was clobbered by failed load: %q", got)
	}
}
