package emotion

import "testing"

func TestClassifyExcited(t *testing.T) {
	cls := Classify("Amazing work everyone!! That was fantastic!!")
	if cls.Category != Excited {
		t.Fatalf("expected excited, got %q", cls.Category)
	}
	if cls.Confidence < MinConfidence {
		t.Fatalf("confidence below threshold: %f", cls.Confidence)
	}
}

func TestClassifySerious(t *testing.T) {
	cls := Classify("Pay attention, this is important and will be on the exam. Remember the deadline.")
	if cls.Category != Serious {
		t.Fatalf("expected serious, got %q", cls.Category)
	}
}

func TestClassifyNeutralText(t *testing.T) {
	cls := Classify("The homework for chapter three is on page twelve.")
	if cls.Category != None {
		t.Fatalf("expected no category, got %q with confidence %f", cls.Category, cls.Confidence)
	}
}

func TestClassifyEmptyText(t *testing.T) {
	if cls := Classify("   "); cls.Category != None {
		t.Fatalf("expected no category for blank text, got %q", cls.Category)
	}
}

func TestConfidenceIsCapped(t *testing.T) {
	cls := Classify("Wow!! Wow!! Wow!! Wow!!")
	if cls.Confidence > 1 {
		t.Fatalf("confidence above 1: %f", cls.Confidence)
	}
}

func TestStyleSpeedIsClamped(t *testing.T) {
	style := StyleFor("Amazing!! Fantastic!! Incredible!!", 0.9, 1.05)
	if style.Category != Excited {
		t.Fatalf("expected excited, got %q", style.Category)
	}
	if style.SpeedMultiplier != 1.05 {
		t.Fatalf("speed not clamped to max, got %f", style.SpeedMultiplier)
	}
}

func TestStyleNeutralKeepsDefaults(t *testing.T) {
	text := "Open your books to page forty."
	style := StyleFor(text, 0.6, 1.5)
	if style.SpeedMultiplier != 1.0 {
		t.Fatalf("neutral speed changed: %f", style.SpeedMultiplier)
	}
	if style.Text != text {
		t.Fatalf("neutral text modified: %q", style.Text)
	}
}

func TestMarkupAppliesAboveSecondaryThreshold(t *testing.T) {
	style := StyleFor("Wow!! Amazing!! Fantastic!! Incredible work!!", 0.6, 1.5)
	if style.Confidence <= MarkupConfidence {
		t.Skipf("sample did not reach markup confidence: %f", style.Confidence)
	}
	if style.Text == "Wow!! Amazing!! Fantastic!! Incredible work!!" {
		t.Fatalf("markup not applied despite confidence %f", style.Confidence)
	}
}

func TestMarkupUppercasesExclamatoryWords(t *testing.T) {
	got := markupExclamations("that was amazing! keep going")
	if got != "that was AMAZING! keep going" {
		t.Fatalf("unexpected markup result: %q", got)
	}
}
