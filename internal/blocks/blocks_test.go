package blocks

import (
	"strings"
	"testing"
)

func TestParseFencedBlock(t *testing.T) {
	text := strings.Join([]string{
		"Some narration before.",
		"=== SUBMISSION ===",
		"Deliverable: login api",
		"Evidence: integration test run",
		"=== END SUBMISSION ===",
		"And after.",
	}, "\n")

	result := Parse(text)
	if len(result.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(result.Blocks))
	}
	block := result.Blocks[0]
	if block.Kind != KindSubmission {
		t.Errorf("kind = %s", block.Kind)
	}
	if block.Get("deliverable") != "login api" {
		t.Errorf("Get is case-insensitive on keys; got %q", block.Get("deliverable"))
	}
	if strings.Contains(result.Display, "SUBMISSION") {
		t.Errorf("display still contains the block: %q", result.Display)
	}
	if !strings.Contains(result.Display, "Some narration before.") || !strings.Contains(result.Display, "And after.") {
		t.Errorf("display lost surrounding prose: %q", result.Display)
	}
}

func TestParseProgressUpdateMarkerSpelling(t *testing.T) {
	text := "=== PROGRESS UPDATE ===\nStatus: on track\n=== END PROGRESS UPDATE ==="
	result := Parse(text)
	if len(result.Blocks) != 1 || result.Blocks[0].Kind != KindProgressUpdate {
		t.Fatalf("result = %+v", result)
	}
}

func TestParseContinuationLines(t *testing.T) {
	text := strings.Join([]string{
		"=== ESCALATION ===",
		"Reason: the upstream service",
		"is still returning 500s",
		"=== END ESCALATION ===",
	}, "\n")

	result := Parse(text)
	got := result.Blocks[0].Get("Reason")
	if got != "the upstream service\nis still returning 500s" {
		t.Errorf("continuation not folded into value: %q", got)
	}
}

func TestParseUnterminatedFenceRunsToEnd(t *testing.T) {
	text := "=== STANDUP ===\nYesterday: shipped the parser\nToday: tests"
	result := Parse(text)
	if len(result.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(result.Blocks))
	}
	if result.Blocks[0].Get("Today") != "tests" {
		t.Errorf("fields = %+v", result.Blocks[0].Fields)
	}
	if result.Display != "" {
		t.Errorf("display = %q, want empty", result.Display)
	}
}

func TestParseUnknownMarkerStaysInDisplay(t *testing.T) {
	text := "=== DEPLOY PLAN ===\nstep one\n=== END DEPLOY PLAN ==="
	result := Parse(text)
	if len(result.Blocks) != 0 {
		t.Fatalf("blocks = %v, want none", result.Blocks)
	}
	if !strings.Contains(result.Display, "=== DEPLOY PLAN ===") {
		t.Errorf("display = %q, unknown markers must survive", result.Display)
	}
}

func TestParseSingleLineForms(t *testing.T) {
	text := strings.Join([]string{
		"=== RETRIEVE: decision about caching ===",
		"=== CONTINUITY CONFLICT ===",
	}, "\n")

	result := Parse(text)
	if len(result.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(result.Blocks))
	}
	if result.Blocks[0].Kind != KindRetrieve || result.Blocks[0].Payload != "decision about caching" {
		t.Errorf("retrieve = %+v", result.Blocks[0])
	}
	if result.Blocks[1].Kind != KindContinuityConflict {
		t.Errorf("conflict = %+v", result.Blocks[1])
	}
}

func TestParsePhaseAdvanceTag(t *testing.T) {
	result := Parse("Work is done. [PHASE_ADVANCE: plan] Moving on.")
	if result.PhaseAdvance != "PLAN" {
		t.Errorf("phaseAdvance = %q, want PLAN", result.PhaseAdvance)
	}
	if strings.Contains(result.Display, "PHASE_ADVANCE") {
		t.Errorf("display = %q, tag must be removed", result.Display)
	}
	if !strings.Contains(result.Display, "Work is done.") {
		t.Errorf("display = %q", result.Display)
	}
}

func TestParseProseColonNotAField(t *testing.T) {
	text := strings.Join([]string{
		"=== SUBMISSION ===",
		"Deliverable: parser",
		"Note, this line has: odd punctuation that is not a key",
		"=== END SUBMISSION ===",
	}, "\n")

	block := Parse(text).Blocks[0]
	if len(block.Fields) != 1 {
		t.Fatalf("fields = %+v, want the prose folded into Deliverable", block.Fields)
	}
	if !strings.Contains(block.Get("Deliverable"), "odd punctuation") {
		t.Errorf("value = %q", block.Get("Deliverable"))
	}
}

func TestStripIsIdempotent(t *testing.T) {
	text := "before\n=== SUBMISSION ===\nDeliverable: x\n=== END SUBMISSION ===\nafter [PHASE_ADVANCE:e]"
	once := Strip(text)
	if Strip(once) != once {
		t.Errorf("Strip(Strip(text)) = %q, want %q", Strip(once), once)
	}
	if once != "before\nafter" {
		t.Errorf("stripped = %q", once)
	}
}

func TestParseNeverPanicsOnEmpty(t *testing.T) {
	result := Parse("")
	if len(result.Blocks) != 0 || result.Display != "" {
		t.Errorf("result = %+v", result)
	}
}
