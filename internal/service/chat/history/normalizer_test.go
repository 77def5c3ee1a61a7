package history

import (
	"io"
	"log/slog"
	"testing"

	chatModels "parley/internal/domain/models/chat"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func user(text string) chatModels.Message      { return chatModels.NewUserText(text) }
func assistant(text string) chatModels.Message { return chatModels.NewAssistantText(text) }

// assertCanonical checks the universal history properties.
func assertCanonical(t *testing.T, msgs []chatModels.Message) {
	t.Helper()

	if len(msgs) == 0 {
		return
	}
	if msgs[0].Role != chatModels.RoleUser {
		t.Errorf("first message must be user, got %s", msgs[0].Role)
	}
	if msgs[len(msgs)-1].Role != chatModels.RoleAssistant {
		t.Errorf("last message must be assistant, got %s", msgs[len(msgs)-1].Role)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Role == msgs[i-1].Role {
			t.Errorf("roles not alternating at %d", i)
		}
		if msgs[i].IsPlaceholder() && msgs[i-1].IsPlaceholder() &&
			len(msgs[i].ToolResultIDs()) == 0 && len(msgs[i-1].ToolResultIDs()) == 0 {
			t.Errorf("adjacent placeholders at %d", i)
		}
	}
	for i, m := range msgs {
		if m.Role == chatModels.RoleAssistant {
			for _, id := range m.ToolUseIDs() {
				if i+1 >= len(msgs) || !containsToolResult(msgs[i+1], id) {
					t.Errorf("tool_use %s at %d has no matching result", id, i)
				}
			}
		}
		if m.Role == chatModels.RoleUser {
			for _, id := range m.ToolResultIDs() {
				if i == 0 || !containsToolUse(msgs[i-1], id) {
					t.Errorf("tool_result %s at %d has no matching use", id, i)
				}
			}
		}
	}
}

func TestNormalize_ValidHistoryUnchanged(t *testing.T) {
	in := []chatModels.Message{user("hi"), assistant("hello")}

	out := Normalize(in, testLogger())
	if len(out) != 2 {
		t.Fatalf("expected history unchanged, got %d messages", len(out))
	}
	assertCanonical(t, out)
}

func TestNormalize_DoubledRoles(t *testing.T) {
	in := []chatModels.Message{
		user("X"),
		user("Y"),
		assistant("A"),
		assistant("B"),
	}

	out := Normalize(in, testLogger())
	assertCanonical(t, out)

	// The second user message must survive the repair.
	found := false
	for _, m := range out {
		if m.FirstText() == "Y" {
			found = true
		}
	}
	if !found {
		t.Errorf("user message Y lost: %+v", out)
	}
}

func TestNormalize_DropsEmptyAndDuplicateBlocks(t *testing.T) {
	in := []chatModels.Message{
		{Role: chatModels.RoleUser, Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock("   "),
		}},
		{Role: chatModels.RoleUser, Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock("hello"),
			chatModels.NewTextBlock("hello"),
			chatModels.NewTextBlock(""),
		}},
		assistant("reply"),
	}

	out := Normalize(in, testLogger())
	assertCanonical(t, out)

	if len(out) != 2 {
		t.Fatalf("expected 2 messages after cleaning, got %d", len(out))
	}
	if len(out[0].Content) != 1 || out[0].FirstText() != "hello" {
		t.Errorf("duplicate text not collapsed: %+v", out[0].Content)
	}
}

func TestNormalize_BookendsMissingEndpoints(t *testing.T) {
	in := []chatModels.Message{
		assistant("orphan opening"),
		user("question"),
	}

	out := Normalize(in, testLogger())
	assertCanonical(t, out)

	if !out[0].IsPlaceholder() {
		t.Errorf("expected leading user placeholder, got %+v", out[0])
	}
	if !out[len(out)-1].IsPlaceholder() {
		t.Errorf("expected trailing assistant placeholder, got %+v", out[len(out)-1])
	}
}

func TestNormalize_AnswersDanglingToolUse(t *testing.T) {
	toolUse := chatModels.Message{
		Role: chatModels.RoleAssistant,
		Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock("calling"),
			chatModels.NewToolUseBlock("t9", "demo", map[string]interface{}{}),
		},
	}
	in := []chatModels.Message{user("run it"), toolUse}

	out := Normalize(in, testLogger())
	assertCanonical(t, out)

	// The dangling final tool_use is answered by a tool_result placeholder.
	last := out[len(out)-1]
	if last.Role != chatModels.RoleAssistant {
		t.Fatalf("expected assistant bookend, got %s", last.Role)
	}
	foundResult := false
	for _, m := range out {
		for _, id := range m.ToolResultIDs() {
			if id == "t9" {
				foundResult = true
			}
		}
	}
	if !foundResult {
		t.Errorf("dangling tool_use t9 not answered: %+v", out)
	}
}

func TestNormalize_DropsOrphanToolResult(t *testing.T) {
	in := []chatModels.Message{
		user("hello"),
		assistant("hi"),
		{Role: chatModels.RoleUser, Content: []chatModels.ContentBlock{
			chatModels.NewTextBlock("result incoming"),
			chatModels.NewToolResultBlock("ghost", []chatModels.ContentBlock{chatModels.NewTextBlock("out")}, false),
		}},
		assistant("ok"),
	}

	out := Normalize(in, testLogger())
	assertCanonical(t, out)

	for _, m := range out {
		for _, id := range m.ToolResultIDs() {
			if id == "ghost" {
				t.Errorf("orphan tool_result survived: %+v", out)
			}
		}
	}
}

func TestNormalize_RemovesSandwichedMessage(t *testing.T) {
	in := []chatModels.Message{
		user("keep me"),
		chatModels.NewAssistantPlaceholder(),
		user("wedged"),
		chatModels.NewAssistantPlaceholder(),
		user("tail"),
	}

	out := Normalize(in, testLogger())
	assertCanonical(t, out)

	for _, m := range out {
		if m.FirstText() == "wedged" {
			t.Errorf("sandwiched message survived: %+v", out)
		}
	}
}

func TestNormalize_EmptyAndHopelessInputs(t *testing.T) {
	if out := Normalize(nil, testLogger()); len(out) != 0 {
		t.Errorf("expected empty output for nil input, got %+v", out)
	}

	// Assistant-only noise with nothing user-anchored to keep.
	in := []chatModels.Message{
		{Role: chatModels.RoleAssistant, Content: []chatModels.ContentBlock{chatModels.NewTextBlock("")}},
	}
	out := Normalize(in, testLogger())
	assertCanonical(t, out)
}

func TestNormalize_Idempotent(t *testing.T) {
	cases := [][]chatModels.Message{
		{user("X"), user("Y"), assistant("A"), assistant("B")},
		{assistant("A"), assistant("B")},
		{user("hi")},
		{assistant("solo")},
		{user("a"), assistant("b"), user("c"), assistant("d")},
	}

	for i, in := range cases {
		once := Normalize(in, testLogger())
		twice := Normalize(once, testLogger())

		if len(once) != len(twice) {
			t.Errorf("case %d: second pass changed length %d -> %d", i, len(once), len(twice))
			continue
		}
		for j := range once {
			if once[j].Role != twice[j].Role || once[j].FirstText() != twice[j].FirstText() {
				t.Errorf("case %d: second pass changed message %d", i, j)
			}
		}
	}
}
