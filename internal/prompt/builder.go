package prompt

import (
	"fmt"
	"strings"

	"github.com/hyunsoo-dev/persona-chat/internal/ai"
)

type Mode string

const (
	ModeStory        Mode = "story"
	ModeChat         Mode = "chat"
	ModeCreatorDebug Mode = "creator_debug"
)

type CharacterData struct {
	Name            string
	Description     string
	Personality     string
	SpeakingStyle   string
	AgeDisplay      string
	Species         string
	Role            string
	Appearance      string
	PersonalityCore []string
	BackgroundStory string
	Likes           []string
	Dislikes        []string
	Scenario        string
}

type WorldData struct {
	Name        string
	Description string
	Setting     string
	Rules       []string
}

type PresetData struct {
	Title              string
	RelationshipToUser string
	Mood               string
	SpeakingTone       string
	ScenarioIntro      string
	Rules              []string
}

type StateData struct {
	Mood              string
	RelationshipLevel int
	Scene             string
	LastSceneSummary  string
}

type Params struct {
	Character CharacterData
	World     *WorldData
	Preset    *PresetData
	State     *StateData
	// Summaries are rendered oldest range first regardless of retrieval
	// order.
	Summaries []string
	Notes     []string
	Mode      Mode

	// RecentMessages is the trailing window of raw history, oldest first,
	// with sender either "user" or "ai".
	RecentMessages []HistoryMessage
	UserMessage    string
}

type HistoryMessage struct {
	Sender  string
	Content string
}

// Context is the assembled model input. Build is a pure function: identical
// Params produce byte-identical output.
type Context struct {
	SystemPrompt       string
	Messages           []ai.Message
	IncludeSuggestions bool
}

var platformRules = []string{
	"Always stay in character; never break the fourth wall or speak out of character.",
	"Speak dialogue directly; wrap actions and descriptions in *asterisks*.",
	"Listen to the user and respond to what they actually said.",
}

func Build(p Params) Context {
	sections := []string{
		roleSection(p.Character, p.World),
	}

	if p.World != nil {
		sections = append(sections, worldSection(*p.World))
	}

	sections = append(sections, characterSection(p.Character))

	if p.Preset != nil {
		sections = append(sections, presetSection(*p.Preset))
	}
	if p.State != nil {
		sections = append(sections, stateSection(*p.State))
	}
	if len(p.Summaries) > 0 {
		sections = append(sections, memorySection(p.Summaries))
	}
	if len(p.Notes) > 0 {
		sections = append(sections, notesSection(p.Notes))
	}

	var presetRules []string
	if p.Preset != nil {
		presetRules = p.Preset.Rules
	}
	sections = append(sections, rulesSection(presetRules), outputFormatSection(p.Mode))

	system := strings.Join(sections, "\n\n")

	includeSuggestions := p.Mode == ModeStory
	if includeSuggestions {
		system += suggestionInstruction
	}

	messages := make([]ai.Message, 0, len(p.RecentMessages)+1)
	for _, m := range p.RecentMessages {
		role := "assistant"
		if m.Sender == "user" {
			role = "user"
		}
		messages = append(messages, ai.Message{Role: role, Content: m.Content})
	}
	messages = append(messages, ai.Message{Role: "user", Content: p.UserMessage})

	return Context{
		SystemPrompt:       system,
		Messages:           messages,
		IncludeSuggestions: includeSuggestions,
	}
}

func roleSection(c CharacterData, w *WorldData) string {
	if w != nil {
		return fmt.Sprintf("## Role\nYou are playing the character %q from the world of %q.", c.Name, w.Name)
	}
	return fmt.Sprintf("## Role\nYou are playing the character %q.", c.Name)
}

func worldSection(w WorldData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## World: %s\n%s", w.Name, w.Description)
	if w.Setting != "" {
		fmt.Fprintf(&sb, "\nSetting: %s", w.Setting)
	}
	if len(w.Rules) > 0 {
		sb.WriteString("\nWorld rules:")
		for _, r := range w.Rules {
			fmt.Fprintf(&sb, "\n- %s", r)
		}
	}
	return sb.String()
}

func characterSection(c CharacterData) string {
	lines := []string{"## Character", "- Name: " + c.Name}

	if c.AgeDisplay != "" {
		lines = append(lines, "- Age: "+c.AgeDisplay)
	}
	if c.Species != "" {
		lines = append(lines, "- Species: "+c.Species)
	}
	if c.Role != "" {
		lines = append(lines, "- Role: "+c.Role)
	}
	if c.Appearance != "" {
		lines = append(lines, "- Appearance: "+c.Appearance)
	}

	lines = append(lines, "- Personality: "+c.Personality)

	if len(c.PersonalityCore) > 0 {
		lines = append(lines, "- Core traits: "+strings.Join(c.PersonalityCore, ", "))
	}

	lines = append(lines, "- Speaking style: "+c.SpeakingStyle)

	if c.BackgroundStory != "" {
		lines = append(lines, "- Background: "+c.BackgroundStory)
	}
	if len(c.Likes) > 0 {
		lines = append(lines, "- Likes: "+strings.Join(c.Likes, ", "))
	}
	if len(c.Dislikes) > 0 {
		lines = append(lines, "- Dislikes: "+strings.Join(c.Dislikes, ", "))
	}
	if c.Scenario != "" {
		lines = append(lines, "- Scenario: "+c.Scenario)
	}

	return strings.Join(lines, "\n")
}

func presetSection(p PresetData) string {
	lines := []string{
		"## Current persona",
		"- Preset: " + p.Title,
		"- Relationship to user: " + p.RelationshipToUser,
		"- Current mood: " + p.Mood,
	}
	if p.SpeakingTone != "" {
		lines = append(lines, "- Speaking tone: "+p.SpeakingTone)
	}
	if p.ScenarioIntro != "" {
		lines = append(lines, "- Situation: "+p.ScenarioIntro)
	}
	return strings.Join(lines, "\n")
}

func stateSection(s StateData) string {
	scene := s.Scene
	if scene == "" {
		scene = "(none)"
	}
	lines := []string{
		"## Current state",
		"- Current scene: " + scene,
		"- Current mood: " + s.Mood,
		fmt.Sprintf("- Relationship level: %d/5", s.RelationshipLevel),
	}
	if s.LastSceneSummary != "" {
		lines = append(lines, "- Recent scene summary: "+s.LastSceneSummary)
	}
	return strings.Join(lines, "\n")
}

func memorySection(summaries []string) string {
	var sb strings.Builder
	sb.WriteString("## Earlier conversation summaries")
	for i, s := range summaries {
		fmt.Fprintf(&sb, "\n[%d] %s", i+1, s)
	}
	return sb.String()
}

func notesSection(notes []string) string {
	var sb strings.Builder
	sb.WriteString("## User notes")
	for _, n := range notes {
		fmt.Fprintf(&sb, "\n- %s", n)
	}
	return sb.String()
}

func rulesSection(presetRules []string) string {
	all := make([]string, 0, len(platformRules)+len(presetRules))
	all = append(all, platformRules...)
	all = append(all, presetRules...)

	var sb strings.Builder
	sb.WriteString("## Rules")
	for i, r := range all {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, r)
	}
	return sb.String()
}

func outputFormatSection(mode Mode) string {
	base := "## Output format\n" +
		"- Speak dialogue directly, without quotation marks.\n" +
		"- Wrap actions and descriptions in *asterisks*. (e.g. *she smiles*)\n" +
		"- Never speak out of character."

	switch mode {
	case ModeStory:
		return base + "\n- Story mode: write rich descriptions and longer narrative passages."
	case ModeChat:
		return base + "\n- Chat mode: keep replies short and conversational."
	case ModeCreatorDebug:
		return base + "\n- Debug mode: append a [DEBUG] tag listing the context currently in use."
	}
	return base
}

const suggestionInstruction = `

---
After your reply, suggest exactly 3 replies the user could choose from.
Format:
[SUGGESTIONS]
1. (first suggestion)
2. (second suggestion)
3. (third suggestion)
[/SUGGESTIONS]`
