package model

import "time"

type ModelID string

const (
	ModelDeepSeek = ModelID("deepseek")
	ModelGemini   = ModelID("gemini")
	ModelGPT      = ModelID("gpt")
)

// Persona describes a chat persona. Every persona may be backed by the same
// API model, only the system prompt and presentation differ.
type Persona struct {
	ID           ModelID `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Icon         string  `json:"icon"`
	BaseModel    string  `json:"baseModel,omitempty"`
	SystemPrompt string  `json:"-"`
	WelcomeID    string  `json:"-"`
	WelcomeText  string  `json:"-"`
}

var personas = []Persona{
	{
		ID:          ModelDeepSeek,
		Name:        "DeepSeek R1",
		Description: "نموذج متخصص في البرمجة والمنطق المعقد",
		Icon:        "Brain",
		BaseModel:   "gemini-3-flash-preview",
		SystemPrompt: "You are DeepSeek R1, an advanced AI assistant specialized in reasoning, coding, and complex problem solving. " +
			"You provide deep, step-by-step analysis. Always answer in the language the user speaks (likely Arabic).",
		WelcomeID:   "welcome-ds",
		WelcomeText: "أهلاً بك! أنا DeepSeek R1، كيف يمكنني مساعدتك في البرمجة أو التحليل اليوم؟",
	},
	{
		ID:           ModelGemini,
		Name:         "Gemini Flash 3.0",
		Description:  "النموذج السريع من جوجل للمهام العامة",
		Icon:         "Sparkles",
		BaseModel:    "gemini-3-flash-preview",
		SystemPrompt: "You are Gemini, a helpful and capable AI assistant from Google. Always answer in the language the user speaks (likely Arabic).",
		WelcomeID:    "welcome-gem",
		WelcomeText:  "مرحباً! أنا Gemini، جاهز لمساعدتك في أي مهمة عامة أو إبداعية.",
	},
	{
		ID:          ModelGPT,
		Name:        "ChatGPT-4o",
		Description: "مساعد ذكي للمحادثات اليومية والإبداع",
		Icon:        "MessageCircle",
		BaseModel:   "gemini-3-flash-preview",
		SystemPrompt: "You are ChatGPT-4o. You are helpful, creative, clever, and very friendly. " +
			"You assist with writing, analysis, and general questions. Always answer in the language the user speaks (likely Arabic).",
		WelcomeID:   "welcome-gpt",
		WelcomeText: "أهلاً! أنا ChatGPT، لنتحدث عن أي موضوع يهمك.",
	},
}

// Personas returns the static persona list in display order.
func Personas() []Persona {
	out := make([]Persona, len(personas))
	copy(out, personas)
	return out
}

func FindPersona(id ModelID) (Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// APIModel returns the underlying API model, or fallback when the persona
// does not name one.
func (p Persona) APIModel(fallback string) string {
	if p.BaseModel == "" {
		return fallback
	}
	return p.BaseModel
}

func (p Persona) HasWelcome() bool {
	return p.WelcomeID != ""
}

func (p Persona) WelcomeMessage(now time.Time) Message {
	return Message{
		ID:        p.WelcomeID,
		Role:      RoleModel,
		Text:      p.WelcomeText,
		Timestamp: now.UnixMilli(),
	}
}

// DefaultChats returns one history per persona, each seeded with its welcome
// message.
func DefaultChats(now time.Time) map[ModelID][]Message {
	chats := make(map[ModelID][]Message, len(personas))
	for _, p := range personas {
		chats[p.ID] = SeedHistory(p, now)
	}
	return chats
}

func SeedHistory(p Persona, now time.Time) []Message {
	if !p.HasWelcome() {
		return []Message{}
	}
	return []Message{p.WelcomeMessage(now)}
}
