package domain

import (
	"fmt"
	"time"
)

// Storage keys. These are the names the web client used in local storage.
const (
	KeyMessages       = "chat_messages"
	KeyUserName       = "user_name"
	KeyUserAvatar     = "user_avatar"
	KeyBotName        = "bot_name"
	KeyBotAvatar      = "bot_avatar"
	KeyBotPersonality = "bot_personality"
)

// Defaults for a fresh device.
const (
	DefaultUserName   = "User"
	DefaultUserAvatar = "/user-avatar.svg"

	DefaultBotName        = "Amumu"
	DefaultBotAvatar      = "/amumu-avatar.svg"
	DefaultBotPersonality = `Kamu adalah chatbot yang sangat ramah, hangat, dan penuh perhatian. Kamu berbicara dengan gaya yang natural seperti teman dekat, menggunakan bahasa Indonesia yang santai tapi tetap sopan. Selalu ceria dan positif, responsif dan empati terhadap perasaan user.`
)

// Canned replies appended as if the agent had spoken.
const (
	// ConfusedReply is used when the model answers with nothing.
	ConfusedReply = "Hmm, aku bingung mau jawab apa nih (..◜ᴗ◝..) Coba tanya lagi dengan cara yang berbeda ya!"
	// ApologyReply is used for every other generation failure.
	ApologyReply = "Aduh maaf nih, aku lagi ada masalah teknis (⸝⸝๑﹏๑⸝⸝) Coba lagi ya dalam beberapa saat!"
)

const greetingTail = "~ (˶˃ ᵕ ˂˶) Senang banget bisa ngobrol sama kamu! Ada yang bisa aku bantu hari ini?"

// UserProfile is how the user appears in the chat.
type UserProfile struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// AgentProfile is the bot's identity and persona.
type AgentProfile struct {
	Name        string `json:"name"`
	Avatar      string `json:"avatar"`
	Personality string `json:"personality"`
}

// Identity holds the fixed facts the agent states about itself.
type Identity struct {
	Creator string
	Version string
}

// DefaultIdentity returns the identity facts shipped with the bot.
func DefaultIdentity() Identity {
	return Identity{Creator: "@yogakokxd", Version: "Amumu 1.0"}
}

// State is everything a device has persisted.
type State struct {
	Messages []Message    `json:"messages"`
	User     UserProfile  `json:"user"`
	Agent    AgentProfile `json:"agent"`
}

// DefaultUser returns the profile of a user who never saved settings.
func DefaultUser() UserProfile {
	return UserProfile{Name: DefaultUserName, Avatar: DefaultUserAvatar}
}

// DefaultAgent returns the stock Amumu profile.
func DefaultAgent() AgentProfile {
	return AgentProfile{
		Name:        DefaultBotName,
		Avatar:      DefaultBotAvatar,
		Personality: DefaultBotPersonality,
	}
}

// InitialGreeting is the history of a device that never chatted.
func InitialGreeting(now time.Time) []Message {
	return []Message{{
		ID:        1,
		Text:      "Hai! Aku " + DefaultBotName + greetingTail,
		IsUser:    false,
		Timestamp: FormatTimestamp(now),
	}}
}

// ResetGreeting is the history right after a reset. It addresses the user by
// name and always introduces the default bot.
func ResetGreeting(userName string, now time.Time) []Message {
	return []Message{{
		ID:        1,
		Text:      fmt.Sprintf("Hai %s! Aku %s%s", userName, DefaultBotName, greetingTail),
		IsUser:    false,
		Timestamp: FormatTimestamp(now),
	}}
}
