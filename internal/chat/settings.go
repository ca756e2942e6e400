package chat

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/amumu-chat/amumu/internal/avatar"
)

// Settings is the payload of the settings dialog. Both tabs are saved together.
// Blank fields are stored as given and read back as the defaults.
type Settings struct {
	UserName       string `json:"userName" validate:"max=80"`
	UserAvatar     string `json:"userAvatar" validate:"omitempty,avatar"`
	BotName        string `json:"botName" validate:"max=80"`
	BotAvatar      string `json:"botAvatar" validate:"omitempty,avatar"`
	BotPersonality string `json:"botPersonality" validate:"max=4000"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("avatar", func(fl validator.FieldLevel) bool {
		return avatar.Valid(fl.Field().String())
	}); err != nil {
		panic("chat: register avatar validation: " + err.Error())
	}
	return v
}

func (s Settings) normalized() Settings {
	s.UserName = strings.TrimSpace(s.UserName)
	s.UserAvatar = strings.TrimSpace(s.UserAvatar)
	s.BotName = strings.TrimSpace(s.BotName)
	s.BotAvatar = strings.TrimSpace(s.BotAvatar)
	s.BotPersonality = strings.TrimSpace(s.BotPersonality)
	return s
}
