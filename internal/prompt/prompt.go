// Package prompt assembles the single text prompt sent to the model for each
// user turn.
package prompt

import (
	"strings"
	"text/template"

	"github.com/samber/lo"

	"github.com/amumu-chat/amumu/internal/domain"
)

// Input is everything a prompt is built from.
type Input struct {
	Agent    domain.AgentProfile
	Identity domain.Identity
	UserName string
	// DetectedName is set when the new message is a self-introduction.
	DetectedName string
	// History holds the prior turns, already formatted by History.
	History string
	Message string
}

var tmpl = template.Must(template.New("prompt").Parse(`Kamu adalah {{.Agent.Name}}, seorang chatbot.

PERSONALITY & GAYA BICARA:
{{.Agent.Personality}}

INFORMASI PENTING TENTANG DIRIMU:
- Kamu dibuat oleh {{.Identity.Creator}} (bisa dicari di Instagram)
- Model/Versi kamu: {{.Identity.Version}}
- Jika ditanya siapa yang buat/ciptain kamu, jawab dengan bangga tentang creator-mu {{.Identity.Creator}}!
- Jika ditanya model/versi kamu, jawab "{{.Identity.Version}}"

INFORMASI USER:
- Nama user adalah {{.UserName}}
{{if .DetectedName}}- [PENTING] User baru saja memperkenalkan dirinya dengan nama "{{.DetectedName}}". Kamu HARUS acknowledge ini dengan antusias dan senang! Panggil dia dengan nama barunya.{{end}}

{{if .History}}RIWAYAT PERCAKAPAN SEBELUMNYA:
{{.History}}

{{end}}PESAN TERBARU:
{{.UserName}}: {{.Message}}

INSTRUKSI:
- Baca riwayat percakapan untuk memahami konteks
- Jika user bertanya "mana?", "dimana?", "kapan?", "apa?", dll, lihat percakapan sebelumnya untuk konteks
- Jawab dengan natural dan sesuai personality-mu
- GUNAKAN kaomoji sesekali saat momennya pas (JANGAN di setiap chat!)
- Jangan gunakan emoji kuning standar

Jawab sekarang:`))

// Build renders the prompt.
func Build(in Input) string {
	var sb strings.Builder
	// The template only reads string fields; Execute cannot fail on Input.
	_ = tmpl.Execute(&sb, in)
	return sb.String()
}

// History formats the last limit turns as "speaker: text" lines, labelling
// each turn with the current user and agent names. A limit of zero or less
// yields no history.
func History(msgs []domain.Message, limit int, userName, agentName string) string {
	if limit <= 0 || len(msgs) == 0 {
		return ""
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	lines := lo.Map(msgs, func(m domain.Message, _ int) string {
		speaker := agentName
		if m.IsUser {
			speaker = userName
		}
		return speaker + ": " + m.Text
	})
	return strings.Join(lines, "\n")
}
