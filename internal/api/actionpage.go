package api

import (
	"html/template"
	"strings"

	"github.com/clinicore/outreach/internal/outreach"
)

// ActionPage describes one confirmation page. Rendering is a pure function
// of this struct so the markup can be tested without an HTTP request.
type ActionPage struct {
	Title   string
	Icon    string
	Message string
	Color   string
}

var actionPageTmpl = template.Must(template.New("action").Parse(`<!DOCTYPE html>
<html lang="pt-BR">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, sans-serif; background: #f4f6f8; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; }
.card { background: #fff; border-radius: 12px; box-shadow: 0 2px 12px rgba(0,0,0,.08); padding: 40px 32px; max-width: 380px; text-align: center; }
.icon { font-size: 56px; }
h1 { color: {{.Color}}; font-size: 22px; margin: 16px 0 8px; }
p { color: #55606a; font-size: 15px; line-height: 1.5; }
</style>
</head>
<body>
<div class="card">
<div class="icon">{{.Icon}}</div>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</div>
</body>
</html>
`))

// RenderActionPage returns the HTML for an action page.
func RenderActionPage(p ActionPage) string {
	var b strings.Builder
	if err := actionPageTmpl.Execute(&b, p); err != nil {
		// The template is static and the fields are plain strings; execution
		// cannot fail at runtime, but never return a blank page.
		return "<html><body><h1>" + template.HTMLEscapeString(p.Title) + "</h1></body></html>"
	}
	return b.String()
}

// PageForAction maps a completed action to its patient-facing page.
func PageForAction(kind outreach.ActionKind) ActionPage {
	switch kind {
	case outreach.ActionCancel:
		return ActionPage{
			Title:   "Consulta Cancelada",
			Icon:    "📅",
			Message: "Sua consulta foi cancelada. Entre em contato conosco para reagendar quando desejar.",
			Color:   "#c0392b",
		}
	case outreach.ActionReschedule:
		return ActionPage{
			Title:   "Reagendamento Solicitado",
			Icon:    "🔄",
			Message: "Recebemos sua solicitação de reagendamento. Nossa equipe entrará em contato em breve.",
			Color:   "#e67e22",
		}
	default:
		return ActionPage{
			Title:   "Consulta Confirmada!",
			Icon:    "✅",
			Message: "Sua presença está confirmada. Até breve!",
			Color:   "#27ae60",
		}
	}
}

// ErrorPage is rendered when the appointment update fails after a valid
// token: the patient arrived from a clicked link and has no fallback UI.
func ErrorPage() ActionPage {
	return ActionPage{
		Title:   "Algo deu errado",
		Icon:    "⚠️",
		Message: "Não foi possível processar sua solicitação. Por favor, entre em contato com a clínica.",
		Color:   "#c0392b",
	}
}
