package api

import (
	"strings"
	"testing"

	"github.com/clinicore/outreach/internal/outreach"
)

func TestRenderActionPage(t *testing.T) {
	p := ActionPage{
		Title:   "Consulta Confirmada!",
		Icon:    "✅",
		Message: "Sua presença está confirmada.",
		Color:   "#27ae60",
	}

	markup := RenderActionPage(p)

	for _, want := range []string{p.Title, p.Icon, p.Message, p.Color, "<!DOCTYPE html>"} {
		if !strings.Contains(markup, want) {
			t.Errorf("markup missing %q", want)
		}
	}
}

func TestRenderActionPageEscapesContent(t *testing.T) {
	p := ActionPage{
		Title:   "<script>alert(1)</script>",
		Message: "a & b",
		Color:   "#fff",
	}

	markup := RenderActionPage(p)

	if strings.Contains(markup, "<script>alert(1)</script>") {
		t.Error("title not escaped")
	}
	if !strings.Contains(markup, "&lt;script&gt;") {
		t.Error("escaped title missing")
	}
}

func TestPageForAction(t *testing.T) {
	cases := []struct {
		kind  outreach.ActionKind
		title string
	}{
		{kind: outreach.ActionConfirm, title: "Consulta Confirmada!"},
		{kind: outreach.ActionCancel, title: "Consulta Cancelada"},
		{kind: outreach.ActionReschedule, title: "Reagendamento Solicitado"},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			if got := PageForAction(tc.kind).Title; got != tc.title {
				t.Errorf("title = %q, want %q", got, tc.title)
			}
		})
	}
}
