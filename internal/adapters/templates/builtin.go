package templates

var builtin = map[string]Entry{
	"en": {
		Subject: "Phishing report: {{.SenderDomain}} (score {{.Score}})",
		Body: `Hello,

we received a phishing email that abuses infrastructure under your responsibility.
Please investigate and take the appropriate action.

Report ID:      {{.ReportID}}
Sender:         {{.Sender}}
Subject:        {{.Subject}}
Received:       {{.ReceivedAt}}
Analyzed:       {{.AnalyzedAt}}
Risk score:     {{.Score}} ({{.Level}})
{{- if .Domain}}
Domain:         {{.Domain}}{{if .Registrar}} (registrar {{.Registrar}}){{end}}{{if .DomainCreated}}, registered {{.DomainCreated}}{{end}}
{{- end}}
{{- if .OriginatingIP}}
Originating IP: {{.OriginatingIP}}{{if .Provider}} ({{.Provider}}){{end}}{{if .Country}}, {{.Country}}{{end}}
{{- end}}
{{- if .Flags}}
Indicators:     {{join .Flags ", "}}
{{- end}}
{{if .URLs}}
URLs (defanged):
{{range .URLs}}  {{.}}
{{end}}{{end}}
{{- if .Summary}}
Summary:
{{.Summary}}
{{end}}
Excerpt:
{{.Excerpt}}

This report was generated automatically ({{.ReportedAt}}).
`,
	},
	"de": {
		Subject: "Phishing-Meldung: {{.SenderDomain}} (Bewertung {{.Score}})",
		Body: `Guten Tag,

wir haben eine Phishing-E-Mail erhalten, die Infrastruktur in Ihrer Verantwortung missbraucht.
Bitte prüfen Sie den Fall und ergreifen Sie geeignete Maßnahmen.

Meldungs-ID:    {{.ReportID}}
Absender:       {{.Sender}}
Betreff:        {{.Subject}}
Empfangen:      {{.ReceivedAt}}
Analysiert:     {{.AnalyzedAt}}
Risikowert:     {{.Score}} ({{.Level}})
{{- if .Domain}}
Domain:         {{.Domain}}{{if .Registrar}} (Registrar {{.Registrar}}){{end}}{{if .DomainCreated}}, registriert {{.DomainCreated}}{{end}}
{{- end}}
{{- if .OriginatingIP}}
Ursprungs-IP:   {{.OriginatingIP}}{{if .Provider}} ({{.Provider}}){{end}}{{if .Country}}, {{.Country}}{{end}}
{{- end}}
{{- if .Flags}}
Merkmale:       {{join .Flags ", "}}
{{- end}}
{{if .URLs}}
URLs (entschärft):
{{range .URLs}}  {{.}}
{{end}}{{end}}
{{- if .Summary}}
Zusammenfassung:
{{.Summary}}
{{end}}
Auszug:
{{.Excerpt}}

Diese Meldung wurde automatisch erstellt ({{.ReportedAt}}).
`,
	},
	"fr": {
		Subject: "Signalement d'hameçonnage : {{.SenderDomain}} (score {{.Score}})",
		Body: `Bonjour,

nous avons reçu un courriel d'hameçonnage qui utilise une infrastructure sous votre responsabilité.
Merci d'examiner ce signalement et de prendre les mesures appropriées.

Référence :     {{.ReportID}}
Expéditeur :    {{.Sender}}
Objet :         {{.Subject}}
Reçu :          {{.ReceivedAt}}
Analysé :       {{.AnalyzedAt}}
Score :         {{.Score}} ({{.Level}})
{{- if .Domain}}
Domaine :       {{.Domain}}{{if .Registrar}} (bureau d'enregistrement {{.Registrar}}){{end}}{{if .DomainCreated}}, créé le {{.DomainCreated}}{{end}}
{{- end}}
{{- if .OriginatingIP}}
IP d'origine :  {{.OriginatingIP}}{{if .Provider}} ({{.Provider}}){{end}}{{if .Country}}, {{.Country}}{{end}}
{{- end}}
{{- if .Flags}}
Indicateurs :   {{join .Flags ", "}}
{{- end}}
{{if .URLs}}
URL (neutralisées) :
{{range .URLs}}  {{.}}
{{end}}{{end}}
{{- if .Summary}}
Résumé :
{{.Summary}}
{{end}}
Extrait :
{{.Excerpt}}

Ce signalement a été généré automatiquement ({{.ReportedAt}}).
`,
	},
}
