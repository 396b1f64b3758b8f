package notifications

var commonTemplates = map[string]string{
	`default`: `
{{- with .Record -}}
{{.ContainerName}} ({{.OldImage}}): {{print .Status | ToUpper}}
{{- if .NewDigestString}} {{ShortDigest .OldDigest}} -> {{ShortDigest .NewDigestString}}{{end}}
{{- with .Error}}
Error: {{.}}
{{- end -}}
{{- end -}}`,

	`porcelain.v1`: `
{{- with .Record -}}
{{.ContainerName}} {{.Status}} {{.OldDigest}} {{with .NewDigestString}}{{.}}{{else}}-{{end}}
{{- end -}}`,

	`json.v1`: `{{ . | ToJSON }}`,
}
