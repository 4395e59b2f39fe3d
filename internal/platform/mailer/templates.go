package mailer

import (
	"bytes"
	"html/template"
)

type LinkEmail struct {
	CompanyName string
	FirstName   string
	Link        string
	ExpiresIn   string
}

var inviteTemplate = template.Must(template.New("invite").Parse(`
<p>Hello {{.FirstName}},</p>
<p>An account has been created for you on {{.CompanyName}}. Click the link below to choose your password and activate it:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>This link expires in {{.ExpiresIn}}.</p>
`))

var resetTemplate = template.Must(template.New("reset").Parse(`
<p>Hello {{.FirstName}},</p>
<p>A password reset was requested for your {{.CompanyName}} account. Click the link below to choose a new password:</p>
<p><a href="{{.Link}}">{{.Link}}</a></p>
<p>This link is valid for {{.ExpiresIn}}. If you did not request it, ignore this email.</p>
`))

func InviteMessage(to string, data LinkEmail, reason string) (Message, error) {
	html, err := render(inviteTemplate, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Activate your " + data.CompanyName + " account", HTML: html, Reason: reason}, nil
}

func ResetMessage(to string, data LinkEmail, reason string) (Message, error) {
	html, err := render(resetTemplate, data)
	if err != nil {
		return Message{}, err
	}
	return Message{To: to, Subject: "Reset your " + data.CompanyName + " password", HTML: html, Reason: reason}, nil
}

func render(t *template.Template, data LinkEmail) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
