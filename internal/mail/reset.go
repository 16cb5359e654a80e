package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"time"
)

const resetSubject = "Reset your password"

var resetHTML = template.Must(template.New("reset").Parse(`<p>Hello,</p>
<p>Someone asked to reset the password for the account registered with {{.Email}}.</p>
<p><a href="{{.Link}}">Reset your password</a></p>
<p>The link is valid for {{.ValidFor}}. If you did not ask for this, ignore this email.</p>
`))

// ResetLink returns baseURL with the token appended as the "token" query parameter.
func ResetLink(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("mail: invalid reset base URL %q: %w", baseURL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ResetPasswordMessage builds the reset email for email carrying link, which
// stays usable for ttl.
func ResetPasswordMessage(email, link string, ttl time.Duration) (Message, error) {
	validFor := humanDuration(ttl)

	var html bytes.Buffer
	err := resetHTML.Execute(&html, struct{ Email, Link, ValidFor string }{
		Email:    email,
		Link:     link,
		ValidFor: validFor,
	})
	if err != nil {
		return Message{}, fmt.Errorf("mail: rendering reset email: %w", err)
	}

	text := fmt.Sprintf("Someone asked to reset the password for the account registered with %s.\n\n"+
		"Open this link to choose a new password:\n%s\n\n"+
		"The link is valid for %s. If you did not ask for this, ignore this email.\n", email, link, validFor)

	return Message{
		To:      email,
		Subject: resetSubject,
		Text:    text,
		HTML:    html.String(),
	}, nil
}

// humanDuration renders d in the largest whole unit: "24 hours", "1 hour",
// "30 minutes". Anything under a minute reads as "1 minute".
func humanDuration(d time.Duration) string {
	unit, n := "minute", int64(d/time.Minute)
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		unit, n = "hour", int64(d/time.Hour)
	case n < 1:
		n = 1
	}
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
