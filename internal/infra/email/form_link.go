package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/coachhub/backend/internal/services/anamnese"
)

const formLinkSubject = "Complete your intake form"

var formLinkTemplate = template.Must(template.New("form_link").Parse(`<p>Hi {{.Name}},</p>
<p>Thanks for your purchase. Before we start, please fill in your intake form:</p>
<p><a href="{{.URL}}">{{.URL}}</a></p>
{{if .Expires}}<p>The link is valid until {{.Expires}}.</p>{{end}}`))

// FormLinkNotifier renders the intake invitation and hands it to a Sender.
type FormLinkNotifier struct {
	sender Sender
}

func NewFormLinkNotifier(sender Sender) *FormLinkNotifier {
	return &FormLinkNotifier{sender: sender}
}

func (n *FormLinkNotifier) SendFormLink(ctx context.Context, link anamnese.FormLink) error {
	if n.sender == nil {
		return fmt.Errorf("email sender is not configured")
	}
	if strings.TrimSpace(link.To) == "" || strings.TrimSpace(link.URL) == "" {
		return fmt.Errorf("form link needs a recipient and url")
	}

	name := strings.TrimSpace(link.Name)
	if name == "" {
		name = "there"
	}
	expires := ""
	if link.ExpiresAt != nil {
		expires = link.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	}

	var body bytes.Buffer
	if err := formLinkTemplate.Execute(&body, struct {
		Name    string
		URL     string
		Expires string
	}{Name: name, URL: link.URL, Expires: expires}); err != nil {
		return fmt.Errorf("render form link email: %w", err)
	}

	if _, err := n.sender.Send(ctx, Message{
		To:      []string{link.To},
		Subject: formLinkSubject,
		HTML:    body.String(),
	}); err != nil {
		return err
	}
	return nil
}
