// Package email delivers transactional mail to buyers.
package email

import "context"

type Message struct {
	From    string
	To      []string
	Subject string
	HTML    string
	ReplyTo string
}

type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}
