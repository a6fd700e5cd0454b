package domain

import "time"

// ContactSubmission is an anonymous message left through the marketing contact form.
type ContactSubmission struct {
	ID          string
	Name        string
	Email       string
	Company     *string
	Topic       string
	Message     string
	ClientIP    string
	UserAgent   *string
	SubmittedAt time.Time
}
