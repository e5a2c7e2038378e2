package models

// EmailTemplate is the email rendering of a notification type, stored per locale.
// Subject and Body are text/template sources executed with the notification's fields.
type EmailTemplate struct {
	ID         string `bson:"_id,omitempty" json:"id,omitempty"`
	TemplateID string `bson:"template_id" json:"template_id"` // Notification type, or "notification" for the fallback
	Locale     string `bson:"locale" json:"locale"`           // e.g., "en-US", "fr-FR"
	Subject    string `bson:"subject" json:"subject"`
	Body       string `bson:"body" json:"body"`
}
