package models

import "gorm.io/gorm"

// EmailTemplate is the versioned subject/body pair a flow step or scheduled
// email points at. Bodies are Go templates executed over the scheduled
// email's variables.
type EmailTemplate struct {
	gorm.Model
	TemplateID string `gorm:"not null;uniqueIndex:ux_template_version,priority:1" json:"template_id"`
	Version    int    `gorm:"not null;default:1;uniqueIndex:ux_template_version,priority:2" json:"version"`

	Name        string `gorm:"not null" json:"name"`
	Subject     string `gorm:"not null" json:"subject"`
	HTMLContent string `gorm:"type:text" json:"html_content"`
	TextContent string `gorm:"type:text" json:"text_content"`
}
