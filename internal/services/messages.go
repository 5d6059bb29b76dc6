package services

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/huangang/feedbackloop/internal/feedback"
)

// Message kinds rendered for customers.
const (
	MsgOutreach      = "outreach"
	MsgReviewRequest = "review_request"
	MsgApology       = "apology"
	MsgThanks        = "thanks"
)

// MessageData is the template input.
type MessageData struct {
	RestaurantName string
	ReviewURL      string
	MaxRating      int
}

var messageTemplates = map[string]map[string]string{
	"en": {
		MsgOutreach: `Hello! 👋

Thank you for visiting {{.RestaurantName}}. We hope you had a wonderful experience.

How was your visit? Reply with a rating from 1 to {{.MaxRating}} ({{.MaxRating}} is excellent), or just tell us in your own words.`,
		MsgReviewRequest: `Thank you for your kind words! 🙏

If you enjoyed your experience with us, we'd be grateful if you could rate us on Google:
{{.ReviewURL}}`,
		MsgApology: `We're sorry your visit to {{.RestaurantName}} did not meet your expectations. A member of our team will contact you shortly.`,
		MsgThanks:  `Thank you for your feedback! We hope to see you again at {{.RestaurantName}}.`,
	},
	"ar": {
		MsgOutreach: `مرحباً! 👋

شكراً لزيارتكم {{.RestaurantName}}. نأمل أن تكون تجربتكم معنا مميزة.

كيف كانت زيارتكم؟ يرجى الرد بتقييم من 1 إلى {{.MaxRating}} ({{.MaxRating}} ممتازة)، أو شاركونا رأيكم بكلماتكم.`,
		MsgReviewRequest: `شكراً لكلماتكم الجميلة! 🙏

إذا أعجبتكم تجربتكم معنا، نكون ممتنين لو تقيمونا على جوجل:
{{.ReviewURL}}`,
		MsgApology: `نعتذر لأن زيارتكم إلى {{.RestaurantName}} لم تكن بمستوى توقعاتكم. سيتواصل معكم أحد أعضاء فريقنا قريباً.`,
		MsgThanks:  `شكراً لملاحظاتكم! نتطلع لرؤيتكم مجدداً في {{.RestaurantName}}.`,
	},
}

// MessageRenderer renders localized customer messages.
type MessageRenderer struct {
	defaultLang string
	templates   map[string]map[string]*template.Template
}

func NewMessageRenderer(defaultLang string) *MessageRenderer {
	r := &MessageRenderer{
		defaultLang: normalizeLang(defaultLang),
		templates:   make(map[string]map[string]*template.Template),
	}
	if _, ok := messageTemplates[r.defaultLang]; !ok {
		r.defaultLang = "ar"
	}
	for lang, kinds := range messageTemplates {
		r.templates[lang] = make(map[string]*template.Template)
		for kind, text := range kinds {
			r.templates[lang][kind] = template.Must(template.New(lang + "_" + kind).Parse(text))
		}
	}
	return r
}

// Render falls back to the default language when lang is unknown.
func (r *MessageRenderer) Render(kind, lang string, data MessageData) (string, error) {
	set, ok := r.templates[normalizeLang(lang)]
	if !ok {
		set = r.templates[r.defaultLang]
	}
	tmpl, ok := set[kind]
	if !ok {
		return "", fmt.Errorf("unknown message kind %q", kind)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Language resolves the language to use for a visit.
func (r *MessageRenderer) Language(lang string) string {
	if _, ok := r.templates[normalizeLang(lang)]; ok {
		return normalizeLang(lang)
	}
	return r.defaultLang
}

// AcknowledgementKind picks the customer-facing follow-up for a decision.
// Manual review sends nothing.
func AcknowledgementKind(d feedback.Decision) (string, bool) {
	switch d {
	case feedback.DecisionRequestReview:
		return MsgReviewRequest, true
	case feedback.DecisionEscalate:
		return MsgApology, true
	case feedback.DecisionLogNeutral:
		return MsgThanks, true
	}
	return "", false
}

// normalizeLang turns "ar-SA" or "AR" into "ar".
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
