package relay

import "strings"

// Kind identifies a notification template.
type Kind string

const (
	KindJoin      Kind = "join"
	KindDuplicate Kind = "duplicate"
	KindWinner    Kind = "winner"
	KindCountdown Kind = "countdown"
	KindPlain     Kind = "plain"
)

// Vars are the substitution values available to templates.
type Vars struct {
	UserName string
	Minutes  string
	Keyword  string
	Message  string
}

var defaultTemplates = map[Kind]string{
	KindJoin:      "{userName} has joined the lottery!",
	KindDuplicate: "{userName}, you are already entered.",
	KindWinner:    "Congratulations {userName}! You won the {keyword} lottery!",
	KindCountdown: "{minutes} minutes left to enter!",
}

// Render substitutes vars into the template registered for kind. A lookup
// miss falls back to a literal pass-through of vars.Message.
func (r *Relay) Render(kind Kind, vars Vars) string {
	r.mu.Lock()
	tmpl, ok := r.templates[kind]
	r.mu.Unlock()
	if !ok || tmpl == "" {
		return vars.Message
	}
	out := tmpl
	out = strings.ReplaceAll(out, "{userName}", vars.UserName)
	out = strings.ReplaceAll(out, "{minutes}", vars.Minutes)
	out = strings.ReplaceAll(out, "{keyword}", vars.Keyword)
	return out
}

// SetTemplate installs an operator-supplied template override for kind.
// An empty template restores the default.
func (r *Relay) SetTemplate(kind Kind, tmpl string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl == "" {
		if def, ok := defaultTemplates[kind]; ok {
			r.templates[kind] = def
		} else {
			delete(r.templates, kind)
		}
		return
	}
	r.templates[kind] = tmpl
}
