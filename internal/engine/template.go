package engine

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/roach88/boardflow/internal/ir"
)

// TemplateData is the state a comment, notification or webhook template is
// rendered against. Card reflects every action that ran before it.
type TemplateData struct {
	Card       ir.Card
	ColumnName string
	Rule       ir.AutomationRule
	Event      ir.BoardEvent
	Now        time.Time
}

// Placeholders supported in templates. Unknown placeholders are left as-is.
//
//	{{column}}       name of the card's current column
//	{{column.id}}    id of the card's current column
//	{{card.id}}      {{card.title}} {{card.priority}} {{card.description}}
//	{{card.due_date}} RFC 3339, empty if unset
//	{{card.labels}}  {{card.assignees}} comma separated
//	{{board.id}}     {{rule.id}} {{rule.name}} {{event.type}} {{event.id}}
//	{{now}}          RFC 3339 firing instant
func (d TemplateData) pairs(escape func(string) string) []string {
	due := ""
	if d.Card.DueDate != nil {
		due = d.Card.DueDate.UTC().Format(time.RFC3339)
	}
	values := [][2]string{
		{"{{column}}", d.ColumnName},
		{"{{column.id}}", d.Card.ColumnID},
		{"{{card.id}}", d.Card.ID},
		{"{{card.title}}", d.Card.Title},
		{"{{card.description}}", d.Card.Description},
		{"{{card.priority}}", d.Card.Priority},
		{"{{card.due_date}}", due},
		{"{{card.labels}}", strings.Join(d.Card.LabelIDs, ", ")},
		{"{{card.assignees}}", strings.Join(d.Card.AssigneeIDs, ", ")},
		{"{{board.id}}", d.Card.BoardID},
		{"{{rule.id}}", d.Rule.ID},
		{"{{rule.name}}", d.Rule.Name},
		{"{{event.type}}", string(d.Event.Type)},
		{"{{event.id}}", d.Event.EventID},
		{"{{now}}", d.Now.UTC().Format(time.RFC3339)},
	}
	out := make([]string, 0, 2*len(values))
	for _, kv := range values {
		out = append(out, kv[0], escape(kv[1]))
	}
	return out
}

// Render substitutes placeholders in tmpl.
func Render(tmpl string, d TemplateData) string {
	return strings.NewReplacer(d.pairs(func(s string) string { return s })...).Replace(tmpl)
}

// RenderJSON substitutes placeholders with JSON-string-escaped values, for
// templates whose placeholders sit inside JSON string literals.
func RenderJSON(tmpl string, d TemplateData) string {
	return strings.NewReplacer(d.pairs(jsonEscape)...).Replace(tmpl)
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	return string(b[1 : len(b)-1])
}
