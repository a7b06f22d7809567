package notion

import (
	"strings"

	"github.com/goccy/go-json"
)

// Property value types used by this service
const (
	TypeTitle    = "title"
	TypeRichText = "rich_text"
	TypeNumber   = "number"
	TypeRelation = "relation"
)

// RichText is a text fragment
type RichText struct {
	Type      string    `json:"type,omitempty"`
	Text      *TextBody `json:"text,omitempty"`
	PlainText string    `json:"plain_text,omitempty"`
}

// TextBody is the content of a text fragment
type TextBody struct {
	Content string `json:"content"`
}

// Relation points at a page in another database
type Relation struct {
	ID string `json:"id"`
}

// PropertyValue is a page property. Only the field matching Type is used.
type PropertyValue struct {
	Type     string     `json:"type,omitempty"`
	Title    []RichText `json:"title,omitempty"`
	RichText []RichText `json:"rich_text,omitempty"`
	Number   *float64   `json:"number,omitempty"`
	Relation []Relation `json:"relation,omitempty"`
}

// MarshalJSON writes only the typed payload. A nil Number is sent as an
// explicit null so the remote cell is cleared.
func (p PropertyValue) MarshalJSON() ([]byte, error) {
	switch p.Type {
	case TypeTitle:
		return json.Marshal(map[string]interface{}{TypeTitle: nonNil(p.Title)})
	case TypeRichText:
		return json.Marshal(map[string]interface{}{TypeRichText: nonNil(p.RichText)})
	case TypeNumber:
		return json.Marshal(map[string]interface{}{TypeNumber: p.Number})
	case TypeRelation:
		rel := p.Relation
		if rel == nil {
			rel = []Relation{}
		}
		return json.Marshal(map[string]interface{}{TypeRelation: rel})
	default:
		type plain PropertyValue
		return json.Marshal(plain(p))
	}
}

func nonNil(rt []RichText) []RichText {
	if rt == nil {
		return []RichText{}
	}
	return rt
}

func text(s string) []RichText {
	return []RichText{{Type: "text", Text: &TextBody{Content: s}}}
}

// Title builds a title property
func Title(s string) PropertyValue {
	return PropertyValue{Type: TypeTitle, Title: text(s)}
}

// Text builds a rich text property
func Text(s string) PropertyValue {
	return PropertyValue{Type: TypeRichText, RichText: text(s)}
}

// Number builds a number property
func Number(v float64) PropertyValue {
	return PropertyValue{Type: TypeNumber, Number: &v}
}

// NullNumber builds an empty number property
func NullNumber() PropertyValue {
	return PropertyValue{Type: TypeNumber}
}

// RelationTo builds a relation property
func RelationTo(ids ...string) PropertyValue {
	rel := make([]Relation, len(ids))
	for i, id := range ids {
		rel[i] = Relation{ID: id}
	}
	return PropertyValue{Type: TypeRelation, Relation: rel}
}

// Properties is the property map of a page
type Properties map[string]PropertyValue

// PlainText joins rich text fragments
func PlainText(rt []RichText) string {
	var sb strings.Builder
	for _, r := range rt {
		if r.PlainText != "" {
			sb.WriteString(r.PlainText)
		} else if r.Text != nil {
			sb.WriteString(r.Text.Content)
		}
	}
	return sb.String()
}

// Page is a database row
type Page struct {
	ID         string     `json:"id"`
	Archived   bool       `json:"archived"`
	URL        string     `json:"url,omitempty"`
	Properties Properties `json:"properties"`
}

// TitleText returns the text of a title property
func (p *Page) TitleText(prop string) string {
	return PlainText(p.Properties[prop].Title)
}

// RichTextValue returns the text of a rich text property
func (p *Page) RichTextValue(prop string) string {
	return PlainText(p.Properties[prop].RichText)
}

// RelationIDs returns the ids referenced by a relation property
func (p *Page) RelationIDs(prop string) []string {
	rel := p.Properties[prop].Relation
	ids := make([]string, 0, len(rel))
	for _, r := range rel {
		ids = append(ids, r.ID)
	}
	return ids
}

// NumberValue returns a number property and whether it is set
func (p *Page) NumberValue(prop string) (float64, bool) {
	n := p.Properties[prop].Number
	if n == nil {
		return 0, false
	}
	return *n, true
}

// Filter is a database query filter
type Filter map[string]interface{}

// TitleEquals matches pages whose title property equals value
func TitleEquals(prop, value string) Filter {
	return Filter{
		"property": prop,
		"title":    map[string]string{"equals": value},
	}
}

// PropertySchema is a database column definition. A nil schema removes the column.
type PropertySchema map[string]interface{}

// TitleColumn is the schema of a title column
func TitleColumn() PropertySchema {
	return PropertySchema{TypeTitle: struct{}{}}
}

// NumberColumn is the schema of a plain number column
func NumberColumn() PropertySchema {
	return PropertySchema{TypeNumber: map[string]string{"format": "number"}}
}

// RichTextColumn is the schema of a rich text column
func RichTextColumn() PropertySchema {
	return PropertySchema{TypeRichText: struct{}{}}
}

// RenameColumn renames an existing column
func RenameColumn(name string) PropertySchema {
	return PropertySchema{"name": name}
}

// DatabaseProperty describes one column of a retrieved database
type DatabaseProperty struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Database is a database object
type Database struct {
	ID         string                      `json:"id"`
	Title      []RichText                  `json:"title"`
	Archived   bool                        `json:"archived"`
	Properties map[string]DatabaseProperty `json:"properties"`
}

// TitleText returns the database title
func (d *Database) TitleText() string {
	return PlainText(d.Title)
}

// TitleProperty returns the name of the title column
func (d *Database) TitleProperty() string {
	for name, p := range d.Properties {
		if p.Type == TypeTitle {
			return name
		}
	}
	return ""
}
