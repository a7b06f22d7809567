package syncwriter

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"f1standings/notionsync/internal/notion"
)

// memoryStore is an in-memory workspace used by the writer tests
type memoryStore struct {
	seq       int
	pages     map[string]*notion.Page
	pageDB    map[string]string
	databases map[string]*notion.Database
	parents   map[string]string

	failCreate func(props notion.Properties) bool
	createErr  error
	failUpdate func(pageID string) bool

	creates, updates, archives int

	schemaUpdates []notion.UpdateDatabaseRequest
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		pages:     make(map[string]*notion.Page),
		pageDB:    make(map[string]string),
		databases: make(map[string]*notion.Database),
		parents:   make(map[string]string),
	}
}

func (m *memoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryStore) CreatePage(_ context.Context, databaseID string, props notion.Properties) (*notion.Page, error) {
	if m.failCreate != nil && m.failCreate(props) {
		if m.createErr != nil {
			return nil, m.createErr
		}
		return nil, &notion.APIError{Status: 502, Code: "bad_gateway", Message: "upstream"}
	}
	m.creates++
	id := m.nextID("page")
	page := &notion.Page{ID: id, Properties: copyProps(props)}
	m.pages[id] = page
	m.pageDB[id] = databaseID
	return page, nil
}

func (m *memoryStore) UpdatePage(_ context.Context, pageID string, props notion.Properties) (*notion.Page, error) {
	if m.failUpdate != nil && m.failUpdate(pageID) {
		return nil, &notion.APIError{Status: 500, Code: "internal_server_error", Message: "boom"}
	}
	page, ok := m.pages[pageID]
	if !ok {
		return nil, &notion.APIError{Status: 404, Code: "object_not_found", Message: pageID}
	}
	m.updates++
	for k, v := range props {
		page.Properties[k] = v
	}
	return page, nil
}

func (m *memoryStore) ArchivePage(_ context.Context, pageID string) error {
	page, ok := m.pages[pageID]
	if !ok {
		return errors.New("missing page")
	}
	m.archives++
	page.Archived = true
	return nil
}

func (m *memoryStore) QueryAll(_ context.Context, databaseID string, _ notion.Filter) ([]notion.Page, error) {
	var out []notion.Page
	for id, page := range m.pages {
		if m.pageDB[id] == databaseID && !page.Archived {
			out = append(out, *page)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) FindPageByTitle(_ context.Context, databaseID, titleProp, title string) (*notion.Page, error) {
	pages, _ := m.QueryAll(context.Background(), databaseID, nil)
	for i := range pages {
		if pages[i].TitleText(titleProp) == title {
			return m.pages[pages[i].ID], nil
		}
	}
	return nil, nil
}

func (m *memoryStore) RetrieveDatabase(_ context.Context, databaseID string) (*notion.Database, error) {
	db, ok := m.databases[databaseID]
	if !ok {
		return nil, &notion.APIError{Status: 404, Code: "object_not_found", Message: databaseID}
	}
	return db, nil
}

func (m *memoryStore) UpdateDatabase(_ context.Context, databaseID string, req notion.UpdateDatabaseRequest) (*notion.Database, error) {
	db, ok := m.databases[databaseID]
	if !ok {
		return nil, &notion.APIError{Status: 404, Code: "object_not_found", Message: databaseID}
	}
	m.schemaUpdates = append(m.schemaUpdates, req)
	for name, schema := range req.Properties {
		if schema == nil {
			delete(db.Properties, name)
			continue
		}
		if newName, ok := schema["name"].(string); ok {
			col := db.Properties[name]
			delete(db.Properties, name)
			col.Name = newName
			db.Properties[newName] = col
			continue
		}
		db.Properties[name] = notion.DatabaseProperty{Name: name, Type: schemaType(schema)}
	}
	return db, nil
}

func (m *memoryStore) SearchDatabase(_ context.Context, title string) (*notion.Database, error) {
	for _, db := range m.databases {
		if db.TitleText() == title {
			return db, nil
		}
	}
	return nil, nil
}

func (m *memoryStore) CreateDatabase(_ context.Context, parentPageID, title string, props map[string]notion.PropertySchema) (*notion.Database, error) {
	db := &notion.Database{
		ID:         m.nextID("db"),
		Title:      []notion.RichText{{PlainText: title}},
		Properties: make(map[string]notion.DatabaseProperty),
	}
	for name, schema := range props {
		db.Properties[name] = notion.DatabaseProperty{Name: name, Type: schemaType(schema)}
	}
	m.databases[db.ID] = db
	m.parents[db.ID] = parentPageID
	return db, nil
}

func (m *memoryStore) rows(databaseID string) []notion.Page {
	pages, _ := m.QueryAll(context.Background(), databaseID, nil)
	return pages
}

func schemaType(s notion.PropertySchema) string {
	for k := range s {
		return k
	}
	return ""
}

func copyProps(p notion.Properties) notion.Properties {
	out := make(notion.Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
