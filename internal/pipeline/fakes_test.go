package pipeline

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"f1standings/notionsync/internal/notion"
)

// fakeWorkspace is an in-memory workspace API served over HTTP
type fakeWorkspace struct {
	mu        sync.Mutex
	seq       int
	pages     map[string]*notion.Page
	pageDB    map[string]string
	databases map[string]*notion.Database
	parents   map[string]string
	calls     map[string]int
}

func newFakeWorkspace(t *testing.T) (*fakeWorkspace, *httptest.Server) {
	f := &fakeWorkspace{
		pages:     make(map[string]*notion.Page),
		pageDB:    make(map[string]string),
		databases: make(map[string]*notion.Database),
		parents:   make(map[string]string),
		calls:     make(map[string]int),
	}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

// addReference creates a page titled title in databaseID with a Name title column
func (f *fakeWorkspace) addReference(databaseID, title string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("ref")
	f.pages[id] = &notion.Page{ID: id, Properties: notion.Properties{"Name": notion.Title(title)}}
	f.pageDB[id] = databaseID
	return id
}

func (f *fakeWorkspace) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%03d", prefix, f.seq)
}

func (f *fakeWorkspace) rows(databaseID string) []notion.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowsLocked(databaseID)
}

func (f *fakeWorkspace) rowsLocked(databaseID string) []notion.Page {
	var out []notion.Page
	for id, p := range f.pages {
		if f.pageDB[id] == databaseID && !p.Archived {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeWorkspace) databaseByTitle(title string) *notion.Database {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, db := range f.databases {
		if db.TitleText() == title {
			return db
		}
	}
	return nil
}

func (f *fakeWorkspace) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && len(parts) == 3 && parts[0] == "databases" && parts[2] == "query":
		f.calls["query"]++
		var q struct {
			Filter map[string]interface{} `json:"filter"`
		}
		_ = json.Unmarshal(body, &q)
		rows := f.rowsLocked(parts[1])
		if q.Filter != nil {
			prop, _ := q.Filter["property"].(string)
			cond, _ := q.Filter["title"].(map[string]interface{})
			want, _ := cond["equals"].(string)
			var matched []notion.Page
			for i := range rows {
				if rows[i].TitleText(prop) == want {
					matched = append(matched, rows[i])
				}
			}
			rows = matched
		}
		writeJSON(w, notion.QueryResponse{Results: nonNilPages(rows)})

	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "pages":
		f.calls["create_page"]++
		var req struct {
			Parent struct {
				DatabaseID string `json:"database_id"`
			} `json:"parent"`
			Properties notion.Properties `json:"properties"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id := f.nextID("page")
		page := &notion.Page{ID: id, Properties: req.Properties}
		f.pages[id] = page
		f.pageDB[id] = req.Parent.DatabaseID
		writeJSON(w, page)

	case r.Method == http.MethodPatch && len(parts) == 2 && parts[0] == "pages":
		page, ok := f.pages[parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"code": "object_not_found", "message": "no page"})
			return
		}
		var req struct {
			Archived   bool              `json:"archived"`
			Properties notion.Properties `json:"properties"`
		}
		_ = json.Unmarshal(body, &req)
		if req.Archived {
			f.calls["archive_page"]++
			page.Archived = true
		} else {
			f.calls["update_page"]++
			for k, v := range req.Properties {
				page.Properties[k] = v
			}
		}
		writeJSON(w, page)

	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "search":
		var req struct {
			Query string `json:"query"`
		}
		_ = json.Unmarshal(body, &req)
		var found []notion.Database
		for _, db := range f.databases {
			if strings.Contains(db.TitleText(), req.Query) {
				found = append(found, *db)
			}
		}
		writeJSON(w, map[string]interface{}{"results": nonNilDatabases(found), "has_more": false})

	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "databases":
		var req struct {
			Parent struct {
				PageID string `json:"page_id"`
			} `json:"parent"`
			Title      []notion.RichText                `json:"title"`
			Properties map[string]notion.PropertySchema `json:"properties"`
		}
		_ = json.Unmarshal(body, &req)
		db := &notion.Database{ID: f.nextID("db"), Title: req.Title, Properties: make(map[string]notion.DatabaseProperty)}
		for name, schema := range req.Properties {
			db.Properties[name] = notion.DatabaseProperty{Name: name, Type: columnType(schema)}
		}
		f.databases[db.ID] = db
		f.parents[db.ID] = req.Parent.PageID
		writeJSON(w, db)

	case len(parts) == 2 && parts[0] == "databases":
		db, ok := f.databases[parts[1]]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]string{"code": "object_not_found", "message": "no database"})
			return
		}
		if r.Method == http.MethodPatch {
			var req notion.UpdateDatabaseRequest
			_ = json.Unmarshal(body, &req)
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
				db.Properties[name] = notion.DatabaseProperty{Name: name, Type: columnType(schema)}
			}
		}
		writeJSON(w, db)

	default:
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"code": "invalid_request_url", "message": r.URL.Path})
	}
}

func columnType(s notion.PropertySchema) string {
	for k := range s {
		return k
	}
	return ""
}

func nonNilPages(p []notion.Page) []notion.Page {
	if p == nil {
		return []notion.Page{}
	}
	return p
}

func nonNilDatabases(d []notion.Database) []notion.Database {
	if d == nil {
		return []notion.Database{}
	}
	return d
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// statsServer serves fixed race, sprint and qualifying tables per path
func statsServer(t *testing.T, bodies map[string]string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			body = `{"MRData":{"limit":"30","offset":"0","total":"0","RaceTable":{"Races":[]}}}`
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type result struct {
	pos, points   int
	given, family string
	code, team    string
}

func raceBody(round int, raceName, key string, results ...result) string {
	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = fmt.Sprintf(`{"position":"%d","points":"%d","Driver":{"givenName":"%s","familyName":"%s","code":"%s"},"Constructor":{"name":"%s"}}`,
			r.pos, r.points, r.given, r.family, r.code, r.team)
	}
	return fmt.Sprintf(`{"MRData":{"limit":"30","offset":"0","total":"%d","RaceTable":{"season":"2025","round":"%d","Races":[{"season":"2025","round":"%d","raceName":"%s","date":"2025-03-16","%s":[%s]}]}}}`,
		len(results), round, round, raceName, key, strings.Join(entries, ","))
}
