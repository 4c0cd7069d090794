package backend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockServer provides a configurable checkpoint-service mock for testing.
type MockServer struct {
	*httptest.Server
	mu        sync.RWMutex
	persons   map[string]Person
	assets    map[string][]Asset // person id -> assets
	assetOwns map[string]string  // asset id -> person id
	movements []Movement
	delay     time.Duration
	failAll   bool
}

// NewMockServer creates a checkpoint-service mock with default test data.
func NewMockServer() *MockServer {
	m := &MockServer{
		persons:   make(map[string]Person),
		assets:    make(map[string][]Asset),
		assetOwns: make(map[string]string),
	}
	m.SetDefaultData()
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// SetDefaultData seeds one person with two assets.
func (m *MockServer) SetDefaultData() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons["104567890"] = Person{ID: "104567890", Name: "Laura Quintero", Status: "ACTIVO"}
	m.assets["104567890"] = []Asset{
		{ID: "SN-554422", Description: "HP Pavilion Azul", OwnerID: "104567890"},
		{ID: "SN-998877", Description: "Lenovo ThinkPad", OwnerID: "104567890"},
	}
	m.assetOwns["SN-554422"] = "104567890"
	m.assetOwns["SN-998877"] = "104567890"
}

// SetDelay adds an artificial delay to every response.
func (m *MockServer) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetFailAll makes every call return status=error.
func (m *MockServer) SetFailAll(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = fail
}

// Movements returns a copy of all recorded movement logs.
func (m *MockServer) Movements() []Movement {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Movement, len(m.movements))
	copy(out, m.movements)
	return out
}

func (m *MockServer) handle(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if m.failAll {
		writeJSON(w, map[string]any{"status": "error", "message": "induced failure"})
		return
	}

	action, _ := req["action"].(string)
	switch action {
	case actionIdentify, actionSearchPerson:
		code, _ := req["code"].(string)
		if code == "" {
			code, _ = req["personId"].(string)
		}
		m.handleLookup(w, code)
	case actionLinkAsset:
		m.handleRegister(w, req)
	case actionLogMovement:
		m.movements = append(m.movements, Movement{
			Direction:  str(req["direction"]),
			PersonID:   str(req["personId"]),
			AssetID:    str(req["assetId"]),
			Outcome:    str(req["outcome"]),
			PersonName: str(req["personName"]),
		})
		writeJSON(w, map[string]any{"status": "success"})
	default:
		writeJSON(w, map[string]any{"status": "error", "message": "unknown action"})
	}
}

func (m *MockServer) handleLookup(w http.ResponseWriter, code string) {
	if owner, ok := m.assetOwns[code]; ok {
		person := m.persons[owner]
		var matched *Asset
		for i := range m.assets[owner] {
			if m.assets[owner][i].ID == code {
				matched = &m.assets[owner][i]
				break
			}
		}
		writeJSON(w, IdentifyResult{
			Status:         StatusSuccess,
			Person:         &person,
			Assets:         m.assets[owner],
			Classification: ClassAsset,
			Asset:          matched,
		})
		return
	}
	if person, ok := m.persons[code]; ok {
		writeJSON(w, IdentifyResult{
			Status:         StatusSuccess,
			Person:         &person,
			Assets:         m.assets[code],
			Classification: ClassPerson,
		})
		return
	}
	writeJSON(w, IdentifyResult{Status: StatusNotFound, Code: code})
}

func (m *MockServer) handleRegister(w http.ResponseWriter, req map[string]any) {
	personID := str(req["personId"])
	name := str(req["name"])
	if personID == "" || name == "" {
		writeJSON(w, map[string]any{"status": "error", "message": "missing person data"})
		return
	}
	m.persons[personID] = Person{ID: personID, Name: name, Status: "ACTIVO"}
	if assetID := str(req["assetId"]); assetID != "" {
		asset := Asset{ID: assetID, Description: str(req["description"]), OwnerID: personID}
		m.assets[personID] = append(m.assets[personID], asset)
		m.assetOwns[assetID] = personID
	}
	writeJSON(w, map[string]any{"status": "success"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
