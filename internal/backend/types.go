package backend

// Person is the transient copy of a backend-owned person record, held only
// for the duration of one workflow cycle.
type Person struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Asset is a registered item (laptop serial, inventory code) owned by a
// person. Backend-owned; the kiosk never mutates it directly.
type Asset struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

// Classification tells whether an identified code belongs to a person or to
// an asset.
type Classification string

const (
	ClassPerson Classification = "PERSON"
	ClassAsset  Classification = "ASSET"
)

// IdentifyStatus is the tri-state outcome of an identification call.
// NotFound is a business outcome, not an error.
type IdentifyStatus string

const (
	StatusSuccess  IdentifyStatus = "success"
	StatusNotFound IdentifyStatus = "not_found"
	StatusError    IdentifyStatus = "error"
)

// IdentifyResult is the response to Identify and SearchPerson calls.
type IdentifyResult struct {
	Status         IdentifyStatus `json:"status"`
	Person         *Person        `json:"person,omitempty"`
	Assets         []Asset        `json:"assets,omitempty"`
	Classification Classification `json:"classification,omitempty"`
	Asset          *Asset         `json:"asset,omitempty"`
	Code           string         `json:"code,omitempty"`
	Message        string         `json:"message,omitempty"`
}

// Registration is the payload for a LINK_ASSET call. CreatePerson is always
// true from the kiosk: registration only happens for unknown codes.
type Registration struct {
	PersonID         string
	PersonName       string
	AssetID          string
	AssetDescription string
}

// Movement is one audited entry/exit event.
type Movement struct {
	Direction  string
	PersonID   string
	AssetID    string
	Outcome    string
	PersonName string
}
