package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// SceneSchemaVersion is the current version of the Scene encoding shared by
// the session cache and the record store.
const SceneSchemaVersion = 1

// Status is the lifecycle state of a durable scene record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerated  Status = "generated"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Statuses lists every status a durable record may hold.
var Statuses = []Status{StatusPending, StatusGenerated, StatusProcessing, StatusCompleted, StatusError}

// Valid reports whether s is one of the enumerated record statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Scene is one topic-to-code generation session. The same encoding is used
// for the cache snapshot and the durable record.
type Scene struct {
	ID            string    `json:"id,omitempty" bson:"-"`
	SchemaVersion int       `json:"schemaVersion" bson:"schemaVersion"`
	Topic         string    `json:"topic" bson:"topic"`
	GeneratedCode string    `json:"manimCode" bson:"manimCode"`
	AudioURL      string    `json:"audioUrl" bson:"audioUrl"`
	VideoURL      string    `json:"videoUrl" bson:"videoUrl"`
	Status        Status    `json:"status" bson:"status"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt,omitzero" bson:"updatedAt"`
}

// NewScene returns a freshly generated scene snapshot.
func NewScene(topic, code string, now time.Time) *Scene {
	return &Scene{
		SchemaVersion: SceneSchemaVersion,
		Topic:         topic,
		GeneratedCode: code,
		Status:        StatusGenerated,
		CreatedAt:     now.UTC(),
	}
}

// EncodeScene serializes a scene snapshot for the cache.
func EncodeScene(s *Scene) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("scene is nil")
	}
	out := *s
	out.ID = ""
	if out.SchemaVersion == 0 {
		out.SchemaVersion = SceneSchemaVersion
	}
	return json.Marshal(&out)
}

// DecodeScene parses a cached snapshot. Snapshots written without a
// schemaVersion (e.g. by the render worker) are treated as version 1.
func DecodeScene(data []byte) (*Scene, error) {
	var s Scene
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if s.SchemaVersion == 0 {
		s.SchemaVersion = SceneSchemaVersion
	}
	if s.SchemaVersion > SceneSchemaVersion {
		return nil, fmt.Errorf("unsupported scene schema version %d", s.SchemaVersion)
	}
	return &s, nil
}

// RunResult is returned to the caller after a successful pipeline run.
type RunResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// RunStatusGeneratedAndNotified is the terminal success status of a run.
const RunStatusGeneratedAndNotified = "generated_and_notified"
