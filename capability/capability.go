// Package capability names the adapter families and the identifiers the
// configuration and durability layers key on.
package capability

// Family is one of the seven adapter families.
type Family string

const (
	Chat      Family = "chat"
	STT       Family = "stt"
	TTS       Family = "tts"
	Vector    Family = "vector"
	WebSearch Family = "websearch"
	GraphDB   Family = "graphdb"
	Exec      Family = "exec"
)

// ID identifies one concrete adapter, e.g. chat/openai.
type ID struct {
	Family   Family
	Provider string
}

func (id ID) String() string {
	if id.Provider == "" {
		return string(id.Family)
	}
	return string(id.Family) + "/" + id.Provider
}

// Operation names one operation within a family. Values are free-form but
// stable: they participate in durable invocation keys.
type Operation string
