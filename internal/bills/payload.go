// Package bills decodes the source's bill payloads and normalizes them into
// congress records.
package bills

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/openperu-ingest/internal/congress"
)

// PayloadURL is the endpoint serving one bill's procedural record.
func PayloadURL(baseURL, year string, number int) string {
	return fmt.Sprintf("%s/expediente/%s/%d", strings.TrimRight(baseURL, "/"), year, number)
}

// DocumentURL is the download URL of an attached file.
func DocumentURL(baseURL, fileID string) string {
	encoded := base64.StdEncoding.EncodeToString([]byte(fileID))
	return fmt.Sprintf("%s/archivo/%s/pdf", strings.TrimRight(baseURL, "/"), encoded)
}

// Payload is the decoded bill record. Sections that were absent or failed
// to decode are left empty and named in Problems.
type Payload struct {
	General    *General
	Signers    []Signer
	Committees []RawCommittee
	Steps      []RawStep
	Problems   []string
	Raw        Sections
}

// Sections keeps the undecoded sections of a payload for archiving.
type Sections struct {
	General    json.RawMessage
	Signers    json.RawMessage
	Committees json.RawMessage
	Steps      json.RawMessage
}

// Archive returns the raw record of the payload for bill id.
func (p Payload) Archive(id string, fetchedAt time.Time) congress.RawBill {
	return congress.RawBill{
		ID:           id,
		FetchedAt:    fetchedAt,
		General:      p.Raw.General,
		Congresistas: p.Raw.Signers,
		Committees:   p.Raw.Committees,
		Steps:        p.Raw.Steps,
	}
}

// General holds the scalar bill attributes.
type General struct {
	Period       *string     `json:"desPerParAbrev"`
	Legislature  *string     `json:"desLegis"`
	Presented    *SourceTime `json:"fecPresentacion"`
	Proponent    *string     `json:"desProponente"`
	Title        *string     `json:"titulo"`
	Summary      *string     `json:"sumilla"`
	Observations *string     `json:"observaciones"`
	Bancada      *string     `json:"desGpar"`
	Status       *string     `json:"desEstado"`
}

// Signer is one entry of the signer list.
type Signer struct {
	ProfileURL *string `json:"pagWeb"`
	Name       *string `json:"nombre"`
	DNI        *string `json:"dni"`
	Sex        *string `json:"sexo"`
	SignerType *int    `json:"tipoFirmanteId"`
}

// RawCommittee is one committee the bill was sent to.
type RawCommittee struct {
	Name *string `json:"nombre"`
	ID   *int    `json:"comisionId"`
}

// RawStep is one procedural event, newest first in the source.
type RawStep struct {
	Date      *SourceTime `json:"fecha"`
	Detail    *string     `json:"detalle"`
	Committee *string     `json:"desComisiones"`
	Files     []RawFile   `json:"archivos"`
}

// RawFile references an attachment by its opaque numeric id.
type RawFile struct {
	ID *json.Number `json:"proyectoArchivoId"`
}

type envelope struct {
	Data *struct {
		General    json.RawMessage `json:"general"`
		Signers    json.RawMessage `json:"firmantes"`
		Committees json.RawMessage `json:"comisiones"`
		Steps      json.RawMessage `json:"seguimientos"`
	} `json:"data"`
}

// Decode parses a payload body. Only an unreadable envelope is an error;
// a malformed section degrades to an empty one.
func Decode(body []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Payload{}, fmt.Errorf("decode bill envelope: %w", err)
	}
	if env.Data == nil {
		return Payload{}, fmt.Errorf("decode bill envelope: missing data section")
	}
	p := Payload{Raw: Sections{
		General:    env.Data.General,
		Signers:    env.Data.Signers,
		Committees: env.Data.Committees,
		Steps:      env.Data.Steps,
	}}
	if len(env.Data.General) > 0 && !isNull(env.Data.General) {
		if err := json.Unmarshal(env.Data.General, &p.General); err != nil {
			p.Problems = append(p.Problems, fmt.Sprintf("general: %v", err))
		}
	}
	p.Signers = decodeList[Signer](&p, "firmantes", env.Data.Signers)
	p.Committees = decodeList[RawCommittee](&p, "comisiones", env.Data.Committees)
	p.Steps = decodeList[RawStep](&p, "seguimientos", env.Data.Steps)
	return p, nil
}

// decodeList decodes a JSON array element by element. A malformed element
// becomes a zero value so positions are preserved.
func decodeList[T any](p *Payload, name string, raw json.RawMessage) []T {
	if len(raw) == 0 || isNull(raw) {
		return nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(raw, &elems); err != nil {
		p.Problems = append(p.Problems, fmt.Sprintf("%s: %v", name, err))
		return nil
	}
	out := make([]T, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &out[i]); err != nil {
			var zero T
			out[i] = zero
			p.Problems = append(p.Problems, fmt.Sprintf("%s[%d]: %v", name, i, err))
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// SourceTime accepts the date encodings seen in the source: ISO strings
// with or without zone and milliseconds, plain dates, and epoch millis.
type SourceTime struct {
	time.Time
}

var sourceLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

// UnmarshalJSON implements json.Unmarshaler. Unrecognized values decode to
// the zero time rather than failing the enclosing section.
func (t *SourceTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("source time: %w", err)
	}
	for _, layout := range sourceLayouts {
		if parsed, err := time.Parse(layout, str); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return nil
}

// Ptr returns the time or nil when it is unset.
func (t *SourceTime) Ptr() *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
