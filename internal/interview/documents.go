package interview

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
)

// Kind names one category of uploaded document.
type Kind string

// Document kinds checked by the interview. The set is open: unknown kinds are
// stored and reported but carry no scoring rule.
const (
	KindPassport            Kind = "passport"
	KindFinancialProof      Kind = "financialProof"
	KindSupportingDocuments Kind = "supportingDocuments"
)

// kindAliases maps legacy client keys onto their canonical kind.
var kindAliases = map[string]Kind{
	"supportingDocs": KindSupportingDocuments,
}

// Attachment describes one uploaded file. Only the metadata is kept; file
// contents are never inspected.
type Attachment struct {
	Name     string `json:"name"`
	Size     int64  `json:"size,omitempty"`
	MIMEType string `json:"type,omitempty"`
}

// Present reports whether the attachment names an actual file.
func (a Attachment) Present() bool {
	return strings.TrimSpace(a.Name) != ""
}

// DocumentSet maps document kinds to their attachment.
//
// A nil DocumentSet means the applicant has not opened the upload step at all,
// which the officer persona is told differently from an empty set.
type DocumentSet map[Kind]Attachment

// Has reports whether kind maps to a present attachment.
func (d DocumentSet) Has(kind Kind) bool {
	a, ok := d[kind]
	return ok && a.Present()
}

// Clone returns an independent copy of d. Cloning nil returns nil.
func (d DocumentSet) Clone() DocumentSet {
	if d == nil {
		return nil
	}
	return maps.Clone(d)
}

// Merge returns a new set holding d plus every present attachment of other.
// Kinds present in other replace those in d; nothing is ever removed.
func (d DocumentSet) Merge(other DocumentSet) DocumentSet {
	out := make(DocumentSet, len(d)+len(other))
	maps.Copy(out, d)
	for k, a := range other {
		if a.Present() {
			out[k] = a
		}
	}
	return out
}

// UnmarshalJSON accepts the shapes clients send for each kind: a descriptor
// object, a bare file name, a list of either (the first present entry wins) or
// null. The legacy key "supportingDocs" is folded into supportingDocuments.
func (d *DocumentSet) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("interview: decode documents: %w", err)
	}

	out := make(DocumentSet, len(raw))
	for key, value := range raw {
		a, err := decodeAttachment(value)
		if err != nil {
			return fmt.Errorf("interview: decode document %q: %w", key, err)
		}
		if !a.Present() {
			continue
		}
		kind, isAlias := kindAliases[key]
		if !isAlias {
			kind = Kind(key)
		} else if out.Has(kind) {
			// The canonical key wins over its alias.
			continue
		}
		out[kind] = a
	}
	*d = out
	return nil
}

func decodeAttachment(data json.RawMessage) (Attachment, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Attachment{}, nil
	}

	switch trimmed[0] {
	case '"':
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return Attachment{}, err
		}
		return Attachment{Name: name}, nil
	case '{':
		var a Attachment
		if err := json.Unmarshal(trimmed, &a); err != nil {
			return Attachment{}, err
		}
		return a, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return Attachment{}, err
		}
		for _, item := range items {
			a, err := decodeAttachment(item)
			if err != nil {
				return Attachment{}, err
			}
			if a.Present() {
				return a, nil
			}
		}
		return Attachment{}, nil
	default:
		// null, booleans and numbers carry no file.
		return Attachment{}, nil
	}
}

// StatusBlock renders the document summary appended to the officer's system
// prompt.
func (d DocumentSet) StatusBlock() string {
	if d == nil {
		return "\n\n[DOCUMENT STATUS]: No documents uploaded yet."
	}

	var b strings.Builder
	b.WriteString("\n\n[DOCUMENT STATUS]:")
	if d.Has(KindPassport) {
		b.WriteString("\n✅ Passport: Provided")
	} else {
		b.WriteString("\n❌ Passport: MISSING (CRITICAL - Cannot proceed without passport)")
	}
	if d.Has(KindFinancialProof) {
		b.WriteString("\n✅ Financial Proof: Provided")
	} else {
		b.WriteString("\n⚠️ Financial Proof: MISSING (Bank statements required)")
	}
	if d.Has(KindSupportingDocuments) {
		b.WriteString("\n✅ Supporting Documents: Provided")
	} else {
		b.WriteString("\n⚠️ Supporting Documents: MISSING (Employment letter, invitation, etc.)")
	}
	return b.String()
}
