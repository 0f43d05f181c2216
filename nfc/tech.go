package nfc

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TechSet selects what a session polls for.
type TechSet string

const (
	// TechSetNDEF reads NDEF content on discovery; the reader may end the
	// session after the first read.
	TechSetNDEF TechSet = "ndef"
	// TechSetTag connects to the tag for raw command exchange.
	TechSetTag TechSet = "tag"
)

func ParseTechSet(s string) (TechSet, error) {
	switch strings.ToLower(s) {
	case "ndef":
		return TechSetNDEF, nil
	case "tag", "":
		return TechSetTag, nil
	}
	return "", NewInvalidArgumentError("ParseTechSet", "unknown tech set %q", s)
}

// TechKind identifies a tag technology, using the names callers of the
// bridge already know from the mobile platforms.
type TechKind string

const (
	TechNdef             TechKind = "Ndef"
	TechNfcA             TechKind = "NfcA"
	TechNfcB             TechKind = "NfcB"
	TechNfcF             TechKind = "NfcF"
	TechNfcV             TechKind = "NfcV"
	TechIsoDep           TechKind = "IsoDep"
	TechMifareClassic    TechKind = "MifareClassic"
	TechMifareUltralight TechKind = "MifareUltralight"
	TechFelica           TechKind = "Felica"
	TechIso15693         TechKind = "Iso15693"
	TechNdefFormatable   TechKind = "NdefFormatable"
)

var knownTechs = []TechKind{
	TechNdef, TechNfcA, TechNfcB, TechNfcF, TechNfcV, TechIsoDep,
	TechMifareClassic, TechMifareUltralight, TechFelica, TechIso15693, TechNdefFormatable,
}

func ParseTechKind(s string) (TechKind, error) {
	for _, k := range knownTechs {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", NewInvalidArgumentError("ParseTechKind", "unknown technology %q", s)
}

// RawTag is what a radio reports when it detects a tag.
type RawTag struct {
	UID          []byte
	Kind         TechKind   // primary technology the radio connected with
	TechTypes    []TechKind // every technology the tag exposes
	Capabilities Capabilities
	// Ndef holds the NDEF message when the radio read it during discovery.
	Ndef []byte
}

// HasTech reports whether the tag exposes kind.
func (t RawTag) HasTech(kind TechKind) bool {
	if t.Kind == kind {
		return true
	}
	for _, k := range t.TechTypes {
		if k == kind {
			return true
		}
	}
	return false
}

// TagRef identifies a connected tag towards the radio.
type TagRef struct {
	ID   string
	UID  []byte
	Kind TechKind
}

// TagSummary is the caller-visible snapshot of a TagHandle.
type TagSummary struct {
	ID           string       `json:"id"`
	UID          string       `json:"uid"`
	Kind         TechKind     `json:"techKind"`
	TechTypes    []TechKind   `json:"techTypes"`
	Capabilities Capabilities `json:"capabilities"`
	Ndef         []byte       `json:"ndefMessage,omitempty"`
}

// TagHandle is a connected tag inside a session. It is created and mutated
// only on the manager strand; callers see TagSummary copies.
type TagHandle struct {
	id         string
	generation uint64
	raw        RawTag
	caps       Capabilities
	valid      bool
}

func newTagHandle(sessionID string, generation uint64, seq int, raw RawTag) *TagHandle {
	caps := raw.Capabilities
	caps.Opcodes = append([]Opcode(nil), raw.Capabilities.Opcodes...)
	return &TagHandle{
		id:         fmt.Sprintf("%s/%d", sessionID, seq),
		generation: generation,
		raw:        raw,
		caps:       caps,
		valid:      true,
	}
}

func (h *TagHandle) ID() string { return h.id }

// Valid reports whether the handle still refers to a connected tag.
func (h *TagHandle) Valid() bool { return h != nil && h.valid }

func (h *TagHandle) invalidate() {
	if h != nil {
		h.valid = false
	}
}

func (h *TagHandle) ref() TagRef {
	return TagRef{ID: h.id, UID: h.raw.UID, Kind: h.raw.Kind}
}

// Summary returns a copy safe to hand outside the strand.
func (h *TagHandle) Summary() TagSummary {
	techs := h.raw.TechTypes
	if len(techs) == 0 && h.raw.Kind != "" {
		techs = []TechKind{h.raw.Kind}
	}
	caps := h.caps
	caps.Opcodes = append([]Opcode(nil), h.caps.Opcodes...)
	return TagSummary{
		ID:           h.id,
		UID:          strings.ToUpper(hex.EncodeToString(h.raw.UID)),
		Kind:         h.raw.Kind,
		TechTypes:    append([]TechKind(nil), techs...),
		Capabilities: caps,
		Ndef:         append([]byte(nil), h.raw.Ndef...),
	}
}
