package phoneradio

import (
	"fmt"

	"github.com/nedpals/davi-nfc-bridge/nfc"
	"github.com/nedpals/davi-nfc-bridge/protocol"
)

// ConvertTagData builds the raw tag a phone reported. Capabilities start
// from what the tag family implies and are narrowed by what the phone
// measured on the actual tag.
func ConvertTagData(data protocol.DeviceTagData) (nfc.RawTag, error) {
	uid, err := protocol.ParseUID(data.UID)
	if err != nil {
		return nfc.RawTag{}, fmt.Errorf("invalid tag uid: %w", err)
	}
	if data.TechKind == "" {
		return nfc.RawTag{}, fmt.Errorf("tag %s has no technology", data.UID)
	}
	kind, err := nfc.ParseTechKind(data.TechKind)
	if err != nil {
		return nfc.RawTag{}, err
	}

	caps, inferred := nfc.InferCapabilities(data.Family)
	techs := make([]nfc.TechKind, 0, len(data.TechTypes))
	for _, t := range data.TechTypes {
		k, err := nfc.ParseTechKind(t)
		if err != nil {
			continue
		}
		techs = append(techs, k)
	}
	if len(techs) == 0 {
		techs = inferred
	}

	caps.Writable = data.Writable
	caps.CanMakeReadOnly = data.CanMakeReadOnly
	if data.MaxNdefSize > 0 {
		caps.MaxNdefSize = data.MaxNdefSize
	}
	if data.MaxTransceiveLength > 0 {
		caps.MaxTransceiveLength = data.MaxTransceiveLength
	}

	return nfc.RawTag{
		UID:          uid,
		Kind:         kind,
		TechTypes:    techs,
		Capabilities: caps,
		Ndef:         data.NdefMessage,
	}, nil
}

// ErrorFromInfo maps an error reported by a phone onto the bridge error
// taxonomy. Unknown codes become TagRejected.
func ErrorFromInfo(op string, info *protocol.ErrorInfo) error {
	if info == nil {
		return nil
	}
	code, ok := nfc.ParseErrorCode(info.Code)
	if !ok {
		code = nfc.ErrCodeTagRejected
	}
	return nfc.Errorf(code, op, "%s", info.Message)
}
