package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch {
	case subject == SubjectGuardianEvents:
		// Worker events are a tagged union; Ingress parses and validates
		// the variant itself. Accept any valid JSON here.
		return nil
	case strings.HasPrefix(subject, SubjectCommandPrefix):
		var cmd CommandPayload
		if err := json.Unmarshal(data, &cmd); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if cmd.Type != CommandTakeover && cmd.Type != CommandRelease {
			return fmt.Errorf("unknown command type %q on %s", cmd.Type, subject)
		}
		if cmd.SessionID == "" {
			return fmt.Errorf("command on %s missing session_id", subject)
		}
		return nil
	default:
		return nil
	}
}
