package crash

import "strconv"

// Action is the verdict for one crash record.
type Action int

// Verdicts.
const (
	ActionRemove Action = iota
	ActionIgnore
	ActionSend
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case ActionRemove:
		return "remove"
	case ActionIgnore:
		return "ignore"
	case ActionSend:
		return "send"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

// RemoveReason names the rule behind a Remove verdict. Values are
// persisted in metrics and must not be renumbered; 0 and 13 are retired.
type RemoveReason int

// Remove reasons.
const (
	ReasonNotOfficialImage     RemoveReason = 1
	ReasonNoMetricsConsent     RemoveReason = 2
	ReasonProcessingFileExists RemoveReason = 3
	ReasonLargeMetaFile        RemoveReason = 4
	ReasonUnparseableMetaFile  RemoveReason = 5
	ReasonPayloadUnspecified   RemoveReason = 6
	ReasonPayloadAbsolute      RemoveReason = 7
	ReasonPayloadNonexistent   RemoveReason = 8
	ReasonPayloadKindUnknown   RemoveReason = 9
	ReasonOSVersionTooOld      RemoveReason = 10
	ReasonOldIncompleteMeta    RemoveReason = 11
	ReasonFinishedUploading    RemoveReason = 12
	ReasonDevcoreNotAllowed    RemoveReason = 14
)

var reasonNames = map[RemoveReason]string{
	ReasonNotOfficialImage:     "NotOfficialImage",
	ReasonNoMetricsConsent:     "NoMetricsConsent",
	ReasonProcessingFileExists: "ProcessingFileExists",
	ReasonLargeMetaFile:        "LargeMetaFile",
	ReasonUnparseableMetaFile:  "UnparseableMetaFile",
	ReasonPayloadUnspecified:   "PayloadUnspecified",
	ReasonPayloadAbsolute:      "PayloadAbsolute",
	ReasonPayloadNonexistent:   "PayloadNonexistent",
	ReasonPayloadKindUnknown:   "PayloadKindUnknown",
	ReasonOSVersionTooOld:      "OSVersionTooOld",
	ReasonOldIncompleteMeta:    "OldIncompleteMeta",
	ReasonFinishedUploading:    "FinishedUploading",
	ReasonDevcoreNotAllowed:    "DevcoreNotAllowed",
}

// String implements fmt.Stringer.
func (r RemoveReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}

	return "RemoveReason(" + strconv.Itoa(int(r)) + ")"
}

// IsPolicy reports whether the reason is a policy rejection rather than
// structural corruption of the record.
func (r RemoveReason) IsPolicy() bool {
	switch r {
	case ReasonNotOfficialImage, ReasonNoMetricsConsent, ReasonDevcoreNotAllowed:
		return true
	default:
		return false
	}
}
