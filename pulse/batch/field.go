package batch

import (
	"strconv"
	"strings"

	"github.com/teranos/hubrun/errors"
)

// FieldKind is the kind of value a remote app node field accepts
type FieldKind string

const (
	KindImage   FieldKind = "image"
	KindAudio   FieldKind = "audio"
	KindVideo   FieldKind = "video"
	KindText    FieldKind = "text"
	KindNumber  FieldKind = "number"
	KindEnum    FieldKind = "enum"
	KindBoolean FieldKind = "boolean"
)

// IsMedia reports whether values of this kind are uploaded as attachments
func (k FieldKind) IsMedia() bool {
	return k == KindImage || k == KindAudio || k == KindVideo
}

// KindForRemoteType maps the field type a remote app advertises to a FieldKind
func KindForRemoteType(remoteType string) (FieldKind, error) {
	switch strings.ToUpper(strings.TrimSpace(remoteType)) {
	case "IMAGE":
		return KindImage, nil
	case "AUDIO":
		return KindAudio, nil
	case "VIDEO":
		return KindVideo, nil
	case "STRING", "TEXT":
		return KindText, nil
	case "INT", "FLOAT", "NUMBER":
		return KindNumber, nil
	case "LIST", "ENUM", "SELECT":
		return KindEnum, nil
	case "SWITCH", "BOOLEAN":
		return KindBoolean, nil
	default:
		return "", errors.Newf("unknown remote field type %q", remoteType)
	}
}

// ParseFieldKind accepts a FieldKind name as written in job files
func ParseFieldKind(s string) (FieldKind, error) {
	switch k := FieldKind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindImage, KindAudio, KindVideo, KindText, KindNumber, KindEnum, KindBoolean:
		return k, nil
	}
	// Remote type names are accepted as well
	return KindForRemoteType(s)
}

// Value is the typed payload of a field. The concrete types are
// Attachment, Text, Number, Enum and Boolean.
type Value interface {
	Kind() FieldKind
}

// Attachment is an image, audio or video input. LocalPath is set while the
// file still has to be uploaded; RemoteName once the hub knows it.
type Attachment struct {
	Media      FieldKind
	LocalPath  string
	RemoteName string
}

func (a Attachment) Kind() FieldKind { return a.Media }

// Pending reports whether the attachment still has to be uploaded
func (a Attachment) Pending() bool { return a.RemoteName == "" }

type Text string

func (Text) Kind() FieldKind { return KindText }

type Number float64

func (Number) Kind() FieldKind { return KindNumber }

type Enum string

func (Enum) Kind() FieldKind { return KindEnum }

type Boolean bool

func (Boolean) Kind() FieldKind { return KindBoolean }

// NewAttachment references a local file that will be uploaded before submit
func NewAttachment(kind FieldKind, localPath string) (Attachment, error) {
	if !kind.IsMedia() {
		return Attachment{}, errors.Newf("%s fields cannot carry a file", kind)
	}
	if localPath == "" {
		return Attachment{}, errors.New("attachment needs a file path")
	}
	return Attachment{Media: kind, LocalPath: localPath}, nil
}

// NewRemoteAttachment references a file the hub already holds
func NewRemoteAttachment(kind FieldKind, remoteName string) (Attachment, error) {
	if !kind.IsMedia() {
		return Attachment{}, errors.Newf("%s fields cannot carry a file", kind)
	}
	if remoteName == "" {
		return Attachment{}, errors.New("remote attachment needs a file name")
	}
	return Attachment{Media: kind, RemoteName: remoteName}, nil
}

// ParseValue builds a scalar value of the given kind from its textual form.
// Media kinds go through NewAttachment or NewRemoteAttachment instead.
func ParseValue(kind FieldKind, raw string) (Value, error) {
	switch kind {
	case KindText:
		return Text(raw), nil
	case KindEnum:
		return Enum(raw), nil
	case KindNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid number %q", raw)
		}
		return Number(n), nil
	case KindBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid boolean %q", raw)
		}
		return Boolean(b), nil
	case KindImage, KindAudio, KindVideo:
		return nil, errors.Newf("%s values are attachments, not scalars", kind)
	default:
		return nil, errors.Newf("unknown field kind %q", kind)
	}
}

// WireValue renders a resolved value the way the hub expects it in fieldValue
func WireValue(v Value) (string, error) {
	switch val := v.(type) {
	case Attachment:
		if val.Pending() {
			return "", errors.AssertionFailedf("attachment %s was not uploaded before submit", val.LocalPath)
		}
		return val.RemoteName, nil
	case Text:
		return string(val), nil
	case Enum:
		return string(val), nil
	case Number:
		return strconv.FormatFloat(float64(val), 'f', -1, 64), nil
	case Boolean:
		return strconv.FormatBool(bool(val)), nil
	case nil:
		return "", errors.New("field has no value")
	default:
		return "", errors.AssertionFailedf("unsupported field value %T", v)
	}
}

// Field assigns a value to one field of one node of the remote app
type Field struct {
	NodeID string
	Name   string
	Value  Value
}
