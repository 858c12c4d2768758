// Package domain provides typed identifiers shared across modules.
//
// IDs are distinct UUID types so the compiler rejects cross-type assignment
// (a CertificateID can never be passed where a BatchID is expected). Parse
// functions enforce the trust-boundary invariant that IDs are valid,
// non-empty, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "coursecert/pkg/domain-errors"
)

type (
	// CertificateID identifies a single physical-certificate record.
	CertificateID uuid.UUID
	// BatchID identifies a fulfillment batch.
	BatchID uuid.UUID
	// StudentID references the student a certificate belongs to.
	StudentID uuid.UUID
	// CourseID references the completed course.
	CourseID uuid.UUID
	// ActorID identifies the administrator triggering an operation.
	ActorID uuid.UUID
)

func (id CertificateID) String() string { return uuid.UUID(id).String() }
func (id BatchID) String() string       { return uuid.UUID(id).String() }
func (id StudentID) String() string     { return uuid.UUID(id).String() }
func (id CourseID) String() string      { return uuid.UUID(id).String() }
func (id ActorID) String() string       { return uuid.UUID(id).String() }

func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id BatchID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id StudentID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id CourseID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }

// The defined types do not inherit uuid.UUID's text marshalling, so without
// these methods encoding/json renders an ID as a 16-element byte array.

func (id CertificateID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id BatchID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id StudentID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id CourseID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id ActorID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }

func (id *CertificateID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *BatchID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *StudentID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *CourseID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

func (id *ActorID) UnmarshalText(text []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(text)
}

// NewCertificateID returns a fresh random certificate ID.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }

// NewBatchID returns a fresh random batch ID.
func NewBatchID() BatchID { return BatchID(uuid.New()) }

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}

// ParseCertificateID parses and validates a certificate ID.
func ParseCertificateID(raw string) (CertificateID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return CertificateID{}, err
	}
	return CertificateID(parsed), nil
}

// ParseBatchID parses and validates a batch ID.
func ParseBatchID(raw string) (BatchID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return BatchID{}, err
	}
	return BatchID(parsed), nil
}

// ParseStudentID parses and validates a student ID.
func ParseStudentID(raw string) (StudentID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return StudentID{}, err
	}
	return StudentID(parsed), nil
}

// ParseCourseID parses and validates a course ID.
func ParseCourseID(raw string) (CourseID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return CourseID{}, err
	}
	return CourseID(parsed), nil
}

// ParseActorID parses and validates an actor ID.
func ParseActorID(raw string) (ActorID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return ActorID{}, err
	}
	return ActorID(parsed), nil
}
