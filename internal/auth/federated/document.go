// Package federated decodes and validates federated identity documents
// passed by an upstream gateway that already authenticated the caller.
package federated

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Document types. A document describes either a human user or a
// machine system account.
const (
	TypeUser   = "User"
	TypeSystem = "System"
)

var (
	// ErrEmptyDocument indicates a missing identity header.
	ErrEmptyDocument = errors.New("identity document is empty")

	// ErrBadEncoding indicates the header was not valid base64 JSON.
	ErrBadEncoding = errors.New("identity document is not valid base64 JSON")

	// ErrNotEntitled indicates the required entitlement is absent or
	// not granted.
	ErrNotEntitled = errors.New("identity lacks the required entitlement")
)

// FieldError reports a structurally invalid document, naming the field
// that failed validation.
type FieldError struct {
	// Field is the dotted path of the offending field.
	Field string

	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid identity document: field %s: %s", e.Field, e.Message)
}

func fieldErr(field, message string) *FieldError {
	return &FieldError{Field: field, Message: message}
}

// Entitlement is a named grant inside a user document.
type Entitlement struct {
	Entitled bool `json:"entitled"`
}

// User is the payload of a user document.
type User struct {
	UID          string                 `json:"uid"`
	CN           string                 `json:"cn"`
	Entitlements map[string]Entitlement `json:"entitlements"`
}

// System is the payload of a system document.
type System struct {
	UID string `json:"uid"`
	CN  string `json:"cn"`
}

// Document is a federated identity document.
type Document struct {
	Type   string  `json:"type"`
	User   *User   `json:"user,omitempty"`
	System *System `json:"system,omitempty"`
}

// Subject returns the stable subject identifier of the document.
func (d *Document) Subject() string {
	switch d.Type {
	case TypeUser:
		return d.User.UID
	case TypeSystem:
		return d.System.UID
	}
	return ""
}

// DisplayName returns the common name of the document.
func (d *Document) DisplayName() string {
	switch d.Type {
	case TypeUser:
		return d.User.CN
	case TypeSystem:
		return d.System.CN
	}
	return ""
}

// Claims flattens the document into a claim map for role resolution.
func (d *Document) Claims() map[string]interface{} {
	claims := map[string]interface{}{
		"type": d.Type,
	}
	switch d.Type {
	case TypeUser:
		entitled := make([]interface{}, 0, len(d.User.Entitlements))
		for name, e := range d.User.Entitlements {
			if e.Entitled {
				entitled = append(entitled, name)
			}
		}
		claims["uid"] = d.User.UID
		claims["cn"] = d.User.CN
		claims["entitlements"] = entitled
	case TypeSystem:
		claims["uid"] = d.System.UID
		claims["cn"] = d.System.CN
	}
	return claims
}

// Decode parses a base64-encoded JSON identity document and validates
// its structure.
func Decode(encoded string) (*Document, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, ErrEmptyDocument
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEncoding, err)
	}

	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// validate checks the document field by field so rejections name the
// exact field at fault.
func (d *Document) validate() error {
	switch d.Type {
	case TypeUser:
		if d.User == nil {
			return fieldErr("user", "required for type User")
		}
		if d.User.UID == "" {
			return fieldErr("user.uid", "required")
		}
		if d.User.CN == "" {
			return fieldErr("user.cn", "required")
		}
	case TypeSystem:
		if d.System == nil {
			return fieldErr("system", "required for type System")
		}
		if d.System.UID == "" {
			return fieldErr("system.uid", "required")
		}
		if d.System.CN == "" {
			return fieldErr("system.cn", "required")
		}
	case "":
		return fieldErr("type", "required")
	default:
		return fieldErr("type", fmt.Sprintf("unknown document type %q", d.Type))
	}
	return nil
}

// CheckEntitlement verifies that a user document carries the named
// entitlement with entitled set. System documents are exempt, they are
// trusted machine accounts.
func (d *Document) CheckEntitlement(name string) error {
	if name == "" || d.Type == TypeSystem {
		return nil
	}
	e, ok := d.User.Entitlements[name]
	if !ok || !e.Entitled {
		return fmt.Errorf("%w: %s", ErrNotEntitled, name)
	}
	return nil
}
