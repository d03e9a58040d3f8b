package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ComplianceDocument is one of the five mandated documents of a case. Documents are never deleted.
// Payload holds the kind-specific body; it is persisted as JSON and decoded by Kind.
type ComplianceDocument struct {
	ID             string          `gorm:"type:char(36);primaryKey" json:"id"`
	CaseId         string          `gorm:"type:char(36);index;not null" json:"case_id"`
	SessionId      *string         `gorm:"size:64;index;default:null" json:"session_id,omitempty"`
	Kind           DocumentKind    `gorm:"type:enum('CONVENTION','ATTENDANCE_SHEET','SYNTHESIS','ATTESTATION','CERTIFICATE');not null;index" json:"kind"`
	Status         DocumentStatus  `gorm:"type:enum('DRAFT','VALID','SIGNED','FINALIZED');not null;index" json:"status"`
	DocumentNumber string          `gorm:"size:64;not null;uniqueIndex" json:"document_number"`
	// SingletonKey is "caseId|kind" for once-per-case kinds and null otherwise.
	SingletonKey   *string         `gorm:"size:64;uniqueIndex;default:null" json:"-"`
	Payload        DocumentPayload `gorm:"-" json:"payload"`
	PayloadJSON    datatypes.JSON  `gorm:"column:payload;type:json;not null" json:"-"`
	Signatures     PartySignatures `gorm:"-" json:"signatures,omitempty"`
	SignaturesJSON datatypes.JSON  `gorm:"column:signatures;type:json;default:null" json:"-"`
	IntegrityHash  string          `gorm:"size:64;default:null" json:"integrity_hash,omitempty"`
	IssuedAt       *time.Time      `gorm:"default:null" json:"issued_at,omitempty"`
	FinalizedAt    *time.Time      `gorm:"default:null" json:"finalized_at,omitempty"`
	ArchiveUrl     string          `gorm:"size:512;default:null" json:"archive_url,omitempty"`
	Version        int             `gorm:"not null;default:1" json:"version"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewComplianceDocument struct {
	CaseId    string          `json:"case_id" binding:"required"`
	Kind      DocumentKind    `json:"kind" binding:"required"`
	SessionId *string         `json:"session_id"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}

// PartySignatures records when each party signed a convention or synthesis.
type PartySignatures map[Party]time.Time

// Missing returns the required parties that have not signed yet, in a stable order.
func (s PartySignatures) Missing(required []Party) []Party {
	var out []Party
	for _, p := range required {
		if _, ok := s[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DocumentVersion is the append-only history of a document: one row per persisted version.
type DocumentVersion struct {
	ID         int            `gorm:"primary_key" json:"id"`
	DocumentId string         `gorm:"type:char(36);not null;index:uniq_doc_version,unique" json:"document_id"`
	Version    int            `gorm:"not null;index:uniq_doc_version,unique" json:"version"`
	Status     DocumentStatus `gorm:"size:20;not null" json:"status"`
	Snapshot   datatypes.JSON `gorm:"type:json;not null" json:"snapshot"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
}

func (d *ComplianceDocument) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.SingletonKey = d.CaseSingletonKey()
	return d.EncodeColumns()
}

// CaseSingletonKey is the value of the once-per-case unique index, nil for kinds a case may repeat.
func (d *ComplianceDocument) CaseSingletonKey() *string {
	if !d.Kind.OncePerCase() {
		return nil
	}
	key := d.CaseId + "|" + string(d.Kind)
	return &key
}

func (d *ComplianceDocument) BeforeSave(tx *gorm.DB) error {
	return d.EncodeColumns()
}

func (d *ComplianceDocument) AfterFind(tx *gorm.DB) error {
	return d.DecodeColumns()
}

// EncodeColumns serializes Payload and Signatures into their JSON columns.
func (d *ComplianceDocument) EncodeColumns() error {
	if d.Payload != nil {
		raw, err := json.Marshal(d.Payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", d.Kind, err)
		}
		d.PayloadJSON = datatypes.JSON(raw)
	}
	if len(d.Signatures) > 0 {
		raw, err := json.Marshal(d.Signatures)
		if err != nil {
			return fmt.Errorf("encode signatures: %w", err)
		}
		d.SignaturesJSON = datatypes.JSON(raw)
	}
	return nil
}

// DecodeColumns rebuilds Payload and Signatures from their JSON columns.
func (d *ComplianceDocument) DecodeColumns() error {
	if len(d.PayloadJSON) > 0 {
		p, err := decodeStoredPayload(d.Kind, d.PayloadJSON)
		if err != nil {
			return err
		}
		d.Payload = p
	}
	d.Signatures = nil
	if len(d.SignaturesJSON) > 0 && string(d.SignaturesJSON) != "null" {
		sigs := PartySignatures{}
		if err := json.Unmarshal(d.SignaturesJSON, &sigs); err != nil {
			return fmt.Errorf("decode signatures: %w", err)
		}
		d.Signatures = sigs
	}
	return nil
}

// Clone deep-copies the document through its JSON columns.
func (d *ComplianceDocument) Clone() (*ComplianceDocument, error) {
	if d == nil {
		return nil, nil
	}
	out := *d
	if err := out.EncodeColumns(); err != nil {
		return nil, err
	}
	out.PayloadJSON = append(datatypes.JSON(nil), out.PayloadJSON...)
	if out.SignaturesJSON != nil {
		out.SignaturesJSON = append(datatypes.JSON(nil), out.SignaturesJSON...)
	}
	if err := out.DecodeColumns(); err != nil {
		return nil, err
	}
	out.SessionId = cloneString(d.SessionId)
	out.IssuedAt = cloneTime(d.IssuedAt)
	out.FinalizedAt = cloneTime(d.FinalizedAt)
	return &out, nil
}

// Snapshot renders the document as stored in its version history.
func (d *ComplianceDocument) Snapshot() (datatypes.JSON, error) {
	if err := d.EncodeColumns(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
