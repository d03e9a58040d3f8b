package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentPayload is the kind-specific body of a ComplianceDocument.
// Exactly one concrete type exists per DocumentKind.
type DocumentPayload interface {
	DocumentKind() DocumentKind
}

// payloadChecker adds rules that struct tags cannot express.
type payloadChecker interface {
	check() map[string]string
}

type ConventionParty struct {
	Role    Party  `json:"role" validate:"required,oneof=BENEFICIARY CONSULTANT ORGANIZATION"`
	Name    string `json:"name" validate:"required,max=255"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type ConventionPeriod struct {
	StartDate  time.Time `json:"start_date" validate:"required"`
	EndDate    time.Time `json:"end_date" validate:"required,gtfield=StartDate"`
	TotalHours int       `json:"total_hours" validate:"required,gt=0"`
}

// ConventionPayload is the tripartite agreement opening a case.
type ConventionPayload struct {
	Parties       []ConventionParty `json:"parties" validate:"required,len=3,dive"`
	Objectives    []string          `json:"objectives" validate:"required,min=1,dive,required"`
	Period        ConventionPeriod  `json:"period"`
	FinancerType  FinancerType      `json:"financer_type" validate:"required,oneof=CPF OPCO EMPLOYER PERSONAL"`
	FinancerName  string            `json:"financer_name"`
	Price         decimal.Decimal   `json:"price"`
	LegalMentions []string          `json:"legal_mentions" validate:"required,min=1,dive,required"`
}

func (ConventionPayload) DocumentKind() DocumentKind { return DocumentKindConvention }

func (p ConventionPayload) check() map[string]string {
	fields := map[string]string{}
	seen := map[Party]bool{}
	for i, party := range p.Parties {
		if seen[party.Role] {
			fields[fmt.Sprintf("Parties[%d].Role", i)] = "unique"
		}
		seen[party.Role] = true
	}
	if p.Price.IsNegative() {
		fields["Price"] = "gte"
	}
	return fields
}

// SignatureSlot is one marker of an attendance sheet.
type SignatureSlot struct {
	Marker   *string    `json:"marker"`
	SignedAt *time.Time `json:"signed_at"`
	ImageUrl string     `json:"image_url,omitempty"`
}

func (s SignatureSlot) Signed() bool { return s.Marker != nil }

// SignatureRecord holds the four markers of an attendance sheet.
// The sheet is complete once every marker is set.
type SignatureRecord struct {
	BeneficiaryArrival   SignatureSlot `json:"beneficiary_arrival"`
	BeneficiaryDeparture SignatureSlot `json:"beneficiary_departure"`
	ConsultantArrival    SignatureSlot `json:"consultant_arrival"`
	ConsultantDeparture  SignatureSlot `json:"consultant_departure"`
}

// Slot returns the marker for a party and event. Organizations do not sign attendance sheets.
func (r *SignatureRecord) Slot(party Party, event SignatureEvent) *SignatureSlot {
	switch {
	case party == PartyBeneficiary && event == SignatureEventArrival:
		return &r.BeneficiaryArrival
	case party == PartyBeneficiary && event == SignatureEventDeparture:
		return &r.BeneficiaryDeparture
	case party == PartyConsultant && event == SignatureEventArrival:
		return &r.ConsultantArrival
	case party == PartyConsultant && event == SignatureEventDeparture:
		return &r.ConsultantDeparture
	}
	return nil
}

func (r SignatureRecord) Complete() bool {
	return r.BeneficiaryArrival.Signed() && r.BeneficiaryDeparture.Signed() &&
		r.ConsultantArrival.Signed() && r.ConsultantDeparture.Signed()
}

// AttendanceSheetPayload covers one session of the case.
type AttendanceSheetPayload struct {
	SessionDate     time.Time       `json:"session_date" validate:"required"`
	DurationMinutes int             `json:"duration_minutes" validate:"required,gt=0,lte=720"`
	Topic           string          `json:"topic" validate:"required,max=255"`
	Location        string          `json:"location"`
	Remote          bool            `json:"remote"`
	Signatures      SignatureRecord `json:"signatures"`
}

func (AttendanceSheetPayload) DocumentKind() DocumentKind { return DocumentKindAttendanceSheet }

type ActionPlanStep struct {
	Action   string     `json:"action" validate:"required"`
	Deadline *time.Time `json:"deadline"`
}

// SynthesisPayload is the conclusion document handed to the beneficiary.
type SynthesisPayload struct {
	Narrative           string           `json:"narrative" validate:"required,min=20"`
	Strengths           []string         `json:"strengths" validate:"omitempty,dive,required"`
	DevelopmentAreas    []string         `json:"development_areas" validate:"omitempty,dive,required"`
	ProfessionalProject string           `json:"professional_project"`
	ActionPlan          []ActionPlanStep `json:"action_plan" validate:"omitempty,dive"`
	Generated           bool             `json:"generated"`
}

func (SynthesisPayload) DocumentKind() DocumentKind { return DocumentKindSynthesis }

// AttestationPayload certifies attendance over the whole engagement.
type AttestationPayload struct {
	BeneficiaryName string          `json:"beneficiary_name" validate:"required,max=255"`
	StartDate       time.Time       `json:"start_date" validate:"required"`
	EndDate         time.Time       `json:"end_date" validate:"required,gtefield=StartDate"`
	HoursCompleted  decimal.Decimal `json:"hours_completed"`
	IssuerName      string          `json:"issuer_name" validate:"required"`
}

func (AttestationPayload) DocumentKind() DocumentKind { return DocumentKindAttestation }

func (p AttestationPayload) check() map[string]string {
	fields := map[string]string{}
	if !p.HoursCompleted.IsPositive() {
		fields["HoursCompleted"] = "gt"
	}
	return fields
}

type CertificateLegalReferences struct {
	LaborCodeArticle            string `json:"labor_code_article" validate:"required"`
	QualiopiCertificationNumber string `json:"qualiopi_certification_number" validate:"required"`
	ActivityDeclarationNumber   string `json:"activity_declaration_number" validate:"required"`
}

// CertificatePayload is the completion certificate. Its integrity marker lives on the document.
type CertificatePayload struct {
	BeneficiaryName string                     `json:"beneficiary_name" validate:"required,max=255"`
	FinancerType    FinancerType               `json:"financer_type" validate:"required,oneof=CPF OPCO EMPLOYER PERSONAL"`
	RealizationRate *int                       `json:"realization_rate" validate:"required,gte=0,lte=100"`
	HoursCompleted  decimal.Decimal            `json:"hours_completed"`
	IssuerName      string                     `json:"issuer_name" validate:"required"`
	LegalReferences CertificateLegalReferences `json:"legal_references"`
}

func (CertificatePayload) DocumentKind() DocumentKind { return DocumentKindCertificate }

func (p CertificatePayload) check() map[string]string {
	fields := map[string]string{}
	if p.HoursCompleted.IsNegative() {
		fields["HoursCompleted"] = "gte"
	}
	return fields
}

func newPayload(kind DocumentKind) (DocumentPayload, error) {
	switch kind {
	case DocumentKindConvention:
		return &ConventionPayload{}, nil
	case DocumentKindAttendanceSheet:
		return &AttendanceSheetPayload{}, nil
	case DocumentKindSynthesis:
		return &SynthesisPayload{}, nil
	case DocumentKindAttestation:
		return &AttestationPayload{}, nil
	case DocumentKindCertificate:
		return &CertificatePayload{}, nil
	}
	return nil, NewValidationError("unknown document kind", map[string]string{"Kind": "oneof"})
}

// DecodePayload parses caller input strictly: unknown fields are a schema mismatch.
func DecodePayload(kind DocumentKind, raw []byte) (DocumentPayload, error) {
	p, err := newPayload(kind)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, NewValidationError("payload is required", map[string]string{"Payload": "required"})
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, NewValidationError(fmt.Sprintf("%s payload does not match its schema: %v", kind, err),
			map[string]string{"Payload": "schema"})
	}
	return p, nil
}

// decodeStoredPayload is lenient so older rows with extra fields still load.
func decodeStoredPayload(kind DocumentKind, raw []byte) (DocumentPayload, error) {
	p, err := newPayload(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// UnmarshalJSON restores the payload union by kind.
func (d *ComplianceDocument) UnmarshalJSON(data []byte) error {
	type alias ComplianceDocument
	aux := struct {
		*alias
		Payload json.RawMessage `json:"payload"`
	}{alias: (*alias)(d)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	d.Payload = nil
	if len(aux.Payload) > 0 && string(aux.Payload) != "null" {
		p, err := decodeStoredPayload(d.Kind, aux.Payload)
		if err != nil {
			return err
		}
		d.Payload = p
	}
	return nil
}
